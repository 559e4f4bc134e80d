package risk

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRuleSet(t *testing.T) {
	path := writeRulesFile(t, `
- name: midsize_transfer
  expr: 'class == "transfer" && amount > 50000.0'
  weight: 10
- name: deposit_burst
  expr: 'deposits_24h > 10'
  weight: 15
`)

	rules, err := LoadRuleSet(path, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 2, rules.Len())

	hits := rules.EvalTransaction(context.Background(), Transaction{
		UserID:    "u1",
		Class:     TxTransfer,
		Amount:    decimal.NewFromInt(60000),
		Timestamp: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
	})
	require.Len(t, hits, 1)
	assert.Equal(t, RuleHit{Name: "midsize_transfer", Weight: 10}, hits[0])
}

func TestLoadRuleSetRejectsBadExpression(t *testing.T) {
	path := writeRulesFile(t, `
- name: broken
  expr: 'amount >>> 5'
  weight: 1
`)

	_, err := LoadRuleSet(path, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadRuleSetRejectsMalformedEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "- expr: 'amount > 1.0'\n  weight: 1\n", "has no name"},
		{"missing expr", "- name: nameless\n  weight: 1\n", "has no expression"},
		{"duplicate name", "- name: dup\n  expr: 'amount > 1.0'\n  weight: 1\n- name: dup\n  expr: 'amount > 2.0'\n  weight: 2\n", "duplicate"},
		{"not yaml", "{{{", "parse rules file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRulesFile(t, tt.content)
			_, err := LoadRuleSet(path, slog.Default())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRuleSetMissingFile(t *testing.T) {
	_, err := LoadRuleSet(filepath.Join(t.TempDir(), "nope.yaml"), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read rules file")
}
