package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "en"},
		{"en", "en"},
		{"th", "th"},
		{"th-TH", "th"},
		{"zh-CN", "zh"},
		{"km", "km"},
		{"ko-KR", "ko"},
		{"id", "id"},
		{"fr", "en"},
		{"not a tag!!", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.in))
		})
	}
}

func TestT(t *testing.T) {
	assert.Equal(t, "Slip received and queued for bank confirmation", T("slip_received", "en"))
	assert.Equal(t, "ได้รับสลิปแล้ว กำลังรอการยืนยันจากธนาคาร", T("slip_received", "th"))
	assert.Equal(t, "已收到转账凭证，等待银行确认", T("slip_received", "zh-Hans"))

	// Unsupported language falls back to English.
	assert.Equal(t, T("slip_received", "en"), T("slip_received", "de"))

	// Unknown keys return the key itself rather than an empty string.
	assert.Equal(t, "no_such_key", T("no_such_key", "en"))
}

func TestEveryKeyHasAllLanguages(t *testing.T) {
	langs := []string{"en", "th", "zh", "km", "ko", "id"}
	for key, entry := range messages {
		for _, lang := range langs {
			assert.NotEmptyf(t, entry[lang], "message %q missing language %q", key, lang)
		}
	}
}
