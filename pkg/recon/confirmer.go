// Package recon matches bank notifications against pending slip candidates
// and drives deposit confirmation or escalation.
package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrConfirmTimeout marks a confirmation attempt that timed out. The caller
// leaves the candidate pending so a redelivery can retry.
var ErrConfirmTimeout = errors.New("deposit confirmation timed out")

// ConfirmRequest is the payload sent to the banking ledger.
type ConfirmRequest struct {
	UserID    string          `json:"userId"`
	DepositID string          `json:"depositId"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
}

// Confirmer issues the external deposit confirmation call. Implementations
// must be idempotent per deposit ID: confirming the same deposit twice is the
// second line of defense behind the pool's compare-and-delete.
type Confirmer interface {
	ConfirmDeposit(ctx context.Context, req ConfirmRequest) error
}

// HTTPConfirmer calls the banking ledger's confirmation endpoint.
type HTTPConfirmer struct {
	url     string
	secret  string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPConfirmer creates a confirmer with a bounded per-call timeout.
func NewHTTPConfirmer(url, secret string, timeout time.Duration) *HTTPConfirmer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPConfirmer{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (c *HTTPConfirmer) ConfirmDeposit(ctx context.Context, req ConfirmRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal confirm request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build confirm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Internal-Secret", c.secret)
	// The ledger deduplicates on this key, making redelivered confirmations safe.
	httpReq.Header.Set("Idempotency-Key", req.DepositID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrConfirmTimeout, err)
		}
		return fmt.Errorf("confirm deposit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("confirm deposit: ledger returned %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
