// Package notify parses inbound bank-email payloads into structured
// notification records and archives the ones no candidate matched.
package notify

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// RawExcerptLimit bounds how much of the raw payload is retained.
const RawExcerptLimit = 500

// ErrNoAmount is returned when no transfer amount can be found.
var ErrNoAmount = errors.New("notification carries no amount")

// Notification is a parsed bank transfer notification. Ephemeral: produced
// here, consumed once by the matcher, retained only if unmatched.
type Notification struct {
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Reference  string          `json:"reference,omitempty"`
	RawExcerpt string          `json:"raw_excerpt,omitempty"`
}

// envelope is the pub/sub style transport wrapper some senders use.
type envelope struct {
	Message struct {
		Data string `json:"data"`
	} `json:"message"`
}

// bodyDoc is the flat JSON shape of a decoded bank notification.
type bodyDoc struct {
	Amount    flexNumber `json:"amount"`
	Timestamp string     `json:"timestamp"`
	Reference string     `json:"reference"`
	Text      string     `json:"text"`
}

// flexNumber accepts an amount sent as either a JSON number or a string,
// since bank senders are not consistent about which they use.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	*f = flexNumber(strings.Trim(string(b), `"`))
	return nil
}

var (
	textAmount = regexp.MustCompile(`(?i)(?:amount|received|จำนวนเงิน|จำนวน|เงินเข้า)\s*[:：]?\s*(?:THB|฿|บาท)?\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)`)
	bareAmount = regexp.MustCompile(`\b([0-9]{1,3}(?:,[0-9]{3})*\.[0-9]{2})\b`)
	refPattern = regexp.MustCompile(`(?i)(?:ref(?:erence)?\s*(?:no\.?|number)?|รายการที่)\s*[:：]?\s*([A-Za-z0-9-]{6,32})`)
)

// Parse accepts either a {message:{data: base64}} envelope or a bare JSON or
// text body, and extracts amount, timestamp and optional reference.
// The timestamp falls back to now when the payload carries none.
func Parse(payload []byte, now time.Time) (Notification, error) {
	body := unwrap(payload)

	n := Notification{Timestamp: now, RawExcerpt: truncate(string(body))}

	var doc bodyDoc
	if err := json.Unmarshal(body, &doc); err == nil {
		if doc.Amount != "" && doc.Amount != "null" {
			if amount, err := decimal.NewFromString(strings.ReplaceAll(string(doc.Amount), ",", "")); err == nil && amount.IsPositive() {
				n.Amount = amount
			}
		}
		if ts, ok := parseTimestamp(doc.Timestamp); ok {
			n.Timestamp = ts
		}
		n.Reference = doc.Reference
		if n.Amount.IsZero() && doc.Text != "" {
			body = []byte(doc.Text)
		}
	}

	if n.Amount.IsZero() {
		if amount, ok := scanTextAmount(string(body)); ok {
			n.Amount = amount
		}
	}
	if n.Reference == "" {
		if m := refPattern.FindStringSubmatch(string(body)); m != nil {
			n.Reference = m[1]
		}
	}

	if n.Amount.IsZero() {
		return Notification{}, ErrNoAmount
	}
	return n, nil
}

// unwrap decodes the pub/sub envelope if present.
func unwrap(payload []byte) []byte {
	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Message.Data != "" {
		if decoded, err := base64.StdEncoding.DecodeString(env.Message.Data); err == nil {
			return decoded
		}
	}
	return payload
}

func scanTextAmount(text string) (decimal.Decimal, bool) {
	for _, re := range []*regexp.Regexp{textAmount, bareAmount} {
		if m := re.FindStringSubmatch(text); m != nil {
			raw := strings.ReplaceAll(m[1], ",", "")
			if amount, err := decimal.NewFromString(raw); err == nil && amount.IsPositive() {
				return amount, true
			}
		}
	}
	return decimal.Zero, false
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	// Epoch seconds or milliseconds.
	var epoch int64
	if err := json.Unmarshal([]byte(raw), &epoch); err == nil && epoch > 0 {
		if epoch > 1e12 {
			return time.UnixMilli(epoch), true
		}
		return time.Unix(epoch, 0), true
	}
	return time.Time{}, false
}

func truncate(s string) string {
	if len(s) <= RawExcerptLimit {
		return s
	}
	cut := s[:RawExcerptLimit]
	// Do not split a multibyte rune at the boundary.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
