// Package extract turns raw slip-submission payloads into structured
// candidate fields (amount, bank, account, date) with a confidence score.
//
// Extraction is a pure function over its input: no storage, no network.
// Each field is extracted independently and tolerates the others failing;
// the weighted confidence score decides whether the overall result is
// usable for reconciliation.
package extract

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// MaxDecodedBytes caps the decoded slip payload size.
const MaxDecodedBytes = 2_800_000

// validThreshold is the minimum normalized confidence for a usable result.
const validThreshold = 0.60

// Confidence weights per identified field, out of 100.
const (
	weightAmount  = 40
	weightBank    = 25
	weightAccount = 20
	weightDate    = 15
)

var (
	// ErrEmpty is returned for payloads with no content after decoding.
	ErrEmpty = errors.New("slip payload is empty")
	// ErrTooLarge is returned when the decoded payload exceeds MaxDecodedBytes.
	ErrTooLarge = errors.New("slip payload too large")
)

// Field names reported in Result.Missing.
const (
	FieldAmount  = "amount"
	FieldBank    = "bank"
	FieldAccount = "account"
	FieldDate    = "date"
)

// Input is a raw slip submission.
type Input struct {
	// Payload is the slip text, possibly base64-wrapped.
	Payload string
	// LangHint forces language detection when non-empty ("th" or "en").
	LangHint string
	// Now is the processing time used for date fallback. Zero means time.Now.
	Now time.Time
}

// Result is the structured outcome of a slip extraction.
type Result struct {
	Amount      decimal.Decimal
	AmountFound bool
	Bank        string
	Account     string
	Date        time.Time
	DateFound   bool
	Language    Language
	// Confidence is the normalized weighted score in [0,1].
	Confidence float64
	// Valid reports whether the result can enter the pending pool.
	Valid bool
	// Unreadable marks payloads that decoded to mostly non-text bytes.
	// Such results carry zero confidence but are still auditable records.
	Unreadable bool
	// Missing lists the fields that could not be identified.
	Missing []string
}

// Extract runs the extraction pipeline over a slip submission.
//
// Oversized and empty payloads fail with ErrTooLarge/ErrEmpty. Payloads that
// decode to mostly non-printable bytes return a zero-confidence Result with
// Unreadable set and a nil error: the caller must still be able to create an
// auditable record for the submission.
func Extract(in Input) (Result, error) {
	text, err := decodePayload(in.Payload)
	if err != nil {
		return Result{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	if unreadableRatio(text) > 0.40 {
		return Result{
			Language:   detectLanguage(text, in.LangHint),
			Date:       now,
			Unreadable: true,
			Missing:    []string{FieldAmount, FieldBank, FieldAccount, FieldDate},
		}, nil
	}

	text = norm.NFC.String(text)

	res := Result{Language: detectLanguage(text, in.LangHint)}
	score := 0

	if amount, ok := extractAmount(text); ok {
		res.Amount = amount
		res.AmountFound = true
		score += weightAmount
	} else {
		res.Missing = append(res.Missing, FieldAmount)
	}

	if bank, ok := extractBank(text); ok {
		res.Bank = bank
		score += weightBank
	} else {
		res.Missing = append(res.Missing, FieldBank)
	}

	if account, ok := extractAccount(text); ok {
		res.Account = account
		score += weightAccount
	} else {
		res.Missing = append(res.Missing, FieldAccount)
	}

	if date, ok := extractDate(text, now); ok {
		res.Date = date
		res.DateFound = true
		score += weightDate
	} else {
		res.Date = now
		res.Missing = append(res.Missing, FieldDate)
	}

	res.Confidence = float64(score) / 100.0
	res.Valid = res.Confidence >= validThreshold && tolerableMissing(res.Missing)

	return res, nil
}

// tolerableMissing reports whether every missing field is one the matcher can
// live without. Account absence is tolerated; a missing date only costs
// confidence since processing time substitutes for it.
func tolerableMissing(missing []string) bool {
	for _, f := range missing {
		if f != FieldAccount && f != FieldDate {
			return false
		}
	}
	return true
}

var dataURIPrefix = regexp.MustCompile(`^data:[a-z]+/[a-z0-9.+-]+;base64,`)

// decodePayload unwraps optional base64 encoding and enforces size limits.
func decodePayload(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", ErrEmpty
	}
	if len(trimmed) > MaxDecodedBytes*4/3+4 {
		return "", ErrTooLarge
	}

	candidate := dataURIPrefix.ReplaceAllString(trimmed, "")
	if decoded, err := base64.StdEncoding.DecodeString(candidate); err == nil && looksLikeBase64(candidate) {
		trimmed = string(decoded)
	}

	if len(trimmed) > MaxDecodedBytes {
		return "", ErrTooLarge
	}
	if strings.TrimSpace(trimmed) == "" {
		return "", ErrEmpty
	}
	return trimmed, nil
}

// looksLikeBase64 guards against decoding short plain text that happens to be
// valid base64 (e.g. "1000" decodes silently).
func looksLikeBase64(s string) bool {
	if len(s) < 16 || len(s)%4 != 0 {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '/' || r == '=') {
			return false
		}
	}
	return true
}

// unreadableRatio returns the fraction of runes that are neither printable
// ASCII, Thai script, nor whitespace. Ratios above 0.40 indicate the payload
// is an undecoded image rather than OCR text.
func unreadableRatio(s string) float64 {
	if s == "" {
		return 1
	}
	total, bad := 0, 0
	for _, r := range s {
		total++
		switch {
		case r == unicode.ReplacementChar:
			bad++
		case unicode.IsSpace(r):
		case r >= 0x20 && r < 0x7F:
		case r >= 0x0E00 && r <= 0x0E7F: // Thai block
		case unicode.IsDigit(r) || unicode.IsLetter(r):
		default:
			bad++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(bad) / float64(total)
}
