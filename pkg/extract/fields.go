package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount patterns, in preference order. Currency- or keyword-labeled amounts
// win over bare numbers so that fees and reference numbers do not shadow the
// transfer amount.
var (
	amountLabeled = regexp.MustCompile(`(?i)(?:จำนวนเงิน|จำนวน|ยอดเงิน|ยอด|amount|total)\s*[:：]?\s*(?:THB|฿|บาท)?\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)`)
	amountSuffix  = regexp.MustCompile(`([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)\s*(?:THB|บาท|฿)`)
	amountPrefix  = regexp.MustCompile(`(?i)(?:THB|฿)\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{1,2})?)`)
	amountBare    = regexp.MustCompile(`\b([0-9]{1,3}(?:,[0-9]{3})*\.[0-9]{2})\b`)
)

func extractAmount(text string) (decimal.Decimal, bool) {
	for _, re := range []*regexp.Regexp{amountLabeled, amountSuffix, amountPrefix, amountBare} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		amount, err := decimal.NewFromString(raw)
		if err != nil || amount.IsZero() {
			continue
		}
		return amount, true
	}
	return decimal.Zero, false
}

// bankVocabulary maps known Thai bank identifiers to the substrings that
// OCR output typically contains. Matching is case-insensitive.
var bankVocabulary = []struct {
	ID       string
	Patterns []string
}{
	{"kbank", []string{"kbank", "kasikorn", "k plus", "k+", "กสิกร"}},
	{"scb", []string{"scb", "siam commercial", "ไทยพาณิชย์"}},
	{"bbl", []string{"bangkok bank", "bualuang", "กรุงเทพ", "บัวหลวง"}},
	{"ktb", []string{"krungthai", "krung thai", "ktb", "กรุงไทย"}},
	{"bay", []string{"krungsri", "ayudhya", "กรุงศรี"}},
	{"ttb", []string{"ttb", "tmb", "ทหารไทย", "ทีทีบี"}},
	{"gsb", []string{"gsb", "government savings", "ออมสิน"}},
	{"uob", []string{"uob", "ยูโอบี"}},
	{"cimb", []string{"cimb", "ซีไอเอ็มบี"}},
	{"kkp", []string{"kiatnakin", "kkp", "เกียรตินาคิน"}},
}

func extractBank(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, bank := range bankVocabulary {
		for _, p := range bank.Patterns {
			if strings.Contains(lower, p) {
				return bank.ID, true
			}
		}
	}
	return "", false
}

// Account numbers: dashed Thai formats first, then bare 10–12 digit runs.
// Dashes are stripped from the normalized value.
var (
	accountDashed = regexp.MustCompile(`\b\d{3}-\d-\d{5}-\d\b|\b\d{3}-\d-\d{4,6}-\d{1,3}\b`)
	accountPlain  = regexp.MustCompile(`\b\d{10,12}\b`)
)

func extractAccount(text string) (string, bool) {
	if m := accountDashed.FindString(text); m != "" {
		return strings.ReplaceAll(m, "-", ""), true
	}
	if m := accountPlain.FindString(text); m != "" {
		return m, true
	}
	return "", false
}

// Date extraction handles day-first, month-first and ISO orders plus an
// optional HH:MM[:SS] time. Buddhist-era years are converted to CE.
var (
	dateNumeric = regexp.MustCompile(`\b(\d{1,4})[/-](\d{1,2})[/-](\d{1,4})\b`)
	timeOfDay   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})(?::(\d{2}))?\b`)
)

var textualLayouts = []string{"2 Jan 2006", "Jan 2, 2006", "02 Jan 2006"}

func extractDate(text string, now time.Time) (time.Time, bool) {
	raw := dateNumeric.FindString(text)
	parsed, found := parseDateToken(raw)
	if !found {
		for _, layout := range textualLayouts {
			if t, ok := scanLayout(text, layout); ok {
				parsed = t
				found = true
				break
			}
		}
	}
	if !found {
		return time.Time{}, false
	}

	if m := timeOfDay.FindStringSubmatch(text); m != nil {
		hh := atoi(m[1])
		mm := atoi(m[2])
		ss := atoi(m[3])
		if hh < 24 && mm < 60 {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), hh, mm, ss, 0, now.Location())
		}
	}
	return parsed, true
}

func parseDateToken(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	raw = fromBuddhistEra(raw)
	for _, layout := range []string{"02/01/2006", "2/1/2006", "02-01-2006", "2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, raw); err == nil && plausibleYear(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

// fromBuddhistEra rewrites 4-digit years in the Buddhist era (BE 2400+) to CE.
var beYear = regexp.MustCompile(`\b(2[4-6]\d{2})\b`)

func fromBuddhistEra(raw string) string {
	return beYear.ReplaceAllStringFunc(raw, func(y string) string {
		n := atoi(y)
		if n >= 2400 {
			return strconv.Itoa(n - 543)
		}
		return y
	})
}

func plausibleYear(t time.Time) bool {
	return t.Year() >= 2000 && t.Year() <= 2100
}

// scanLayout slides a 3-token window over the text looking for textual dates
// like "2 Jan 2006" or "Jan 2, 2006".
func scanLayout(text, layout string) (time.Time, bool) {
	tokens := strings.Fields(text)
	for i := 0; i < len(tokens); i++ {
		end := i + 3
		if end > len(tokens) {
			end = len(tokens)
		}
		fragment := strings.TrimRight(strings.Join(tokens[i:end], " "), ".,")
		if t, err := time.Parse(layout, fragment); err == nil && plausibleYear(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
