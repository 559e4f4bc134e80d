package extract

import "strings"

// Language identifies the detected slip language.
type Language string

const (
	LangThai    Language = "th"
	LangEnglish Language = "en"
)

var thaiKeywords = []string{"โอน", "บาท", "จำนวน", "บัญชี", "ธนาคาร", "สำเร็จ"}

var englishKeywords = []string{"transfer", "amount", "baht", "account", "bank", "success"}

// detectLanguage compares script-specific character counts plus keyword hits.
// A non-empty hint forces the result.
func detectLanguage(text, hint string) Language {
	switch strings.ToLower(hint) {
	case "th":
		return LangThai
	case "en":
		return LangEnglish
	}

	thaiScore, englishScore := 0, 0
	for _, r := range text {
		switch {
		case r >= 0x0E00 && r <= 0x0E7F:
			thaiScore++
		case r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z':
			englishScore++
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range thaiKeywords {
		if strings.Contains(lower, kw) {
			thaiScore += 10
		}
	}
	for _, kw := range englishKeywords {
		if strings.Contains(lower, kw) {
			englishScore += 10
		}
	}

	if thaiScore > englishScore {
		return LangThai
	}
	return LangEnglish
}
