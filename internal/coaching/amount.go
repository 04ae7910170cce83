package coaching

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPattern = regexp.MustCompile(`\d+[\d.,]*`)

// NormalizeAmountLabel turns a free-text answer such as "< 7000 dh" into a
// canonical label "< 7 000 MAD". It returns "" when the text holds no number.
func NormalizeAmountLabel(input string) string {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return ""
	}
	match := amountPattern.FindString(strings.ReplaceAll(lower, " ", ""))
	if match == "" {
		return ""
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return ""
	}
	return amountOperator(lower) + " " + message.NewPrinter(language.French).Sprintf("%d", amount) + " MAD"
}

func amountOperator(s string) string {
	switch {
	case strings.Contains(s, "<"):
		return "<"
	case strings.Contains(s, ">"):
		return ">"
	default:
		return "="
	}
}
