package collection

import (
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`[^0-9]+`)

// NormalizeKey reduces a scanned product code to its canonical form: digits
// only, no spaces, hyphens or check-digit punctuation. Duplicate comparison
// happens on this form everywhere.
func NormalizeKey(code string) string {
	return nonDigit.ReplaceAllString(strings.TrimSpace(code), "")
}
