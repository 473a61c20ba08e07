package phone

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var nonDigits = regexp.MustCompile(`\D`)

// one compiled pattern per country code; a deployment only ever uses one
var (
	validMu  sync.Mutex
	validRes = map[string]*regexp.Regexp{}
)

func validPattern(countryCode string) *regexp.Regexp {
	validMu.Lock()
	defer validMu.Unlock()
	re, ok := validRes[countryCode]
	if !ok {
		re = regexp.MustCompile(`^` + regexp.QuoteMeta(countryCode) + `\d{8}$`)
		validRes[countryCode] = re
	}
	return re
}

// Normalize reduces raw input to international format: country code
// followed by local digits, no separators. A bare 8-digit local number
// gains the country code; a 00-prefixed international number loses the
// 00. Anything else passes through as digits for validation to reject.
func Normalize(raw, countryCode string) string {
	digits := nonDigits.ReplaceAllString(raw, "")

	if strings.HasPrefix(digits, "00"+countryCode) {
		return digits[2:]
	}
	if strings.HasPrefix(digits, countryCode) {
		return digits
	}
	if len(digits) == 8 {
		return countryCode + digits
	}
	return digits
}

// Valid reports whether a normalized number matches ^<cc>\d{8}$.
func Valid(normalized, countryCode string) bool {
	return validPattern(countryCode).MatchString(normalized)
}

// Display renders a normalized number as "+<cc> <local>".
func Display(normalized, countryCode string) string {
	if normalized == "" {
		return ""
	}
	if strings.HasPrefix(normalized, countryCode) {
		return fmt.Sprintf("+%s %s", countryCode, normalized[len(countryCode):])
	}
	return normalized
}
