package decoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var monthAbbrev = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04",
	"may": "05", "jun": "06", "jul": "07", "aug": "08",
	"sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

var numericDateRe = regexp.MustCompile(`^\d{8}$`)
var mangledDateRe = regexp.MustCompile(`^(\d{1,2})([A-Za-z]{3})(\d{2})$`)
var separatorRe = regexp.MustCompile(`[^0-9A-Za-z]`)

// ParseGatewayDate accepts both of the Gateway's date shapes — the plain
// YYYYMMDD numeric form, and the "d-MMM-yy" textual form — and tolerates
// the mangled "d-MMM-" variants with dangling separators the Gateway
// occasionally renders for date-less records (e.g. "1-Ap-r--21"). It never
// guesses at a wholly unrecognised shape; those return ("", false).
func ParseGatewayDate(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	if numericDateRe.MatchString(trimmed) {
		year, month, day := trimmed[0:4], trimmed[4:6], trimmed[6:8]
		if !validYMD(year, month, day) {
			return "", false
		}
		return fmt.Sprintf("%s-%s-%s", year, month, day), true
	}

	// Strip every non-alphanumeric separator before matching — this is
	// what makes "1-Apr-21" and the mangled "1-Ap-r--21" collapse to the
	// same "1Apr21" and parse identically.
	cleaned := separatorRe.ReplaceAllString(trimmed, "")
	m := mangledDateRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	dayNum, err := strconv.Atoi(m[1])
	if err != nil || dayNum < 1 || dayNum > 31 {
		return "", false
	}
	month, ok := monthAbbrev[strings.ToLower(m[2])]
	if !ok {
		return "", false
	}
	year := "20" + m[3]
	return fmt.Sprintf("%s-%s-%02d", year, month, dayNum), true
}

func validYMD(year, month, day string) bool {
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return false
	}
	return true
}
