package pipeline

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

const minContentYear = 1900

// ContentYear returns the first run of exactly four digits in text that is a
// plausible year, i.e. between 1900 and the year of now.
func ContentYear(text string, now time.Time) (string, bool) {
	runs := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
	for _, run := range runs {
		if len(run) != 4 {
			continue
		}
		y, err := strconv.Atoi(run)
		if err != nil {
			continue
		}
		if y >= minContentYear && y <= now.Year() {
			return run, true
		}
	}
	return "", false
}
