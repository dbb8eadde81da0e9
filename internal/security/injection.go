package security

import (
	"regexp"
	"strings"
)

// InjectionDetector looks for instructions aimed at a language model inside
// document text. Letters are scanned from paper, so a hit is reported, never
// refused.
type InjectionDetector struct {
	literals []string
	regexes  []*regexp.Regexp
}

var injectionLiterals = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard all previous",
	"forget all previous",
	"ignore the above",
	"disregard the above",
	"your new instructions",
	"system override",
	"developer mode",
	"ignoriere alle vorherigen",
	"ignoriere die vorherigen",
	"vergiss alle vorherigen",
}

var injectionRegexes = []string{
	`(?i)ignore\s+(all\s+)?(previous|above)\s+(instructions?|prompts?|rules?|directives?)`,
	`(?i)disregard\s+(all\s+)?(previous|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)forget\s+(all\s+)?(previous|above)\s+(instructions?|context)`,
	`(?i)ignorier(e|en)?\s+(alle\s+)?(vorherigen|obigen)\s+(anweisungen|regeln)`,
	`(?i)you\s+are\s+now\s+(a|an)\s+\w+`,
	`(?i)(pretend|act)\s+(that\s+)?you\s+are`,
	`(?i)system:\s*you\s+must`,
	`(?i)<\|.*\|>`,
	`(?i)\[system\].*\[\/system\]`,
	`(?i)###\s*(instruction|system)`,
}

func NewInjectionDetector() *InjectionDetector {
	d := &InjectionDetector{
		literals: make([]string, len(injectionLiterals)),
		regexes:  make([]*regexp.Regexp, 0, len(injectionRegexes)),
	}
	for i, lit := range injectionLiterals {
		d.literals[i] = strings.ToLower(lit)
	}
	for _, pattern := range injectionRegexes {
		d.regexes = append(d.regexes, regexp.MustCompile(pattern))
	}
	return d
}

// Detect reports whether text contains a known injection phrase.
func (d *InjectionDetector) Detect(text string) bool {
	lower := strings.ToLower(text)
	for _, lit := range d.literals {
		if strings.Contains(lower, lit) {
			return true
		}
	}
	for _, re := range d.regexes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
