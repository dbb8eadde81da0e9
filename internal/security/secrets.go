package security

import (
	"regexp"
	"strings"
)

// SecretMatch is one credential found in a string.
type SecretMatch struct {
	Type     string
	Start    int
	End      int
	Redacted string
}

// SecretScanner finds API credentials in text that is about to be logged or
// returned to a client.
type SecretScanner struct {
	patterns []*secretPattern
	literals []string
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"Google API Key", `AIza[0-9A-Za-z\-_]{35}`, "AIza****"},
	{"DeepL Auth Key", `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(:fx)?`, "DEEPL_KEY****"},
	{"DeepL Header", `(?i)DeepL-Auth-Key\s+\S+`, "DeepL-Auth-Key ****"},
	{"Key Query Parameter", `(?i)([?&](?:key|api_key|auth_key)=)[^&\s"']+`, "${1}****"},
	{"Bearer Token", `(?i)Bearer\s+[A-Za-z0-9\-_\.=]+`, "Bearer ****"},
	{"JWT Token", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "eyJ****"},
}

// NewSecretScanner creates a scanner with the built-in patterns. Extra
// literal values, such as the configured API keys, are always redacted.
func NewSecretScanner(literals ...string) *SecretScanner {
	scanner := &SecretScanner{
		patterns: make([]*secretPattern, 0, len(defaultSecretPatterns)),
	}

	for _, p := range defaultSecretPatterns {
		re, err := regexp.Compile(p.pattern)
		if err == nil {
			scanner.patterns = append(scanner.patterns, &secretPattern{
				name:       p.name,
				regex:      re,
				redactWith: p.redactWith,
			})
		}
	}

	for _, l := range literals {
		if len(l) >= 8 {
			scanner.literals = append(scanner.literals, l)
		}
	}

	return scanner
}

func (s *SecretScanner) Scan(input string) []SecretMatch {
	var matches []SecretMatch

	for _, pattern := range s.patterns {
		for _, loc := range pattern.regex.FindAllStringIndex(input, -1) {
			matches = append(matches, SecretMatch{
				Type:     pattern.name,
				Start:    loc[0],
				End:      loc[1],
				Redacted: pattern.redactWith,
			})
		}
	}

	return matches
}

func (s *SecretScanner) HasSecrets(input string) bool {
	if len(s.Scan(input)) > 0 {
		return true
	}
	for _, l := range s.literals {
		if strings.Contains(input, l) {
			return true
		}
	}
	return false
}

func (s *SecretScanner) Redact(input string) string {
	result := input

	for _, l := range s.literals {
		result = strings.ReplaceAll(result, l, "****")
	}
	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllString(result, pattern.redactWith)
	}

	return result
}

func RedactSecrets(input string) string {
	return NewSecretScanner().Redact(input)
}
