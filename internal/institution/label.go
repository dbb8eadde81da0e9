// Package institution maps free document text to a stable issuer label.
package institution

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Unresolved is the label used when no issuer could be determined.
const Unresolved = "_Unklar"

//go:embed whitelist.yaml
var whitelistYAML []byte

// Catalog is the built-in knowledge the resolver starts from.
type Catalog struct {
	Institutions []string `yaml:"institutions"`
	LegalForms   []string `yaml:"legal_forms"`
	Keywords     []string `yaml:"keywords"`
}

// DefaultCatalog parses the embedded whitelist.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(whitelistYAML)
}

// ParseCatalog reads a catalog in the whitelist.yaml layout.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse institution catalog: %w", err)
	}
	for i, kw := range c.Keywords {
		c.Keywords[i] = strings.ToLower(kw)
	}
	for i, lf := range c.LegalForms {
		c.LegalForms[i] = strings.ToLower(lf)
	}
	return &c, nil
}

// HasOrgHint reports whether candidate carries a legal form as a whole word
// or an organisational keyword anywhere.
func (c *Catalog) HasOrgHint(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, kw := range c.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '(' || r == ')' || r == '&' || r == '-'
	})
	for _, w := range words {
		for _, lf := range c.LegalForms {
			if w == lf {
				return true
			}
		}
	}
	return false
}

// containsFold is a case-insensitive substring test.
func containsFold(haystackLower, needle string) bool {
	n := strings.ToLower(strings.TrimSpace(needle))
	if n == "" {
		return false
	}
	return strings.Contains(haystackLower, n)
}

// isNoise reports candidates too short or purely numeric to be a name.
func isNoise(candidate string) bool {
	if len([]rune(candidate)) < 3 {
		return true
	}
	for _, r := range candidate {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
