package institution

import (
	"strings"
	"unicode"
)

// OrgExtractor finds organisation-like name spans in free text, in document
// order. Implementations may return noise; the resolver filters it.
type OrgExtractor interface {
	ExtractOrgs(text string) []string
}

// StaticExtractor returns a fixed candidate list.
type StaticExtractor []string

func (s StaticExtractor) ExtractOrgs(string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// letterheadLines is how many non-empty lines count as the letterhead.
const letterheadLines = 6

var connectors = map[string]bool{
	"für": true, "der": true, "des": true, "und": true, "&": true,
	"von": true, "zu": true, "am": true, "im": true, "-": true,
}

var salutations = map[string]bool{
	"sehr": true, "geehrte": true, "damen": true, "liebe": true, "herr": true, "herrn": true, "frau": true, "datum": true,
	"seite": true, "betreff": true, "ihr": true, "ihre": true, "mit": true,
	"bitte": true, "telefon": true, "fax": true, "e-mail": true, "tel": true,
	"kundennummer": true, "rechnung": true, "postfach": true,
}

// HeuristicExtractor picks capitalised word runs that either carry an
// organisational hint or sit in the letterhead.
type HeuristicExtractor struct {
	catalog *Catalog
}

func NewHeuristicExtractor(catalog *Catalog) *HeuristicExtractor {
	return &HeuristicExtractor{catalog: catalog}
}

func (e *HeuristicExtractor) ExtractOrgs(text string) []string {
	var out []string
	seen := make(map[string]bool)

	lineNo := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lineNo++

		for _, run := range nameRuns(line) {
			name := strings.Join(run, " ")
			if seen[strings.ToLower(name)] {
				continue
			}
			hinted := e.catalog.HasOrgHint(name)
			if !hinted && !(lineNo <= letterheadLines && len(run) >= 2) {
				continue
			}
			seen[strings.ToLower(name)] = true
			out = append(out, name)
		}
	}
	return out
}

// nameRuns splits a line into maximal runs of capitalised tokens joined by
// lowercase connectors.
func nameRuns(line string) [][]string {
	var runs [][]string
	var cur []string

	flush := func() {
		for len(cur) > 0 && connectors[strings.ToLower(cur[len(cur)-1])] {
			cur = cur[:len(cur)-1]
		}
		if len(cur) > 0 {
			runs = append(runs, cur)
		}
		cur = nil
	}

	for _, raw := range strings.Fields(line) {
		tok := trimToken(raw)
		if tok == "" {
			flush()
			continue
		}
		lower := strings.ToLower(tok)
		switch {
		case len(cur) == 0 && salutations[lower]:
			flush()
		case isCapitalised(tok) || isLegalFormToken(lower):
			cur = append(cur, tok)
		case len(cur) > 0 && connectors[lower]:
			cur = append(cur, tok)
		default:
			flush()
		}
		// Sentence punctuation ends a run.
		if strings.HasSuffix(raw, ",") || strings.HasSuffix(raw, ":") || strings.HasSuffix(raw, ";") {
			flush()
		}
	}
	flush()
	return runs
}

func trimToken(tok string) string {
	tok = strings.TrimFunc(tok, func(r rune) bool {
		return r == ',' || r == ':' || r == ';' || r == '"' || r == '\'' || r == '(' || r == ')' || r == '!' || r == '?'
	})
	// Keep the dot in abbreviations such as e.V.; drop a plain trailing one.
	if strings.HasSuffix(tok, ".") && strings.Count(tok, ".") == 1 {
		tok = strings.TrimSuffix(tok, ".")
	}
	return tok
}

func isCapitalised(tok string) bool {
	for _, r := range tok {
		return unicode.IsUpper(r)
	}
	return false
}

func isLegalFormToken(lower string) bool {
	switch lower {
	case "gmbh", "mbh", "ag", "kg", "se", "ohg", "ug", "e.v.", "gbr", "co.":
		return true
	}
	return false
}
