// Package index keeps the CSV catalogue of archived documents.
package index

import (
	"strings"
	"time"
)

// Column names as they appear in the header line.
const (
	ColFilename    = "Datei"
	ColYear        = "Jahr"
	ColInstitution = "Institution"
	ColPath        = "Pfad"
	ColExcerpt     = "Textauszug"
	ColRecordedAt  = "Eingetragen am"
)

// header is the full column order. A file may stop after any column from
// ColPath on; the first four are required.
var header = []string{ColFilename, ColYear, ColInstitution, ColPath, ColExcerpt, ColRecordedAt}

const requiredColumns = 4

// TimeLayout formats RecordedAt.
const TimeLayout = "2006-01-02 15:04:05"

// ExcerptLength is the number of characters kept from the document text.
const ExcerptLength = 200

// Record is one archived document. (Filename, Path) identifies it.
type Record struct {
	Filename    string    `json:"filename"`
	Year        string    `json:"year"`
	Institution string    `json:"institution"`
	Path        string    `json:"path"`
	Excerpt     string    `json:"excerpt,omitempty"`
	RecordedAt  time.Time `json:"recorded_at,omitempty"`
}

func (r Record) key() string {
	return r.Filename + "\x00" + r.Path
}

func (r Record) row() []string {
	ts := ""
	if !r.RecordedAt.IsZero() {
		ts = r.RecordedAt.Format(TimeLayout)
	}
	return []string{r.Filename, r.Year, r.Institution, r.Path, r.Excerpt, ts}
}

// Matches reports whether query occurs, ignoring case, in the filename,
// institution or year.
func (r Record) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Filename), q) ||
		strings.Contains(strings.ToLower(r.Institution), q) ||
		strings.Contains(strings.ToLower(r.Year), q)
}

// Excerpt takes the first ExcerptLength characters of text, puts them on a
// single line and trims the result.
func Excerpt(text string) string {
	runes := []rune(text)
	if len(runes) > ExcerptLength {
		runes = runes[:ExcerptLength]
	}
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(string(runes))
	return strings.TrimSpace(text)
}
