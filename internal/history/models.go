// Package history records every archival run in a SQLite database.
package history

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run status values
const (
	StatusArchived = "archived"
	StatusFailed   = "failed"
)

// Run is one attempt to archive one document
type Run struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	SourcePath  string    `json:"source_path"`
	FinalPath   string    `json:"final_path,omitempty"`
	Institution string    `gorm:"index" json:"institution,omitempty"`
	Year        string    `json:"year,omitempty"`
	Resolution  string    `json:"resolution,omitempty"` // whitelist, learned, keyword, longest, unresolved
	Trigger     string    `json:"trigger"`              // upload, watch, run, import, sweep, migrate
	Status      string    `gorm:"index" json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate hook for Run
func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// InstitutionCount is the number of archived documents per institution
type InstitutionCount struct {
	Institution string `json:"institution"`
	Count       int64  `json:"count"`
}

// Stats summarises the recorded runs
type Stats struct {
	Total         int64              `json:"total"`
	Archived      int64              `json:"archived"`
	Failed        int64              `json:"failed"`
	AvgDurationMs float64            `json:"avg_duration_ms"`
	Institutions  []InstitutionCount `json:"institutions"`
}
