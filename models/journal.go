package models

import (
	"fmt"
	"time"
)

// Journal periods. A volume year is split into two issues.
const (
	PeriodFirstHalf  = "first-half"
	PeriodSecondHalf = "second-half"
)

// Ingestion states recorded on the journal row after upload.
const (
	IngestPending   = "pending"
	IngestCompleted = "completed"
	IngestFailed    = "failed"
)

// Journal represents a single published issue, identified by its
// volume, number, year and period.
type Journal struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Volume int    `json:"volume" gorm:"not null;uniqueIndex:idx_journal_issue"`
	Number int    `json:"number" gorm:"not null;uniqueIndex:idx_journal_issue"`
	Year   int    `json:"year" gorm:"not null;uniqueIndex:idx_journal_issue"`
	Period string `json:"period" gorm:"not null;uniqueIndex:idx_journal_issue"`

	SSN string `json:"ssn,omitempty" gorm:"column:ssn"`

	// Local path of the originally uploaded full-issue PDF.
	PDFFile    string    `json:"pdf_file"`
	UploadedAt time.Time `json:"uploaded_at" gorm:"autoCreateTime"`

	IngestStatus string `json:"ingest_status" gorm:"default:'pending'"`
	IngestError  string `json:"ingest_error,omitempty"`

	Articles []Article `json:"articles,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// Edition returns the human-readable label for the journal's period and year.
func (j *Journal) Edition() string {
	switch j.Period {
	case PeriodFirstHalf:
		return fmt.Sprintf("First Half %d", j.Year)
	case PeriodSecondHalf:
		return fmt.Sprintf("Second Half %d", j.Year)
	default:
		return fmt.Sprintf("%d", j.Year)
	}
}

// DisplayTitle composes the title used in the remote journal mirror.
func (j *Journal) DisplayTitle() string {
	return fmt.Sprintf("Vol. %d No. %d (%s)", j.Volume, j.Number, j.Edition())
}
