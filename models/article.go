package models

import "time"

// Article represents one chapter of a journal issue. Articles are
// created in bulk by the ingestion pipeline or individually via the API.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	JournalID uint `json:"journal_id" gorm:"not null;uniqueIndex:idx_article_position"`

	// Position within the journal, assigned in extraction order starting at 1.
	ArticleNumber int `json:"article_number" gorm:"not null;uniqueIndex:idx_article_position"`

	Title    string `json:"title" gorm:"not null"`
	Authors  string `json:"authors"`
	Abstract string `json:"abstract,omitempty" gorm:"type:text"`

	// Local path of the per-article extracted PDF, empty until populated.
	PDF string `json:"pdf,omitempty"`
	// Public URL in remote blob storage, set after a successful upload.
	PDFURL string `json:"pdf_url,omitempty" gorm:"column:pdf_url"`

	Tags []Tag `json:"tags,omitempty" gorm:"many2many:article_tags"`
}
