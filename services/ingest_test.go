package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aman54kumar/ijdr/config"
	"github.com/aman54kumar/ijdr/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Journal{}, &models.Article{}, &models.Tag{}))

	tags := []models.Tag{{Name: "Science"}, {Name: "Technology"}, {Name: "Engineering"}}
	require.NoError(t, db.Create(&tags).Error)
	return db
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MediaRoot:   t.TempDir(),
		ScratchRoot: t.TempDir(),
		DefaultTags: []string{"Science", "Technology", "Engineering"},
	}
}

// fakeExtractor writes the configured listings and chapter PDFs into the
// scratch directory, standing in for the external tool.
type fakeExtractor struct {
	titles  []string
	authors []string
	// pdfs lists the chapter titles that actually get a PDF file.
	pdfs []string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, sourcePDF, scratchDir string) (*ExtractionOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	configDir := filepath.Join(scratchDir, "config")
	extractedDir := filepath.Join(scratchDir, "extracted")
	for _, dir := range []string{configDir, extractedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	writeLines := func(name string, lines []string) error {
		content := ""
		for _, line := range lines {
			content += line + "\n"
		}
		return os.WriteFile(filepath.Join(configDir, name), []byte(content), 0o644)
	}
	if err := writeLines("articles.txt", f.titles); err != nil {
		return nil, err
	}
	if err := writeLines("authors.txt", f.authors); err != nil {
		return nil, err
	}
	for _, title := range f.pdfs {
		name := SanitizeTitle(title) + ".pdf"
		if err := os.WriteFile(filepath.Join(extractedDir, name), []byte("%PDF-1.4 "+title), 0o644); err != nil {
			return nil, err
		}
	}
	return &ExtractionOutput{ConfigDir: configDir, ExtractedDir: extractedDir}, nil
}

type fakeBlobStore struct {
	uploads map[string][]byte
	err     error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{uploads: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads[key] = data
	return "https://cdn.example.com/" + key, nil
}

type fakeDocStore struct {
	docs    map[string]map[string]interface{}
	deletes []string
	err     error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]map[string]interface{})}
}

func (f *fakeDocStore) Set(ctx context.Context, collection, docID string, fields map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.docs[collection+"/"+docID] = fields
	return nil
}

func (f *fakeDocStore) Delete(ctx context.Context, collection, docID string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.docs, collection+"/"+docID)
	f.deletes = append(f.deletes, collection+"/"+docID)
	return nil
}

func newTestJournal(t *testing.T, db *gorm.DB, cfg *config.Config) *models.Journal {
	t.Helper()
	pdfPath := filepath.Join(cfg.MediaRoot, "journals", "vol1_no1_2024_first-half.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(pdfPath), 0o755))
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 issue"), 0o644))

	journal := &models.Journal{
		Volume:       1,
		Number:       1,
		Year:         2024,
		Period:       models.PeriodFirstHalf,
		PDFFile:      pdfPath,
		IngestStatus: models.IngestPending,
	}
	require.NoError(t, db.Create(journal).Error)
	return journal
}

func newIngestFixture(t *testing.T, extractor ChapterExtractor) (*IngestService, *gorm.DB, *fakeBlobStore, *fakeDocStore, *models.Journal) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig(t)
	blobs := newFakeBlobStore()
	docs := newFakeDocStore()
	sync := NewSyncService(db, blobs, docs, 0, zap.NewNop())
	ingest := NewIngestService(db, extractor, sync, cfg, zap.NewNop())
	journal := newTestJournal(t, db, cfg)
	return ingest, db, blobs, docs, journal
}

func TestIngestCreatesArticlesFromChapters(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"Paper One", "Paper Two"},
		authors: []string{"Alice", "Bob"},
		pdfs:    []string{"Paper One", "Paper Two"},
	}
	ingest, db, blobs, docs, journal := newIngestFixture(t, extractor)

	created, err := ingest.JournalSaved(context.Background(), journal, true)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var articles []models.Article
	require.NoError(t, db.Preload("Tags").Order("article_number").Find(&articles).Error)
	require.Len(t, articles, 2)

	assert.Equal(t, 1, articles[0].ArticleNumber)
	assert.Equal(t, "Paper One", articles[0].Title)
	assert.Equal(t, "Alice", articles[0].Authors)
	assert.Equal(t, 2, articles[1].ArticleNumber)
	assert.Equal(t, "Bob", articles[1].Authors)

	for _, article := range articles {
		assert.NotEmpty(t, article.PDF)
		assert.FileExists(t, article.PDF)
		assert.NotEmpty(t, article.PDFURL, "remote sync should have populated the public URL")
		assert.Len(t, article.Tags, 3, "default tags should be attached")

		key := fmt.Sprintf("journals/%d/articles/%d", journal.ID, article.ID)
		assert.Contains(t, docs.docs, key, "article should be mirrored in the document store")
	}
	assert.Len(t, blobs.uploads, 2)

	var refreshed models.Journal
	require.NoError(t, db.First(&refreshed, journal.ID).Error)
	assert.Equal(t, models.IngestCompleted, refreshed.IngestStatus)
}

func TestIngestSkipsChapterWithoutPDF(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"First", "Second", "Third"},
		authors: []string{"A", "B", "C"},
		pdfs:    []string{"First", "Third"}, // no PDF for the second chapter
	}
	ingest, db, _, _, journal := newIngestFixture(t, extractor)

	created, err := ingest.JournalSaved(context.Background(), journal, true)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	var articles []models.Article
	require.NoError(t, db.Order("article_number").Find(&articles).Error)
	require.Len(t, articles, 2)

	// Numbering keeps the original extraction positions.
	assert.Equal(t, 1, articles[0].ArticleNumber)
	assert.Equal(t, "First", articles[0].Title)
	assert.Equal(t, 3, articles[1].ArticleNumber)
	assert.Equal(t, "Third", articles[1].Title)
}

func TestIngestCountMismatchCreatesNothing(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"A", "B"},
		authors: []string{"X"},
		pdfs:    []string{"A", "B"},
	}
	ingest, db, _, _, journal := newIngestFixture(t, extractor)

	created, err := ingest.JournalSaved(context.Background(), journal, true)
	assert.Equal(t, 0, created)

	var mismatch *CountMismatchError
	require.ErrorAs(t, err, &mismatch)

	var count int64
	require.NoError(t, db.Model(&models.Article{}).Count(&count).Error)
	assert.Zero(t, count, "a listing mismatch must not create any articles")

	var refreshed models.Journal
	require.NoError(t, db.First(&refreshed, journal.ID).Error)
	assert.Equal(t, models.IngestFailed, refreshed.IngestStatus)
	assert.NotEmpty(t, refreshed.IngestError)
}

func TestIngestExtractionFailureLeavesJournal(t *testing.T) {
	extractor := &fakeExtractor{err: &ToolError{Step: "extract", ExitCode: 1}}
	ingest, db, _, _, journal := newIngestFixture(t, extractor)

	_, err := ingest.JournalSaved(context.Background(), journal, true)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)

	// The journal row survives the pipeline failure.
	var refreshed models.Journal
	require.NoError(t, db.First(&refreshed, journal.ID).Error)
	assert.Equal(t, models.IngestFailed, refreshed.IngestStatus)

	var count int64
	require.NoError(t, db.Model(&models.Article{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestOnlyRunsOnCreation(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"Paper One"},
		authors: []string{"Alice"},
		pdfs:    []string{"Paper One"},
	}
	ingest, db, _, _, journal := newIngestFixture(t, extractor)

	created, err := ingest.JournalSaved(context.Background(), journal, true)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	// An unrelated field update must not re-trigger ingestion.
	require.NoError(t, db.Model(journal).Update("ssn", "1234-5678").Error)
	created, err = ingest.JournalSaved(context.Background(), journal, false)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	var count int64
	require.NoError(t, db.Model(&models.Article{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "no duplicate articles after an update")
}

func TestIngestCleansUpScratchDirectory(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"Paper One"},
		authors: []string{"Alice"},
		pdfs:    []string{"Paper One"},
	}
	ingest, _, _, _, journal := newIngestFixture(t, extractor)

	_, err := ingest.JournalSaved(context.Background(), journal, true)
	require.NoError(t, err)

	entries, err := os.ReadDir(ingest.Config.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories should be removed after ingestion")
}

func TestIngestCleansUpScratchOnFailure(t *testing.T) {
	extractor := &fakeExtractor{
		titles:  []string{"A", "B"},
		authors: []string{"X"},
	}
	ingest, _, _, _, journal := newIngestFixture(t, extractor)

	_, err := ingest.JournalSaved(context.Background(), journal, true)
	require.Error(t, err)

	entries, err := os.ReadDir(ingest.Config.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
