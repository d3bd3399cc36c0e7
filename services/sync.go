package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aman54kumar/ijdr/models"
)

var syncFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "remote_sync_failures_total",
	Help: "Total number of failed remote mirror operations",
})

func init() {
	prometheus.MustRegister(syncFailuresCounter)
}

// BlobStore uploads an object to remote blob storage, makes it publicly
// readable and returns its public URL.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
}

// DocumentStore mirrors metadata into a remote document store. Paths are
// slash-separated collection paths such as "journals/12/articles".
type DocumentStore interface {
	Set(ctx context.Context, collection, docID string, fields map[string]interface{}) error
	Delete(ctx context.Context, collection, docID string) error
}

// SyncService pushes best-effort mirrors of saved rows into the remote
// blob and document stores. Local persistence is the source of truth:
// every remote failure is logged here and never propagated to the caller.
type SyncService struct {
	DB      *gorm.DB
	Blobs   BlobStore
	Docs    DocumentStore
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewSyncService(db *gorm.DB, blobs BlobStore, docs DocumentStore, timeout time.Duration, logger *zap.Logger) *SyncService {
	return &SyncService{DB: db, Blobs: blobs, Docs: docs, Timeout: timeout, Logger: logger}
}

func (s *SyncService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

// JournalSaved upserts the journal's document under journals/{id}.
func (s *SyncService) JournalSaved(ctx context.Context, journal *models.Journal) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields := map[string]interface{}{
		"volume":  journal.Volume,
		"number":  journal.Number,
		"edition": journal.Edition(),
		"ssn":     journal.SSN,
		"title":   journal.DisplayTitle(),
	}
	if err := s.Docs.Set(ctx, "journals", docID(journal.ID), fields); err != nil {
		syncFailuresCounter.Inc()
		s.Logger.Error("Failed to mirror journal to document store",
			zap.Uint("journal_id", journal.ID), zap.Error(err))
	}
}

// ArticleSaved uploads the article's PDF when it has one but no public URL
// yet, persists the resulting URL, and upserts the article's metadata
// document nested under its journal. The URL guard keeps the persistence
// step from re-triggering the upload.
func (s *SyncService) ArticleSaved(ctx context.Context, article *models.Article) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if article.PDF != "" && article.PDFURL == "" {
		data, err := os.ReadFile(article.PDF)
		if err != nil {
			syncFailuresCounter.Inc()
			s.Logger.Error("Failed to read article PDF for upload",
				zap.Uint("article_id", article.ID), zap.String("pdf", article.PDF), zap.Error(err))
			return
		}

		key := fmt.Sprintf("articles/%d/%s", article.ID, filepath.Base(article.PDF))
		url, err := s.Blobs.Upload(ctx, key, data)
		if err != nil {
			syncFailuresCounter.Inc()
			s.Logger.Error("Failed to upload article PDF to blob store",
				zap.Uint("article_id", article.ID), zap.String("key", key), zap.Error(err))
			return
		}

		article.PDFURL = url
		if err := s.DB.Model(article).Update("pdf_url", url).Error; err != nil {
			syncFailuresCounter.Inc()
			s.Logger.Error("Failed to persist article PDF URL",
				zap.Uint("article_id", article.ID), zap.Error(err))
			return
		}
		s.Logger.Info("Article PDF uploaded",
			zap.Uint("article_id", article.ID), zap.String("pdf_url", url))
	}

	s.upsertArticleDoc(ctx, article)
}

// ArticleDeleted removes the article's mirrored document. The local row is
// already gone; a failed removal is logged, not retried.
func (s *SyncService) ArticleDeleted(ctx context.Context, article *models.Article) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	collection := fmt.Sprintf("journals/%d/articles", article.JournalID)
	if err := s.Docs.Delete(ctx, collection, docID(article.ID)); err != nil {
		syncFailuresCounter.Inc()
		s.Logger.Error("Failed to remove mirrored article document",
			zap.Uint("article_id", article.ID), zap.Uint("journal_id", article.JournalID), zap.Error(err))
	}
}

// Reconcile re-runs ArticleSaved for articles that have a local PDF but
// never got a public URL, picking up uploads that failed earlier.
func (s *SyncService) Reconcile(ctx context.Context) (int, error) {
	var pending []models.Article
	err := s.DB.Where("pdf <> '' AND (pdf_url = '' OR pdf_url IS NULL)").Find(&pending).Error
	if err != nil {
		return 0, err
	}

	for i := range pending {
		s.ArticleSaved(ctx, &pending[i])
	}
	return len(pending), nil
}

func (s *SyncService) upsertArticleDoc(ctx context.Context, article *models.Article) {
	var tags []models.Tag
	if err := s.DB.Model(article).Association("Tags").Find(&tags); err != nil {
		s.Logger.Warn("Failed to load article tags for mirror",
			zap.Uint("article_id", article.ID), zap.Error(err))
	}
	tagNames := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagNames = append(tagNames, tag.Name)
	}

	fields := map[string]interface{}{
		"article_number": article.ArticleNumber,
		"title":          article.Title,
		"authors":        article.Authors,
		"abstract":       article.Abstract,
		"pdf_url":        article.PDFURL,
		"tags":           tagNames,
	}
	collection := fmt.Sprintf("journals/%d/articles", article.JournalID)
	if err := s.Docs.Set(ctx, collection, docID(article.ID), fields); err != nil {
		syncFailuresCounter.Inc()
		s.Logger.Error("Failed to mirror article to document store",
			zap.Uint("article_id", article.ID), zap.Uint("journal_id", article.JournalID), zap.Error(err))
	}
}

func docID(id uint) string {
	return fmt.Sprintf("%d", id)
}
