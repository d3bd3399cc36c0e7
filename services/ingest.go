package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aman54kumar/ijdr/config"
	"github.com/aman54kumar/ijdr/models"
)

// IngestService turns a freshly uploaded journal PDF into article rows:
// it runs the chapter extraction tool, pairs the generated listings,
// creates one article per extracted chapter and hands each off to the
// remote sync. Scratch state is cleaned up no matter where the pipeline
// stops. The journal row itself is never touched beyond its ingestion
// status: upload failure never undoes journal creation.
type IngestService struct {
	DB        *gorm.DB
	Extractor ChapterExtractor
	Sync      *SyncService
	Config    *config.Config
	Logger    *zap.Logger
}

func NewIngestService(db *gorm.DB, extractor ChapterExtractor, sync *SyncService, cfg *config.Config, logger *zap.Logger) *IngestService {
	return &IngestService{
		DB:        db,
		Extractor: extractor,
		Sync:      sync,
		Config:    cfg,
		Logger:    logger,
	}
}

// JournalSaved is the post-commit hook invoked by the persistence layer.
// Ingestion runs exactly once, on creation; updates are a no-op.
// Returns the number of articles created.
func (s *IngestService) JournalSaved(ctx context.Context, journal *models.Journal, wasCreated bool) (int, error) {
	if !wasCreated {
		return 0, nil
	}
	return s.run(ctx, journal)
}

func (s *IngestService) run(ctx context.Context, journal *models.Journal) (int, error) {
	log := s.Logger.With(zap.Uint("journal_id", journal.ID))
	log.Info("Starting journal ingestion", zap.String("pdf", journal.PDFFile))

	scratchDir, err := os.MkdirTemp(s.Config.ScratchRoot, fmt.Sprintf("journal-%d-*", journal.ID))
	if err != nil {
		s.markFailed(journal, fmt.Errorf("failed to create scratch directory: %w", err))
		return 0, err
	}

	var consumed []string
	defer s.cleanup(log, scratchDir, &consumed)

	output, err := s.Extractor.Extract(ctx, journal.PDFFile, scratchDir)
	if err != nil {
		s.logExtractionFailure(log, err)
		s.markFailed(journal, err)
		return 0, err
	}

	descriptors, err := ReadListings(output.ConfigDir)
	if err != nil {
		log.Error("Failed to pair extraction listings", zap.Error(err))
		s.markFailed(journal, err)
		return 0, err
	}
	log.Info("Extraction listings paired", zap.Int("chapters", len(descriptors)))

	created := s.materialize(ctx, log, journal, descriptors, output.ExtractedDir, &consumed)

	if err := s.DB.Model(journal).Updates(map[string]interface{}{
		"ingest_status": models.IngestCompleted,
		"ingest_error":  "",
	}).Error; err != nil {
		log.Error("Failed to update ingestion status", zap.Error(err))
	}

	log.Info("Journal ingestion finished",
		zap.Int("articles_created", created), zap.Int("chapters", len(descriptors)))
	return created, nil
}

// materialize creates one article row per descriptor, in extraction order.
// A descriptor whose PDF is missing is skipped with a warning and never
// leaves a partial row; siblings are unaffected.
func (s *IngestService) materialize(ctx context.Context, log *zap.Logger, journal *models.Journal, descriptors []Descriptor, extractedDir string, consumed *[]string) int {
	created := 0
	for _, desc := range descriptors {
		stem := SanitizeTitle(desc.Title)
		source := filepath.Join(extractedDir, stem+".pdf")
		if _, err := os.Stat(source); err != nil {
			log.Warn("No extracted PDF for chapter, skipping",
				zap.Int("article_number", desc.Index), zap.String("title", desc.Title),
				zap.String("expected", stem+".pdf"))
			continue
		}

		destination := filepath.Join(s.Config.MediaRoot, "articles",
			fmt.Sprintf("%d_%d_%s.pdf", journal.ID, desc.Index, stem))
		if err := copyFile(source, destination); err != nil {
			log.Error("Failed to store article PDF",
				zap.Int("article_number", desc.Index), zap.Error(err))
			continue
		}

		article := models.Article{
			JournalID:     journal.ID,
			ArticleNumber: desc.Index,
			Title:         desc.Title,
			Authors:       desc.Author,
			PDF:           destination,
		}
		if err := s.DB.Create(&article).Error; err != nil {
			log.Error("Failed to create article row",
				zap.Int("article_number", desc.Index), zap.Error(err))
			_ = os.Remove(destination)
			continue
		}

		if err := AttachDefaultTags(s.DB, &article, s.Config.DefaultTags); err != nil {
			log.Warn("Failed to attach default tags",
				zap.Uint("article_id", article.ID), zap.Error(err))
		}

		*consumed = append(*consumed, source)
		created++

		s.Sync.ArticleSaved(ctx, &article)
	}
	return created
}

// cleanup removes consumed temp files and the scratch directory. Each
// deletion is independently best-effort.
func (s *IngestService) cleanup(log *zap.Logger, scratchDir string, consumed *[]string) {
	for _, path := range *consumed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove consumed temp file",
				zap.String("path", path), zap.Error(err))
		}
	}
	if err := os.RemoveAll(scratchDir); err != nil {
		log.Warn("Failed to remove scratch directory",
			zap.String("path", scratchDir), zap.Error(err))
	}
}

func (s *IngestService) markFailed(journal *models.Journal, cause error) {
	err := s.DB.Model(journal).Updates(map[string]interface{}{
		"ingest_status": models.IngestFailed,
		"ingest_error":  cause.Error(),
	}).Error
	if err != nil {
		s.Logger.Error("Failed to record ingestion failure",
			zap.Uint("journal_id", journal.ID), zap.Error(err))
	}
}

func (s *IngestService) logExtractionFailure(log *zap.Logger, err error) {
	var toolErr *ToolError
	switch {
	case errors.As(err, &toolErr):
		log.Error("Extraction tool failed",
			zap.String("step", toolErr.Step),
			zap.Int("exit_code", toolErr.ExitCode),
			zap.String("output", toolErr.Output))
	case errors.Is(err, ErrExtractorUnavailable):
		log.Error("Extraction tool unavailable", zap.Error(err))
	default:
		log.Error("Extraction failed", zap.Error(err))
	}
}

// AttachDefaultTags associates the configured default tag set with a newly
// created article. Only pre-seeded tags are attached; unknown names are
// never created implicitly.
func AttachDefaultTags(db *gorm.DB, article *models.Article, names []string) error {
	if len(names) == 0 {
		return nil
	}
	var tags []models.Tag
	if err := db.Where("name IN ?", names).Find(&tags).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	if err := db.Model(article).Association("Tags").Append(&tags); err != nil {
		return err
	}
	article.Tags = tags
	return nil
}

func copyFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
