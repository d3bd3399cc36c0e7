package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aman54kumar/ijdr/config"
	"github.com/aman54kumar/ijdr/models"
	"github.com/aman54kumar/ijdr/services"
	"github.com/aman54kumar/ijdr/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	journalsUploadedCounter  prometheus.Counter
	articlesExtractedCounter prometheus.Counter
)

func init() {
	journalsUploadedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "journals_uploaded_total",
			Help: "Total number of journal issues uploaded.",
		},
	)
	articlesExtractedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "articles_extracted_total",
			Help: "Total number of articles created by the ingestion pipeline.",
		},
	)
	prometheus.MustRegister(journalsUploadedCounter, articlesExtractedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to journals database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Journal{}, &models.Article{}, &models.Tag{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Seeding
	seedDefaultTags(db, cfg, logging)

	// Setup remote stores
	s3Store, err := storage.NewS3Store(cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	firestoreStore, err := storage.NewFirestoreStore(context.Background(), cfg)
	if err != nil {
		logging.Fatal("Firestore client creation failed", zap.Error(err))
	}
	defer firestoreStore.Close()

	// Setup Services
	extractor := services.NewToolExtractor(cfg.ExtractorBin, cfg.TrailerMarker, cfg.ExtractorTimeout, logging)
	syncService := services.NewSyncService(db, s3Store, firestoreStore, cfg.SyncTimeout, logging)
	ingestService := services.NewIngestService(db, extractor, syncService, cfg, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupJournalRoutes(router, db, cfg, ingestService, syncService, logging)
	setupArticleRoutes(router, db, cfg, syncService, logging)
	setupTagRoutes(router, db, logging)

	// Setup Cron: retry remote uploads that failed earlier
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled remote-sync reconciliation...")
		count, err := syncService.Reconcile(context.Background())
		if err != nil {
			logging.Error("Reconciliation job failed", zap.Error(err))
		} else {
			logging.Info("Reconciliation job completed", zap.Int("articles_checked", count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// journalResponse enriches a journal with its derived edition label.
type journalResponse struct {
	models.Journal
	Edition string `json:"edition"`
}

func toJournalResponse(j models.Journal) journalResponse {
	return journalResponse{Journal: j, Edition: j.Edition()}
}

func setupJournalRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, ingest *services.IngestService, sync *services.SyncService, log *zap.Logger) {
	rg := router.Group("/journals")

	// POST - Upload a new journal issue. The uploaded PDF is ingested
	// synchronously; the response succeeds once the journal row is saved,
	// regardless of the ingestion outcome.
	rg.POST("/", func(c *gin.Context) {
		volume, err := strconv.Atoi(c.PostForm("volume"))
		if err != nil || volume <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volume must be a positive integer"})
			return
		}
		number, err := strconv.Atoi(c.PostForm("number"))
		if err != nil || (number != 1 && number != 2) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "number must be 1 or 2"})
			return
		}
		year, err := strconv.Atoi(c.PostForm("year"))
		if err != nil || year < 1900 || year > time.Now().Year()+1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "year out of range"})
			return
		}
		period := c.PostForm("period")
		if period != models.PeriodFirstHalf && period != models.PeriodSecondHalf {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("period must be %q or %q", models.PeriodFirstHalf, models.PeriodSecondHalf)})
			return
		}

		file, err := c.FormFile("pdf")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pdf file is required"})
			return
		}

		// The (volume, number, year, period) tuple is unique.
		var existing models.Journal
		err = db.Where("volume = ? AND number = ? AND year = ? AND period = ?",
			volume, number, year, period).First(&existing).Error
		if err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "journal issue already exists"})
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error("DB error checking for existing journal", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		destination := filepath.Join(cfg.MediaRoot, "journals",
			fmt.Sprintf("vol%d_no%d_%d_%s.pdf", volume, number, year, period))
		if err := c.SaveUploadedFile(file, destination); err != nil {
			log.Error("Failed to store uploaded journal PDF", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store uploaded file"})
			return
		}

		journal := models.Journal{
			Volume:       volume,
			Number:       number,
			Year:         year,
			Period:       period,
			SSN:          c.PostForm("ssn"),
			PDFFile:      destination,
			IngestStatus: models.IngestPending,
		}
		if err := db.Create(&journal).Error; err != nil {
			log.Error("Failed to create journal", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create journal"})
			return
		}
		journalsUploadedCounter.Inc()

		sync.JournalSaved(c.Request.Context(), &journal)

		created, err := ingest.JournalSaved(c.Request.Context(), &journal, true)
		if err != nil {
			// Ingestion problems never fail the upload: the journal row is
			// already durable and its ingest_status records the failure.
			log.Error("Journal ingestion failed", zap.Uint("journal_id", journal.ID), zap.Error(err))
		}
		articlesExtractedCounter.Add(float64(created))

		db.Preload("Articles", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("article_number")
		}).Preload("Articles.Tags").First(&journal, journal.ID)
		c.JSON(http.StatusCreated, toJournalResponse(journal))
	})

	// GET - List all journal issues
	rg.GET("/", func(c *gin.Context) {
		var journals []models.Journal
		err := db.Preload("Articles", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("article_number")
		}).Preload("Articles.Tags").Order("year desc, volume desc, number desc").Find(&journals).Error
		if err != nil {
			log.Error("Database query for journals failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		responses := make([]journalResponse, 0, len(journals))
		for _, j := range journals {
			responses = append(responses, toJournalResponse(j))
		}
		c.JSON(http.StatusOK, responses)
	})

	// GET - Single journal with its articles
	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var journal models.Journal
		err := db.Preload("Articles", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("article_number")
		}).Preload("Articles.Tags").First(&journal, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "journal not found"})
				return
			}
			log.Error("Database error while fetching journal", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, toJournalResponse(journal))
	})

	// PUT - Admin edits to journal metadata. Updates never re-trigger
	// ingestion; the remote mirror is refreshed.
	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var journal models.Journal
		if err := db.First(&journal, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "journal not found"})
				return
			}
			log.Error("DB error checking for journal on PUT", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := db.Model(&journal).Updates(updateData).Error; err != nil {
			log.Error("DB error updating journal", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update journal"})
			return
		}

		if _, err := ingest.JournalSaved(c.Request.Context(), &journal, false); err != nil {
			log.Error("Unexpected ingestion on journal update", zap.String("id", id), zap.Error(err))
		}
		sync.JournalSaved(c.Request.Context(), &journal)

		c.JSON(http.StatusOK, toJournalResponse(journal))
	})

	// DELETE - Remove a journal and its articles (cascade), including
	// their remote mirror documents.
	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var journal models.Journal
		if err := db.Preload("Articles").First(&journal, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "journal not found"})
				return
			}
			log.Error("DB error checking for journal on DELETE", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if err := db.Select(clause.Associations).Delete(&journal).Error; err != nil {
			log.Error("Failed to delete journal", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete journal"})
			return
		}

		for i := range journal.Articles {
			sync.ArticleDeleted(c.Request.Context(), &journal.Articles[i])
		}

		c.JSON(http.StatusOK, gin.H{"message": "journal deleted"})
	})
}

func setupArticleRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, sync *services.SyncService, log *zap.Logger) {
	rg := router.Group("/articles")

	// GET - List articles, optionally filtered by journal
	rg.GET("/", func(c *gin.Context) {
		query := db.Preload("Tags").Order("article_number")
		if journalID := c.Query("journal_id"); journalID != "" {
			query = query.Where("journal_id = ?", journalID)
		}
		var articles []models.Article
		if err := query.Find(&articles).Error; err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	// GET - Single article
	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.Preload("Tags").First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("Database error while fetching article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	// POST - Create an article directly (outside the ingestion pipeline)
	rg.POST("/", func(c *gin.Context) {
		var article models.Article
		if err := c.ShouldBindJSON(&article); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if article.JournalID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "journal_id is required"})
			return
		}

		if err := db.Create(&article).Error; err != nil {
			log.Error("Failed to create article", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create article"})
			return
		}
		if err := services.AttachDefaultTags(db, &article, cfg.DefaultTags); err != nil {
			log.Warn("Failed to attach default tags", zap.Uint("article_id", article.ID), zap.Error(err))
		}

		sync.ArticleSaved(c.Request.Context(), &article)

		log.Info("Article created", zap.Uint("id", article.ID), zap.String("title", article.Title))
		c.JSON(http.StatusCreated, article)
	})

	// PUT - Update article metadata
	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error checking for article on PUT", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := db.Model(&article).Updates(updateData).Error; err != nil {
			log.Error("DB error updating article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update article"})
			return
		}

		sync.ArticleSaved(c.Request.Context(), &article)

		c.JSON(http.StatusOK, article)
	})

	// DELETE - Remove an article and its remote mirror document
	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error checking for article on DELETE", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if err := db.Select(clause.Associations).Delete(&article).Error; err != nil {
			log.Error("Failed to delete article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete article"})
			return
		}

		sync.ArticleDeleted(c.Request.Context(), &article)

		c.JSON(http.StatusOK, gin.H{"message": "article deleted"})
	})
}

func setupTagRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/tags")
	rg.POST("/", func(c *gin.Context) {
		var tag models.Tag
		if err := c.ShouldBindJSON(&tag); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&tag).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create tag"})
			return
		}
		c.JSON(http.StatusCreated, tag)
	})
	rg.GET("/", func(c *gin.Context) {
		var tags []models.Tag
		if err := db.Find(&tags).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, tags)
	})
}

func seedDefaultTags(db *gorm.DB, cfg *config.Config, logger *zap.Logger) {
	var count int64
	db.Model(&models.Tag{}).Count(&count)
	if count > 0 {
		return
	}
	tags := make([]models.Tag, 0, len(cfg.DefaultTags))
	for _, name := range cfg.DefaultTags {
		tags = append(tags, models.Tag{Name: name})
	}
	if err := db.Create(&tags).Error; err != nil {
		logger.Warn("Failed to seed default tags", zap.Error(err))
	} else {
		logger.Info("Default tags seeded.")
	}
}
