package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/middlewares"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/ocr"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/mmdatafocus/purchase_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("purchase_backend")

// application holds what the handlers need. wire sets the fields once,
// before ready is flipped; the readiness gate keeps requests away until then.
type application struct {
	logger     *logrus.Logger
	settings   config.IngestionSettings
	db         *gorm.DB
	svc        *workflow.Service
	dispatcher *workflow.OutboxDispatcher
	ready      atomic.Bool

	uploadLimit  int64
	uploadWindow time.Duration
}

func newApplication(logger *logrus.Logger, settings config.IngestionSettings) *application {
	return &application{
		logger:       logger,
		settings:     settings,
		uploadLimit:  int64(config.IntFromEnv("UPLOAD_RATE_LIMIT", 30)),
		uploadWindow: config.DurationFromEnv("UPLOAD_RATE_WINDOW", time.Minute),
	}
}

// wire builds the ingestion stack over db. The returned queue is not
// started.
func (a *application) wire(ctx context.Context, db *gorm.DB) *workflow.IngestQueue {
	store, err := newDocumentStore(ctx)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"field": "documents"}).Warn("GCS unavailable; keeping documents in memory: " + err.Error())
		store = utils.NewMemoryDocumentStore()
	}

	provider, err := ocr.NewProviderFromEnv(ctx)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"field": "ocr"}).Warn("OCR disabled: " + err.Error())
		provider = ocr.DisabledProvider{}
	}

	var catalog matcher.Catalog = models.NewGormCatalog(db)
	pipeline := &workflow.Pipeline{
		DB:       db,
		Logger:   a.logger,
		Store:    store,
		OCR:      ocr.NewService(provider, a.settings.OCRTimeout, a.logger),
		Catalog:  catalog,
		Settings: a.settings,
	}
	svc := &workflow.Service{
		DB:       db,
		Logger:   a.logger,
		Store:    store,
		Pipeline: pipeline,
		Settings: a.settings,
	}
	queue := workflow.NewIngestQueue(svc.ProcessJob, a.settings.Workers, a.settings.QueueSize, a.settings.MaxAttempts, a.logger)
	queue.OnAttempt = svc.RecordAttempt
	svc.Queue = queue

	a.db = db
	a.svc = svc
	a.dispatcher = workflow.NewOutboxDispatcher(db, a.logger, workflow.NewPubSubTransport(os.Getenv("PUBSUB_TOPIC")))
	return queue
}

func newDocumentStore(ctx context.Context) (utils.DocumentStore, error) {
	if strings.TrimSpace(os.Getenv("GCS_BUCKET")) == "" {
		return nil, errors.New("GCS_BUCKET is not set")
	}
	return utils.NewGCSDocumentStore(ctx)
}

// readinessGate returns 503 for everything but the health endpoints until the
// database is connected.
func (a *application) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/readyz":
			c.Next()
			return
		}
		if !a.ready.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			return
		}
		c.Next()
	}
}

func (a *application) readyz(c *gin.Context) {
	if !a.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	status := gin.H{"ready": true, "redis": config.GetRedisDB() != nil}
	if a.svc != nil && a.svc.Queue != nil {
		status["ingest_queue"] = a.svc.Queue.Len()
	}
	c.JSON(http.StatusOK, status)
}

func (a *application) router() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.RequestContext())
	r.Use(a.readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", a.readyz)

	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(a.logger))
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	{
		invoices := v1.Group("/purchases/invoices")
		invoices.POST("/upload", a.uploadRateLimit(), a.uploadInvoice)
		invoices.GET("/:id", a.getInvoice)
		invoices.POST("/:id/lines/:lineId/action", a.lineAction)
		invoices.POST("/:id/auto-match", a.autoMatch)
		invoices.GET("/:id/validate", a.validateInvoice)
		invoices.POST("/:id/confirm", a.confirmInvoice)
		invoices.GET("/:id/receipt.xlsx", a.exportReceipt)

		v1.GET("/products/search", a.searchProducts)
		v1.POST("/products/import", a.importProducts)
		v1.POST("/vendors", a.upsertVendor)

		v1.GET("/reconciliation/tasks", a.listTasks)
		v1.PUT("/reconciliation/tasks/:id/resolve", a.resolveTask)

		v1.POST("/inventory/reserve", a.reserveStock)
		v1.POST("/inventory/deduct", a.deductStock)
		v1.POST("/inventory/release", a.releaseStock)
		v1.GET("/inventory/expiring", a.expiringBatches)
		v1.GET("/inventory/stock", a.stockSummary)
	}

	ops := r.Group("/internal/ops/outbox")
	ops.GET("/stats", a.outboxStats)
	ops.POST("/revert-dead", a.revertDeadOutbox)
	ops.POST("/dispatch", a.dispatchOutbox)

	r.NoRoute(customNotFoundHandler)
	return r
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production only the CORS_ALLOWED_ORIGINS allowlist is accepted.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", middlewares.HeaderCorrelationId, middlewares.HeaderIdempotencyKey, middlewares.HeaderUser)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	app := newApplication(logger, config.LoadIngestionSettings())

	// Listen first; app endpoints answer 503 until the database is up.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: app.router(),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if config.BoolFromEnv("REDIS_DISABLED") {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_DISABLED=true; confirm locks and rate limits are off")
	} else {
		config.ConnectRedisWithRetry()
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can hold DDL locks; large deployments run it as a job.
	if !config.BoolFromEnv("SKIP_MIGRATIONS") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	queue := app.wire(workerCtx, db)
	queue.Start()
	go app.dispatcher.Run(workerCtx)
	go workflow.NewStaleSweeper(db, queue, logger, app.settings).Run(workerCtx)
	app.ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info(fmt.Sprintf("listening on :%s", port))
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop accepting new work before draining requests.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	queue.Stop()

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"trace_id": cid,
				"path":     c.FullPath(),
				"status":   c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
