package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service is the reconciliation workflow: upload, review actions, validation
// and confirmation of vendor invoices.
type Service struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Store    utils.DocumentStore
	Pipeline *Pipeline
	Queue    *IngestQueue
	Settings config.IngestionSettings
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func actor(ctx context.Context) string {
	if v, ok := utils.GetUserNameFromContext(ctx); ok && v != "" {
		return v
	}
	return "system"
}

type UploadInput struct {
	VendorId int    `json:"vendor_id" validate:"required,gt=0"`
	ShopId   int    `json:"shop_id" validate:"required,gt=0"`
	Source   string `json:"source" validate:"omitempty,max=50"`
	Data     []byte `json:"-"`
}

type UploadResult struct {
	InvoiceId       string               `json:"invoice_id"`
	Status          models.InvoiceStatus `json:"status"`
	TraceId         string               `json:"trace_id"`
	LineCount       int                  `json:"line_count"`
	ConfidenceScore decimal.Decimal      `json:"confidence_score"`
}

// Upload stores the document, records a processing invoice and hands it to
// the ingestion queue. Without a queue the pipeline runs inline and the
// result reflects the parsed invoice.
func (s *Service) Upload(ctx context.Context, input *UploadInput) (*UploadResult, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if s.Settings.MaxUploadBytes > 0 && int64(len(input.Data)) > s.Settings.MaxUploadBytes {
		return nil, utils.ErrDocumentTooLarge
	}
	if len(input.Data) == 0 {
		return nil, &ValidationError{Field: "file", Message: "document is empty"}
	}
	mimeType, err := utils.DetectDocumentType(input.Data)
	if err != nil {
		return nil, err
	}
	if _, err := models.GetVendor(ctx, s.DB, input.VendorId); err != nil {
		return nil, fmt.Errorf("vendor %d: %w", input.VendorId, err)
	}
	if _, err := models.GetShop(ctx, s.DB, input.ShopId); err != nil {
		return nil, fmt.Errorf("shop %d: %w", input.ShopId, err)
	}

	traceId := utils.CorrelationIdOrNew(ctx)
	ctx = utils.SetCorrelationIdInContext(ctx, traceId)
	inv := &models.ParsedInvoice{
		ID:                  uuid.NewString(),
		VendorId:            input.VendorId,
		ShopId:              input.ShopId,
		Source:              strings.TrimSpace(input.Source),
		DocumentMimeType:    mimeType,
		DocumentFingerprint: utils.DocumentFingerprint(input.Data),
		Currency:            s.Settings.Currency,
		TraceId:             traceId,
	}
	inv.DocumentPath = utils.DocumentObjectName(inv.VendorId, inv.ID, mimeType)
	if err := s.Store.Put(ctx, inv.DocumentPath, input.Data, mimeType); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if err := models.CreateInvoicePlaceholder(ctx, s.DB, inv); err != nil {
		return nil, err
	}

	result := &UploadResult{InvoiceId: inv.ID, Status: models.InvoiceStatusProcessing, TraceId: traceId}
	if s.Queue != nil {
		if err := s.Queue.Submit(IngestJob{InvoiceId: inv.ID, TraceId: traceId}); err != nil {
			_ = models.RecordIngestAttempt(ctx, s.DB, inv.ID, err, true)
			return nil, err
		}
		return result, nil
	}

	if err := s.Pipeline.ProcessInvoice(ctx, inv.ID); err != nil {
		_ = models.RecordIngestAttempt(ctx, s.DB, inv.ID, err, true)
		return nil, err
	}
	parsed, err := models.GetParsedInvoice(ctx, s.DB, inv.ID)
	if err != nil {
		return nil, err
	}
	result.Status = parsed.Status
	result.LineCount = len(parsed.Lines)
	result.ConfidenceScore = parsed.ConfidenceScore
	return result, nil
}

// RecordAttempt is the queue's AttemptFunc: it keeps the invoice's attempt
// counter and moves it to failed once retries are exhausted.
func (s *Service) RecordAttempt(ctx context.Context, job IngestJob, err error, final bool) {
	if err == nil {
		return
	}
	if rerr := models.RecordIngestAttempt(ctx, s.DB, job.InvoiceId, err, final); rerr != nil && s.Logger != nil {
		config.LogError(s.Logger, "workflow", "RecordAttempt", "record ingest attempt", job.InvoiceId, rerr)
	}
}

type InvoiceDetail struct {
	*models.ParsedInvoice
	Summary models.InvoiceSummary `json:"summary"`
}

func (s *Service) GetInvoice(ctx context.Context, invoiceId string) (*InvoiceDetail, error) {
	inv, err := models.GetParsedInvoice(ctx, s.DB, invoiceId)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetail{ParsedInvoice: inv, Summary: inv.Summary()}, nil
}

type LineActionInput struct {
	Action    string             `json:"action" validate:"required"`
	ProductId int                `json:"product_id"`
	Product   *models.NewProduct `json:"product"`
	Notes     string             `json:"notes"`
}

type LineActionResult struct {
	Line          *models.ParsedInvoiceLine `json:"line"`
	InvoiceStatus models.InvoiceStatus      `json:"invoice_status"`
	ProductId     *int                      `json:"product_id,omitempty"`
}

// ApplyLineAction resolves one line by hand: bind it to a product, create a
// product from it, or ignore it. Its pending tasks are resolved with it.
func (s *Service) ApplyLineAction(ctx context.Context, invoiceId, lineId string, input *LineActionInput) (*LineActionResult, error) {
	action, err := models.ParseLineAction(input.Action)
	if err != nil {
		return nil, &ValidationError{Field: "action", Message: err.Error()}
	}
	if action == models.LineActionMatch && input.ProductId <= 0 {
		return nil, &ValidationError{Field: "product_id", Message: "product_id is required for match"}
	}
	by := actor(ctx)

	var result LineActionResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := models.LockParsedInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusConfirmed {
			return &ConfirmConflictError{InvoiceId: invoiceId, Reason: ConflictAlreadyConfirmed}
		}
		var line *models.ParsedInvoiceLine
		for i := range inv.Lines {
			if inv.Lines[i].ID == lineId {
				line = &inv.Lines[i]
				break
			}
		}
		if line == nil {
			return utils.ErrorRecordNotFound
		}

		one := decimal.NewFromInt(1)
		switch action {
		case models.LineActionMatch:
			if _, err := models.GetProduct(ctx, tx, input.ProductId); err != nil {
				return fmt.Errorf("product %d: %w", input.ProductId, err)
			}
			if err := models.BindLineToProduct(tx, line, input.ProductId, models.MatchTypeManual, one); err != nil {
				return err
			}
			if err := models.ReinforceVendorMapping(ctx, tx, inv.VendorId, line.Description, input.ProductId, one); err != nil {
				return err
			}
		case models.LineActionCreate:
			product, err := models.CreateProduct(ctx, tx, newProductFromLine(line, input.Product))
			if err != nil {
				return err
			}
			if err := models.BindLineToProduct(tx, line, product.ID, models.MatchTypeCreated, one); err != nil {
				return err
			}
			if err := models.ReinforceVendorMapping(ctx, tx, inv.VendorId, line.Description, product.ID, one); err != nil {
				return err
			}
		case models.LineActionIgnore:
			if err := models.IgnoreLine(tx, line); err != nil {
				return err
			}
		}

		if err := models.ResolveTasksForLine(tx, line.ID, by, input.Notes); err != nil {
			return err
		}
		status, err := models.RefreshInvoiceStatus(tx, invoiceId)
		if err != nil {
			return err
		}
		result = LineActionResult{Line: line, InvoiceStatus: status, ProductId: line.MatchedProductId}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// newProductFromLine fills a new catalog product from the parsed line where
// the caller left fields empty.
func newProductFromLine(line *models.ParsedInvoiceLine, input *models.NewProduct) *models.NewProduct {
	p := models.NewProduct{}
	if input != nil {
		p = *input
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = line.Description
	}
	if p.HsnCode == "" {
		p.HsnCode = line.HsnCode
	}
	if p.TaxRate.IsZero() {
		p.TaxRate = line.TaxRate
	}
	if p.PurchasePrice.IsZero() {
		p.PurchasePrice = line.UnitPrice
	}
	return &p
}

type AutoMatchResult struct {
	InvoiceId     string               `json:"invoice_id"`
	Threshold     float64              `json:"threshold"`
	Promoted      int                  `json:"promoted"`
	LineIds       []string             `json:"line_ids"`
	InvoiceStatus models.InvoiceStatus `json:"invoice_status"`
}

// AutoMatch promotes suggested matches scoring at least threshold. A zero
// threshold uses the configured auto-match threshold.
func (s *Service) AutoMatch(ctx context.Context, invoiceId string, threshold float64) (*AutoMatchResult, error) {
	if threshold == 0 {
		threshold = s.Settings.AutoMatchThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, &ValidationError{Field: "threshold", Message: "threshold must be within (0, 1]"}
	}
	by := actor(ctx)
	result := &AutoMatchResult{InvoiceId: invoiceId, Threshold: threshold, LineIds: []string{}}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := models.LockParsedInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusConfirmed {
			return &ConfirmConflictError{InvoiceId: invoiceId, Reason: ConflictAlreadyConfirmed}
		}
		promoted, err := models.PromoteSuggestedLines(tx, invoiceId, models.ConfidenceDecimal(threshold))
		if err != nil {
			return err
		}
		for _, l := range promoted {
			if err := models.ResolveTasksForLine(tx, l.ID, by, "auto-matched"); err != nil {
				return err
			}
			result.LineIds = append(result.LineIds, l.ID)
		}
		result.Promoted = len(promoted)
		result.InvoiceStatus, err = models.RefreshInvoiceStatus(tx, invoiceId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ListTasks(ctx context.Context, f models.TaskFilter) ([]*models.ReconciliationTask, error) {
	return models.ListReconciliationTasks(ctx, s.DB, f)
}

func (s *Service) ResolveTask(ctx context.Context, taskId int, notes string) (*models.ReconciliationTask, error) {
	return models.ResolveReconciliationTask(ctx, s.DB, taskId, actor(ctx), notes)
}

// ProcessJob adapts the pipeline to the ingestion queue.
func (s *Service) ProcessJob(ctx context.Context, invoiceId string) error {
	if s.Pipeline == nil {
		return errors.New("ingestion pipeline is not configured")
	}
	return s.Pipeline.ProcessInvoice(ctx, invoiceId)
}
