package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/extract"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/ocr"
	"github.com/mmdatafocus/purchase_backend/parser"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("purchase_backend/workflow")

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// matchConcurrency bounds the number of lines matched at once per invoice.
const matchConcurrency = 8

// Pipeline turns a stored document into parsed, matched invoice lines.
type Pipeline struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Store    utils.DocumentStore
	OCR      *ocr.Service
	Catalog  matcher.Catalog
	Settings config.IngestionSettings
}

func (p *Pipeline) matcher() *matcher.Matcher {
	return matcher.New(p.Catalog, matcher.Config{
		FuzzyThreshold: p.Settings.FuzzyThreshold,
		Timeout:        p.Settings.MatchTimeout,
	})
}

// ProcessInvoice runs extraction, OCR fallback, parsing and matching for a
// processing invoice and persists the outcome. Invoices that already left
// processing are skipped, so a redelivered job is harmless.
func (p *Pipeline) ProcessInvoice(ctx context.Context, invoiceId string) (err error) {
	ctx, span := tracer.Start(ctx, "ProcessInvoice")
	span.SetAttributes(attribute.String("invoice_id", invoiceId))
	defer func() { endSpan(span, err) }()

	inv, err := models.GetParsedInvoice(ctx, p.DB, invoiceId)
	if err != nil {
		return err
	}
	if inv.Status != models.InvoiceStatusProcessing {
		return nil
	}
	if inv.TraceId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, inv.TraceId)
	}

	data, err := p.Store.Get(ctx, inv.DocumentPath)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", ErrExtractionFailure, inv.DocumentPath, err)
	}

	parsed := ParseDocumentBytes(ctx, p.OCR, data, inv.DocumentMimeType)
	span.SetAttributes(
		attribute.String("extraction_method", parsed.Method),
		attribute.Int("line_count", len(parsed.Lines)),
	)

	results := p.MatchLines(ctx, inv.VendorId, parsed.Lines)
	lines, tasks := BuildLines(parsed.Lines, results, inv.VendorId, p.Settings)
	outcome := BuildParseOutcome(parsed, lines, tasks)

	if err := models.SaveParseOutcome(ctx, p.DB, invoiceId, outcome); err != nil {
		if errors.Is(err, models.ErrInvoiceNotProcessing) {
			// another job for the same invoice got there first
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":      "IngestPipeline",
					"invoice_id": invoiceId,
				}).Warn("parse outcome discarded: " + err.Error())
			}
			return nil
		}
		return err
	}
	p.reinforceMappings(ctx, inv.VendorId, outcome.Lines)

	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"field":      "IngestPipeline",
			"invoice_id": invoiceId,
			"trace_id":   inv.TraceId,
			"method":     parsed.Method,
			"lines":      len(lines),
			"status":     outcome.Status,
		}).Info("invoice parsed")
	}
	return nil
}

// ParseDocumentBytes extracts a digital PDF directly and falls back to OCR
// for scans and images. It never fails; an unreadable document yields no
// lines and zero confidence.
func ParseDocumentBytes(ctx context.Context, ocrService *ocr.Service, data []byte, mimeType string) *parser.Result {
	if mimeType == utils.MimePDF || mimeType == "" {
		doc := extract.Extract(data)
		if !doc.NeedsOCR {
			return parser.ParseDocument(doc)
		}
	}
	recognized := ocrService.Recognize(ctx, data, mimeType)
	return parser.ParseOCRText(recognized.Text, recognized.Confidence)
}

// MatchLines matches every line with bounded concurrency. A line whose
// matching fails is treated as unmatched.
func (p *Pipeline) MatchLines(ctx context.Context, vendorId int, lines []parser.RawLine) []*matcher.Result {
	m := p.matcher()
	results := make([]*matcher.Result, len(lines))
	var g errgroup.Group
	g.SetLimit(matchConcurrency)
	for i := range lines {
		g.Go(func() error {
			res, err := m.Match(ctx, matcher.Query{VendorId: vendorId, Description: lines[i].Description})
			if err != nil {
				if p.Logger != nil {
					p.Logger.WithFields(logrus.Fields{
						"field":   "IngestPipeline",
						"line_no": lines[i].LineNo,
					}).Warn("match failed: " + err.Error())
				}
				res = &matcher.Result{MatchType: matcher.MatchTypeNone}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// DecideLineStatus applies the reconciliation thresholds to a match
// confidence. needsTask is set when the line must be queued for a human.
func DecideLineStatus(confidence float64, s config.IngestionSettings) (status models.LineStatus, needsTask bool) {
	if confidence >= s.AutoMatchThreshold {
		return models.LineStatusMatched, false
	}
	return models.LineStatusNeedsReview, confidence < s.LowConfidenceThreshold
}

// BuildLines turns parsed lines and their match results into invoice lines
// and the reconciliation tasks they raise.
func BuildLines(raw []parser.RawLine, results []*matcher.Result, vendorId int, s config.IngestionSettings) ([]models.ParsedInvoiceLine, []models.ReconciliationTask) {
	lines := make([]models.ParsedInvoiceLine, 0, len(raw))
	var tasks []models.ReconciliationTask
	for i, r := range raw {
		line := models.ParsedInvoiceLine{
			ID:          uuid.NewString(),
			LineNo:      r.LineNo,
			RawText:     r.RawText,
			Description: r.Description,
			Qty:         r.Qty,
			UnitPrice:   r.UnitPrice,
			TaxRate:     r.TaxRate,
			TaxAmount:   r.TaxAmount,
			LineTotal:   r.LineTotal,
			BatchNo:     r.BatchNo,
			ExpiryDate:  r.ExpiryDate,
			HsnCode:     r.HsnCode,
		}
		var res *matcher.Result
		if i < len(results) {
			res = results[i]
		}
		line.ApplyMatchResult(res)

		confidence := 0.0
		if res != nil && res.Product != nil {
			confidence = res.Confidence
		}
		status, needsTask := DecideLineStatus(confidence, s)
		line.Status = status
		if status == models.LineStatusMatched {
			line.MatchedProductId = line.SuggestedProductId
		}
		if needsTask {
			tasks = append(tasks, models.ReconciliationTask{
				LineId:           line.ID,
				VendorId:         vendorId,
				Reason:           taskReason(res, confidence, s),
				SuggestedActions: line.Suggestions,
				Status:           models.TaskStatusPending,
			})
		}
		lines = append(lines, line)
	}
	return lines, tasks
}

func taskReason(res *matcher.Result, confidence float64, s config.IngestionSettings) string {
	switch {
	case res != nil && res.TimedOut:
		return "matching timed out"
	case res == nil || res.Product == nil:
		return "no catalog match"
	}
	return fmt.Sprintf("%s: %.2f < %.2f", ErrMatchBelowThreshold.Error(), confidence, s.LowConfidenceThreshold)
}

// BuildParseOutcome assembles the header fields persisted with the lines.
func BuildParseOutcome(parsed *parser.Result, lines []models.ParsedInvoiceLine, tasks []models.ReconciliationTask) *models.ParseOutcome {
	outcome := &models.ParseOutcome{
		InvoiceDate:      parsed.InvoiceDate,
		Confidence:       models.ConfidenceDecimal(parsed.Confidence),
		ExtractionMethod: models.ExtractionMethod(parsed.Method),
		Status:           models.InvoiceStatusForLines(lines),
		Lines:            lines,
		Tasks:            tasks,
	}
	if parsed.InvoiceNumber != "" {
		n := parsed.InvoiceNumber
		outcome.InvoiceNumber = &n
	}
	if parsed.TotalAmount.IsPositive() {
		t := parsed.TotalAmount
		outcome.TotalAmount = &t
	}
	return outcome
}

// reinforceMappings teaches the vendor mapping from confident automatic
// matches. Failures only cost a future lookup, so they are logged.
func (p *Pipeline) reinforceMappings(ctx context.Context, vendorId int, lines []models.ParsedInvoiceLine) {
	threshold := decimal.NewFromFloat(p.Settings.AutoMatchThreshold)
	for _, l := range lines {
		if l.Status != models.LineStatusMatched || l.MatchedProductId == nil {
			continue
		}
		if l.MatchType == models.MatchTypeVendorMapping || l.MatchConfidence.LessThan(threshold) {
			continue
		}
		err := models.ReinforceVendorMapping(ctx, p.DB, vendorId, l.Description, *l.MatchedProductId, l.MatchConfidence)
		if err != nil && p.Logger != nil {
			config.LogError(p.Logger, "workflow", "reinforceMappings", "vendor mapping", l.ID, err)
		}
	}
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, utils.ErrorRecordNotFound) || errors.Is(err, ErrInvoiceConfirmed)
}
