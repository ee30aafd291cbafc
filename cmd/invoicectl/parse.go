package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/ocr"
	"github.com/mmdatafocus/purchase_backend/parser"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/mmdatafocus/purchase_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse [document]",
	Short: "Parse a vendor invoice without storing it",
	Long: `Run extraction, OCR fallback and line parsing on a local pdf or image.

With --match the lines are also matched against the product catalog in the
database for the given vendor.`,
	Example: `  invoicectl parse invoice.pdf
  invoicectl parse scan.jpg --ocr documentai --json
  invoicectl parse invoice.pdf --match --vendor-id 12`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().String("ocr", "", "OCR provider: vision, documentai or none (default: OCR_PROVIDER)")
	parseCmd.Flags().Duration("timeout", 0, "OCR timeout (default: OCR_TIMEOUT)")
	parseCmd.Flags().Bool("match", false, "Match lines against the catalog")
	parseCmd.Flags().Int("vendor-id", 0, "Vendor for learned mappings when matching")
}

type parsedLineOutput struct {
	LineNo      int             `json:"line_no"`
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	BatchNo     string          `json:"batch_no,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	HsnCode     string          `json:"hsn_code,omitempty"`
	Match       *matcher.Result `json:"match,omitempty"`
}

type parseOutput struct {
	File          string             `json:"file"`
	MimeType      string             `json:"mime_type"`
	Method        string             `json:"method"`
	Confidence    float64            `json:"confidence"`
	InvoiceNumber string             `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time         `json:"invoice_date,omitempty"`
	TotalAmount   *decimal.Decimal   `json:"total_amount,omitempty"`
	Lines         []parsedLineOutput `json:"lines"`
}

func ocrProvider(ctx context.Context, name string) (ocr.Provider, error) {
	if name == "" {
		return ocr.NewProviderFromEnv(ctx)
	}
	switch name {
	case ocr.ProviderNone:
		return ocr.DisabledProvider{}, nil
	case ocr.ProviderVision:
		return ocr.NewVisionProvider(ctx)
	case ocr.ProviderDocumentAI:
		return ocr.NewDocumentAIProvider(ctx, ocr.DocumentAIConfigFromEnv())
	default:
		return nil, fmt.Errorf("unknown OCR provider %q", name)
	}
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	settings := config.LoadIngestionSettings()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if int64(len(data)) > settings.MaxUploadBytes {
		return utils.ErrDocumentTooLarge
	}
	mimeType, err := utils.DetectDocumentType(data)
	if err != nil {
		return err
	}

	providerName, _ := cmd.Flags().GetString("ocr")
	provider, err := ocrProvider(ctx, providerName)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = settings.OCRTimeout
	}
	res := workflow.ParseDocumentBytes(ctx, ocr.NewService(provider, timeout, logger()), data, mimeType)

	var matches []*matcher.Result
	if doMatch, _ := cmd.Flags().GetBool("match"); doMatch && len(res.Lines) > 0 {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		vendorId, _ := cmd.Flags().GetInt("vendor-id")
		pipeline := &workflow.Pipeline{DB: db, Logger: logger(), Catalog: models.NewGormCatalog(db), Settings: settings}
		matches = pipeline.MatchLines(ctx, vendorId, res.Lines)
	}

	out := buildParseOutput(args[0], mimeType, res, matches)
	if wantJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) method=%s confidence=%.2f invoice=%s\n",
		out.File, out.MimeType, out.Method, out.Confidence, out.InvoiceNumber)
	rows := make([][]string, 0, len(out.Lines))
	for _, l := range out.Lines {
		match := "-"
		if l.Match != nil && l.Match.Product != nil {
			match = fmt.Sprintf("%s (%s %.2f)", l.Match.Product.Name, l.Match.MatchType, l.Match.Confidence)
		}
		rows = append(rows, []string{
			strconv.Itoa(l.LineNo), l.Description, l.Qty.String(), l.UnitPrice.StringFixed(2),
			l.LineTotal.StringFixed(2), l.TaxRate.String(), l.BatchNo, match,
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"#", "DESCRIPTION", "QTY", "RATE", "TOTAL", "TAX%", "BATCH", "MATCH"}, rows)
}

func buildParseOutput(file, mimeType string, res *parser.Result, matches []*matcher.Result) parseOutput {
	out := parseOutput{
		File:          file,
		MimeType:      mimeType,
		Method:        res.Method,
		Confidence:    res.Confidence,
		InvoiceNumber: res.InvoiceNumber,
		InvoiceDate:   res.InvoiceDate,
		Lines:         make([]parsedLineOutput, 0, len(res.Lines)),
	}
	if res.TotalAmount.IsPositive() {
		total := res.TotalAmount
		out.TotalAmount = &total
	}
	for i, l := range res.Lines {
		line := parsedLineOutput{
			LineNo:      l.LineNo,
			Description: l.Description,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
			TaxRate:     l.TaxRate,
			BatchNo:     l.BatchNo,
			ExpiryDate:  l.ExpiryDate,
			HsnCode:     l.HsnCode,
		}
		if i < len(matches) {
			line.Match = matches[i]
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}
