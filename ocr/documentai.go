package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// DocumentAIConfigFromEnv reads DOCUMENTAI_PROCESSOR and DOCUMENTAI_LOCATION.
// The project falls back to the Pub/Sub project.
func DocumentAIConfigFromEnv() DocumentAIConfig {
	cfg := DocumentAIConfig{
		ProjectID:   firstEnv("DOCUMENTAI_PROJECT_ID", "PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		Location:    firstEnv("DOCUMENTAI_LOCATION"),
		ProcessorID: firstEnv("DOCUMENTAI_PROCESSOR"),
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	return cfg
}

// ProcessorName accepts either a bare processor id or a full resource name.
func (c DocumentAIConfig) ProcessorName() string {
	if strings.HasPrefix(c.ProcessorID, "projects/") {
		return c.ProcessorID
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIProvider runs a Document AI OCR processor on the raw document.
type DocumentAIProvider struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
}

func NewDocumentAIProvider(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIProvider, error) {
	const op = "NewDocumentAIProvider"
	if cfg.ProcessorID == "" || (cfg.ProjectID == "" && !strings.HasPrefix(cfg.ProcessorID, "projects/")) {
		return nil, WrapOCRError(op, ErrMissingConfiguration, "DOCUMENTAI_PROCESSOR and a project id are required")
	}
	var opts []option.ClientOption
	if cfg.Location != "" && cfg.Location != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create document ai client for location "+cfg.Location)
	}
	return &DocumentAIProvider{client: client, config: cfg}, nil
}

func (d *DocumentAIProvider) Name() string { return ProviderDocumentAI }

func (d *DocumentAIProvider) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

func (d *DocumentAIProvider) Recognize(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	const op = "DocumentAIRecognize"
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: d.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("document ai call failed: %v", err))
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}
	return documentAIResult(resp.GetDocument())
}

// documentAIResult maps page tokens to regions using their text anchors.
func documentAIResult(doc *documentaipb.Document) (*Result, error) {
	text := doc.GetText()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	var regions []Region
	for _, page := range doc.GetPages() {
		for _, token := range page.GetTokens() {
			layout := token.GetLayout()
			regions = append(regions, Region{
				Text:       strings.TrimSpace(anchorText(text, layout.GetTextAnchor())),
				Confidence: float64(layout.GetConfidence()),
			})
		}
	}
	return &Result{
		Text:       text,
		Pages:      len(doc.GetPages()),
		Confidence: MeanConfidence(regions),
		Regions:    regions,
	}, nil
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
