package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MinTextLength is the trimmed text length below which a PDF is treated as scanned.
const MinTextLength = 50

// Result is what the extractor could read from a digital PDF.
// NeedsOCR is set for scanned documents and for any structural failure;
// Failure then carries the reason for logging.
type Result struct {
	Header
	Text     string
	Tables   []Table
	Pages    int
	NeedsOCR bool
	Failure  string
}

// Extract reads text and tables from PDF bytes. It never returns an error:
// anything it cannot read is reported through NeedsOCR.
func Extract(data []byte) (res *Result) {
	res = &Result{}
	defer func() {
		if r := recover(); r != nil {
			*res = Result{NeedsOCR: true, Failure: fmt.Sprintf("pdf panic: %v", r)}
		}
	}()

	text, pages, err := pdfText(data)
	res.Pages = pages
	if err != nil {
		res.NeedsOCR = true
		res.Failure = err.Error()
		return res
	}
	res.Text = text
	if len(strings.TrimSpace(text)) < MinTextLength {
		res.NeedsOCR = true
		return res
	}
	res.Header = ExtractHeader(text)
	res.Tables = GroupTables(text)
	return res
}

func pdfText(data []byte) (string, int, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf: %w", err)
	}
	var text strings.Builder
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		text.WriteString(contentText(string(content)))
	}
	return text.String(), ctx.PageCount, nil
}
