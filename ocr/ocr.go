package ocr

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/sirupsen/logrus"
)

// Region is one recognized unit (word or token) with its confidence in [0,1].
type Region struct {
	Text       string
	Confidence float64
}

type Result struct {
	Text       string
	Pages      int
	Confidence float64
	Regions    []Region
}

// Provider recognizes text in a pdf or image document.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// MeanConfidence averages region confidences. No regions means zero.
func MeanConfidence(regions []Region) float64 {
	if len(regions) == 0 {
		return 0
	}
	var sum float64
	for _, r := range regions {
		sum += r.Confidence
	}
	return sum / float64(len(regions))
}

const (
	ProviderVision     = "vision"
	ProviderDocumentAI = "documentai"
	ProviderNone       = "none"
)

// NewProviderFromEnv builds the provider named by OCR_PROVIDER.
// An empty value selects Cloud Vision.
func NewProviderFromEnv(ctx context.Context) (Provider, error) {
	switch name := strings.ToLower(strings.TrimSpace(os.Getenv("OCR_PROVIDER"))); name {
	case "", ProviderVision:
		return NewVisionProvider(ctx)
	case ProviderDocumentAI:
		return NewDocumentAIProvider(ctx, DocumentAIConfigFromEnv())
	case ProviderNone:
		return DisabledProvider{}, nil
	default:
		return nil, WrapOCRError("NewProviderFromEnv", ErrMissingConfiguration, "unknown OCR_PROVIDER "+name)
	}
}

// DisabledProvider always fails, so scanned invoices go straight to review.
type DisabledProvider struct{}

func (DisabledProvider) Name() string { return ProviderNone }

func (DisabledProvider) Recognize(context.Context, []byte, string) (*Result, error) {
	return nil, ErrProviderDisabled
}

// Service bounds recognition time and turns provider failures into an empty
// result, so OCR never fails the pipeline.
type Service struct {
	Provider Provider
	Timeout  time.Duration
	Logger   *logrus.Logger
}

func NewService(p Provider, timeout time.Duration, logger *logrus.Logger) *Service {
	return &Service{Provider: p, Timeout: timeout, Logger: logger}
}

// Recognize returns the recognized text, or an empty result when the
// provider fails or times out. Image uploads are preprocessed first.
func (s *Service) Recognize(ctx context.Context, data []byte, mimeType string) *Result {
	if s == nil || s.Provider == nil {
		return &Result{}
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if utils.IsImageDocument(mimeType) {
		prepared, err := PrepareImage(data)
		if err != nil {
			s.logFailure(ctx, "PrepareImage", err)
		} else {
			data, mimeType = prepared, utils.MimePNG
		}
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Provider.Recognize(ctx, data, mimeType)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		s.logFailure(ctx, "Recognize", WrapOCRError("Recognize", ctx.Err(), "timeout"))
		return &Result{}
	case o := <-done:
		if o.err != nil {
			s.logFailure(ctx, "Recognize", o.err)
			return &Result{}
		}
		if o.res == nil {
			return &Result{}
		}
		if o.res.Confidence == 0 && len(o.res.Regions) > 0 {
			o.res.Confidence = MeanConfidence(o.res.Regions)
		}
		return o.res
	}
}

func (s *Service) logFailure(ctx context.Context, fn string, err error) {
	if s.Logger == nil || errors.Is(err, ErrProviderDisabled) {
		return
	}
	traceId, _ := utils.GetCorrelationIdFromContext(ctx)
	s.Logger.WithFields(logrus.Fields{
		"field":    "OCR",
		"provider": s.Provider.Name(),
		"funcName": fn,
		"trace_id": traceId,
	}).Warn(err.Error())
}
