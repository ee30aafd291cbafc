package ocr

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/disintegration/imaging"
	"github.com/mmdatafocus/purchase_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	res      *Result
	err      error
	delay    time.Duration
	mimeSeen string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Recognize(ctx context.Context, _ []byte, mimeType string) (*Result, error) {
	f.mimeSeen = mimeType
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.res, f.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return l
}

func TestMeanConfidence(t *testing.T) {
	assert.Equal(t, 0.0, MeanConfidence(nil))
	assert.InDelta(t, 0.8, MeanConfidence([]Region{{Confidence: 0.9}, {Confidence: 0.7}}), 1e-9)
}

func TestServiceComputesConfidenceFromRegions(t *testing.T) {
	p := &fakeProvider{res: &Result{Text: "Arnica 30C 2 pcs 85.00", Regions: []Region{{Confidence: 1}, {Confidence: 0.5}}}}
	res := NewService(p, time.Second, quietLogger()).Recognize(context.Background(), []byte("%PDF"), utils.MimePDF)
	assert.Equal(t, "Arnica 30C 2 pcs 85.00", res.Text)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.Equal(t, utils.MimePDF, p.mimeSeen)
}

func TestServiceSwallowsFailures(t *testing.T) {
	cases := []struct {
		name string
		p    Provider
	}{
		{"provider error", &fakeProvider{err: WrapOCRError("Recognize", ErrOCRFailed, "boom")}},
		{"timeout", &fakeProvider{res: &Result{Text: "late"}, delay: time.Second}},
		{"disabled", DisabledProvider{}},
		{"nil result", &fakeProvider{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := NewService(tc.p, 20*time.Millisecond, quietLogger()).Recognize(context.Background(), []byte("%PDF"), utils.MimePDF)
			require.NotNil(t, res)
			assert.Empty(t, res.Text)
			assert.Zero(t, res.Confidence)
		})
	}
}

func TestServicePreprocessesImages(t *testing.T) {
	img := imaging.New(2400, 100, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))

	p := &fakeProvider{res: &Result{Text: "x"}}
	NewService(p, time.Second, quietLogger()).Recognize(context.Background(), buf.Bytes(), utils.MimeJPEG)
	assert.Equal(t, utils.MimePNG, p.mimeSeen)
}

func TestPrepareImage(t *testing.T) {
	img := imaging.New(2400, 120, color.NRGBA{R: 10, G: 200, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	out, err := PrepareImage(buf.Bytes())
	require.NoError(t, err)
	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxImageWidth, decoded.Bounds().Dx())
	assert.Equal(t, 100, decoded.Bounds().Dy())
	r, g, b, _ := decoded.At(10, 10).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)

	_, err = PrepareImage([]byte("not an image"))
	var ocrErr *OCRError
	assert.True(t, errors.As(err, &ocrErr))
}

func visionWord(text string, conf float32) *visionpb.Word {
	var symbols []*visionpb.Symbol
	for _, r := range text {
		symbols = append(symbols, &visionpb.Symbol{Text: string(r)})
	}
	return &visionpb.Word{Symbols: symbols, Confidence: conf}
}

func TestVisionResult(t *testing.T) {
	page := &visionpb.AnnotateImageResponse{
		FullTextAnnotation: &visionpb.TextAnnotation{
			Text: "Nux Vomica 30C",
			Pages: []*visionpb.Page{{
				Blocks: []*visionpb.Block{{
					Paragraphs: []*visionpb.Paragraph{{
						Words: []*visionpb.Word{visionWord("Nux", 0.9), visionWord("Vomica", 0.8), visionWord("30C", 0.7)},
					}},
				}},
			}},
		},
	}
	res, err := visionResult([]*visionpb.AnnotateImageResponse{page})
	require.NoError(t, err)
	assert.Equal(t, "Nux Vomica 30C", res.Text)
	require.Len(t, res.Regions, 3)
	assert.Equal(t, "Vomica", res.Regions[1].Text)
	assert.InDelta(t, 0.8, res.Confidence, 1e-6)

	_, err = visionResult([]*visionpb.AnnotateImageResponse{{}})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestDocumentAIResult(t *testing.T) {
	segment := func(start, end int64) *documentaipb.Document_TextAnchor {
		return &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}}}
	}
	doc := &documentaipb.Document{
		Text: "Belladonna 200C",
		Pages: []*documentaipb.Document_Page{{
			Tokens: []*documentaipb.Document_Page_Token{
				{Layout: &documentaipb.Document_Page_Layout{TextAnchor: segment(0, 11), Confidence: 0.95}},
				{Layout: &documentaipb.Document_Page_Layout{TextAnchor: segment(11, 15), Confidence: 0.85}},
			},
		}},
	}
	res, err := documentAIResult(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, "Belladonna", res.Regions[0].Text)
	assert.Equal(t, "200C", res.Regions[1].Text)
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)

	_, err = documentAIResult(&documentaipb.Document{})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestProcessorName(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p1", Location: "eu", ProcessorID: "abc"}
	assert.Equal(t, "projects/p1/locations/eu/processors/abc", cfg.ProcessorName())
	cfg.ProcessorID = "projects/x/locations/us/processors/y"
	assert.Equal(t, "projects/x/locations/us/processors/y", cfg.ProcessorName())
}
