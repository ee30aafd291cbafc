package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/mmdatafocus/purchase_backend/utils"
	"google.golang.org/api/option"
)

// VisionProvider runs DOCUMENT_TEXT_DETECTION on Google Cloud Vision.
type VisionProvider struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionProvider uses GOOGLE_CREDENTIALS (inline JSON), then
// GOOGLE_APPLICATION_CREDENTIALS, then default credentials.
func NewVisionProvider(ctx context.Context) (*VisionProvider, error) {
	const op = "NewVisionProvider"
	var opts []option.ClientOption
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create vision client")
	}
	return &VisionProvider{client: client}, nil
}

func (v *VisionProvider) Name() string { return ProviderVision }

func (v *VisionProvider) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func (v *VisionProvider) Recognize(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	const op = "VisionRecognize"
	feature := []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}

	if utils.IsImageDocument(mimeType) {
		resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
			Requests: []*visionpb.AnnotateImageRequest{{
				Image:    &visionpb.Image{Content: data},
				Features: feature,
			}},
		})
		if err != nil {
			return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("vision api call failed: %v", err))
		}
		return visionResult(resp.GetResponses())
	}

	if mimeType != utils.MimePDF {
		return nil, WrapOCRError(op, ErrUnsupportedMimeType, mimeType)
	}
	resp, err := v.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: data, MimeType: mimeType},
			Features:    feature,
		}},
	})
	if err != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("vision api call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return nil, WrapOCRError(op, ErrOCRFailed, "no response from vision api")
	}
	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, WrapOCRError(op, ErrOCRFailed, fileResp.GetError().GetMessage())
	}
	return visionResult(fileResp.GetResponses())
}

// visionResult joins page texts and collects per-word confidences.
func visionResult(pages []*visionpb.AnnotateImageResponse) (*Result, error) {
	var (
		text    strings.Builder
		regions []Region
	)
	for i, page := range pages {
		if page.GetError() != nil {
			return nil, WrapOCRError("visionResult", ErrOCRFailed, fmt.Sprintf("page %d: %s", i+1, page.GetError().GetMessage()))
		}
		annotation := page.GetFullTextAnnotation()
		if annotation == nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(annotation.GetText())
		for _, p := range annotation.GetPages() {
			for _, block := range p.GetBlocks() {
				for _, para := range block.GetParagraphs() {
					for _, word := range para.GetWords() {
						var w strings.Builder
						for _, sym := range word.GetSymbols() {
							w.WriteString(sym.GetText())
						}
						regions = append(regions, Region{Text: w.String(), Confidence: float64(word.GetConfidence())})
					}
				}
			}
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, ErrEmptyDocument
	}
	return &Result{
		Text:       text.String(),
		Pages:      len(pages),
		Confidence: MeanConfidence(regions),
		Regions:    regions,
	}, nil
}
