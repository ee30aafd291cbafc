package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrOCRFailed is returned when the provider could not process the document.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrEmptyDocument is returned when recognition found no text at all.
	ErrEmptyDocument = errors.New("document contains no readable text")

	ErrUnsupportedMimeType = errors.New("unsupported document mime type")

	// ErrProviderDisabled is returned by the provider used when OCR_PROVIDER=none.
	ErrProviderDisabled = errors.New("OCR provider disabled")

	ErrMissingConfiguration = errors.New("missing OCR provider configuration")
)

// OCRError wraps a provider failure with the operation that failed.
type OCRError struct {
	Op      string
	Err     error
	Details string
}

func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

func (e *OCRError) Unwrap() error {
	return e.Err
}

// WrapOCRError wraps err as an OCRError unless it already is one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}
	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}
	return &OCRError{Op: op, Err: err, Details: details}
}
