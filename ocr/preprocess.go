package ocr

import (
	"bytes"

	"github.com/disintegration/imaging"
)

// MaxImageWidth bounds preprocessed scans; wider images are downscaled.
const MaxImageWidth = 2000

// PrepareImage converts a scanned image to a grayscale, contrast-boosted PNG
// no wider than MaxImageWidth.
func PrepareImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, WrapOCRError("PrepareImage", err, "decode image")
	}
	if img.Bounds().Dx() > MaxImageWidth {
		img = imaging.Resize(img, MaxImageWidth, 0, imaging.Lanczos)
	}
	gray := imaging.AdjustContrast(imaging.Grayscale(img), 20)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, WrapOCRError("PrepareImage", err, "encode png")
	}
	return buf.Bytes(), nil
}
