package utils

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/crypto/blake2b"
	"google.golang.org/api/option"
)

// DocumentStore keeps raw vendor documents addressed by path.
type DocumentStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// GCSDocumentStore stores documents in a Google Cloud Storage bucket.
type GCSDocumentStore struct {
	client *storage.Client
	bucket string
}

// NewGCSDocumentStore builds a store from GCS_BUCKET and, when set, GCS_CREDENTIALS_JSON.
// Without explicit JSON it uses Application Default Credentials.
func NewGCSDocumentStore(ctx context.Context) (*GCSDocumentStore, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	var (
		client *storage.Client
		err    error
	)
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &GCSDocumentStore{client: client, bucket: bucketName}, nil
}

func (s *GCSDocumentStore) Put(ctx context.Context, objectName string, data []byte, contentType string) error {
	wc := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload document to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func (s *GCSDocumentStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *GCSDocumentStore) Close() error {
	return s.client.Close()
}

// MemoryDocumentStore is a process-local store for local runs and tests.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{objs: make(map[string][]byte)}
}

func (s *MemoryDocumentStore) Put(_ context.Context, objectName string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objs[objectName] = bytes.Clone(data)
	return nil
}

func (s *MemoryDocumentStore) Get(_ context.Context, objectName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objs[objectName]
	if !ok {
		return nil, ErrorRecordNotFound
	}
	return bytes.Clone(b), nil
}

const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeTIFF = "image/tiff"
)

var documentMimeTypes = map[string]string{
	MimePDF:  ".pdf",
	MimePNG:  ".png",
	MimeJPEG: ".jpg",
	MimeTIFF: ".tiff",
}

// DetectDocumentType sniffs the content type and rejects anything that is not
// a pdf or a scanned image.
func DetectDocumentType(data []byte) (string, error) {
	if len(data) >= 4 && string(data[:4]) == "%PDF" {
		return MimePDF, nil
	}
	// http.DetectContentType does not know TIFF.
	if len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))) {
		return MimeTIFF, nil
	}
	mimeType := http.DetectContentType(data)
	if _, ok := documentMimeTypes[mimeType]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, mimeType)
}

// IsImageDocument reports whether the content type is a raster image.
func IsImageDocument(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// DocumentObjectName builds the storage path for a raw vendor document.
func DocumentObjectName(vendorId int, invoiceId string, mimeType string) string {
	ext := documentMimeTypes[mimeType]
	if ext == "" {
		ext = ".bin"
	}
	return path.Join("invoices", fmt.Sprintf("%d", vendorId), invoiceId+ext)
}

// DocumentFingerprint is a stable content hash used to detect re-uploads of the same file.
func DocumentFingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
