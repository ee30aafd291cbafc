package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorInvalidInput = errors.New("invalid input")

// ErrUnsupportedDocument is returned for uploads that are not a pdf or a scanned image.
var ErrUnsupportedDocument = errors.New("unsupported document type")

// ErrDocumentTooLarge is returned for uploads above the configured size limit.
var ErrDocumentTooLarge = errors.New("document exceeds maximum upload size")

// ErrResourceLocked is returned when another worker holds the resource lock.
var ErrResourceLocked = errors.New("resource is locked by another request")
