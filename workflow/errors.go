package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/purchase_backend/models"
)

var (
	ErrExtractionFailure   = errors.New("document extraction failed")
	ErrParseAmbiguity      = errors.New("document parsed with low confidence")
	ErrMatchBelowThreshold = errors.New("match confidence below threshold")
	ErrValidationFailed    = errors.New("validation failed")
	ErrConfirmConflict     = errors.New("invoice cannot be confirmed")
	ErrDeliveryFailure     = errors.New("event delivery failed")
	ErrQueueFull           = errors.New("ingestion queue is full")
	ErrInvoiceConfirmed    = errors.New("invoice already confirmed")

	// ErrInsufficientStock is the ledger's shortfall error.
	ErrInsufficientStock = models.ErrInsufficientStock
)

// Reasons carried by ConfirmConflictError.
const (
	ConflictAlreadyConfirmed = models.ConfirmBlockAlreadyConfirmed
	ConflictUnresolvedLines  = models.ConfirmBlockUnresolvedLines
	ConflictNoMatchedLines   = models.ConfirmBlockNoMatchedLines
	ConflictNotReady         = models.ConfirmBlockNotReady
)

type ConfirmConflictError struct {
	InvoiceId         string   `json:"invoice_id"`
	Reason            string   `json:"reason"`
	UnresolvedLineIds []string `json:"unresolved_line_ids,omitempty"`
}

func (e *ConfirmConflictError) Error() string {
	if len(e.UnresolvedLineIds) > 0 {
		return fmt.Sprintf("invoice %s cannot be confirmed: %s (%d lines: %s)",
			e.InvoiceId, e.Reason, len(e.UnresolvedLineIds), strings.Join(e.UnresolvedLineIds, ", "))
	}
	return fmt.Sprintf("invoice %s cannot be confirmed: %s", e.InvoiceId, e.Reason)
}

func (e *ConfirmConflictError) Is(target error) bool {
	if target == ErrConfirmConflict {
		return true
	}
	return target == ErrInvoiceConfirmed && e.Reason == ConflictAlreadyConfirmed
}

// ValidationError is returned by operations rejected on input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }
