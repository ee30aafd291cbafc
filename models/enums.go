package models

import (
	"errors"
	"strings"
)

type InvoiceStatus string

const (
	InvoiceStatusProcessing  InvoiceStatus = "processing"
	InvoiceStatusParsed      InvoiceStatus = "parsed"
	InvoiceStatusNeedsReview InvoiceStatus = "needs_review"
	InvoiceStatusConfirmed   InvoiceStatus = "confirmed"
	InvoiceStatusFailed      InvoiceStatus = "failed"
)

type LineStatus string

const (
	LineStatusPending     LineStatus = "pending"
	LineStatusMatched     LineStatus = "matched"
	LineStatusNeedsReview LineStatus = "needs_review"
	LineStatusIgnored     LineStatus = "ignored"
)

// IsResolved reports whether the line no longer blocks confirmation.
func (s LineStatus) IsResolved() bool {
	return s == LineStatusMatched || s == LineStatusIgnored
}

type MatchType string

const (
	MatchTypeSku           MatchType = "sku"
	MatchTypeBarcode       MatchType = "barcode"
	MatchTypeVendorMapping MatchType = "vendor_mapping"
	MatchTypeExactName     MatchType = "exact_name"
	MatchTypeFuzzy         MatchType = "fuzzy"
	MatchTypeManual        MatchType = "manual"
	MatchTypeCreated       MatchType = "created"
	MatchTypeNone          MatchType = "none"
)

type ExtractionMethod string

const (
	ExtractionMethodText ExtractionMethod = "text"
	ExtractionMethodOCR  ExtractionMethod = "ocr"
)

type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusResolved TaskStatus = "resolved"
)

type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusDeducted ReservationStatus = "deducted"
	ReservationStatusReleased ReservationStatus = "released"
)

type LineAction string

const (
	LineActionMatch  LineAction = "match"
	LineActionCreate LineAction = "create"
	LineActionIgnore LineAction = "ignore"
)

func ParseLineAction(v string) (LineAction, error) {
	switch a := LineAction(strings.ToLower(strings.TrimSpace(v))); a {
	case LineActionMatch, LineActionCreate, LineActionIgnore:
		return a, nil
	}
	return "", errors.New("action must be one of match, create, ignore")
}

// Event types written to the outbox.
const (
	EventTypeInvoiceParsed          = "invoice.parsed.v1"
	EventTypePurchaseReceiptCreated = "purchase.receipt.created.v1"
	EventTypeInventoryRestocked     = "inventory.restocked.v1"
)

// Aggregate types carried on outbox events.
const (
	AggregateParsedInvoice   = "parsed_invoice"
	AggregatePurchaseReceipt = "purchase_receipt"
)
