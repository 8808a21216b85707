package scans

import (
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
)

// Disposition is the outcome assigned to a scan event.
type Disposition string

const (
	DispositionAwaiting Disposition = "AWAITING"
	DispositionDeploy   Disposition = "DEPLOY"
	DispositionReturn   Disposition = "RETURN"
)

// Valid reports whether d is one of the known dispositions.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionAwaiting, DispositionDeploy, DispositionReturn:
		return true
	}
	return false
}

// Terminal reports whether d is a disposition a scan can be moved into.
func (d Disposition) Terminal() bool {
	return d == DispositionDeploy || d == DispositionReturn
}

// DefaultCooldown is the duplicate window used when none is configured.
const DefaultCooldown = 5 * time.Second

// NormalizeCooldown returns d when it is positive and DefaultCooldown
// otherwise.
func NormalizeCooldown(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCooldown
	}
	return d
}

// Event is one recorded observation of a code.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	CodeValue      string         `json:"code_value"`
	CodeCategory   codes.Category `json:"code_category"`
	CatalogEntryID uuid.UUID      `json:"catalog_entry_id"`
	Disposition    Disposition    `json:"disposition"`
	CapturedAt     time.Time      `json:"captured_at"`
	Entry          *catalog.Entry `json:"product,omitempty"`
}

// RecordResult is returned by RecordScan. WasDuplicate is set when an event
// inside the cooldown window was returned instead of a new one.
type RecordResult struct {
	Scan         *Event `json:"scan"`
	WasDuplicate bool   `json:"was_duplicate"`
}

// ScanRecordedEvent is journaled when a new scan event is written.
type ScanRecordedEvent struct {
	ID             uuid.UUID      `json:"id"`
	CodeValue      string         `json:"code_value"`
	CodeCategory   codes.Category `json:"code_category"`
	CatalogEntryID uuid.UUID      `json:"catalog_entry_id"`
	CapturedAt     time.Time      `json:"captured_at"`
}

// ScanDisposedEvent is journaled when a scan leaves AWAITING.
type ScanDisposedEvent struct {
	ID          uuid.UUID   `json:"id"`
	Disposition Disposition `json:"disposition"`
}
