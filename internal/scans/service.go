package scans

import (
	"context"
	"errors"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
)

var (
	ErrInvalidCode        = errors.New("scans: code value must not be empty")
	ErrUnknownCode        = errors.New("scans: unknown code, no matching product")
	ErrScanNotFound       = errors.New("scans: scan not found")
	ErrInvalidTransition  = errors.New("scans: disposition already set, transition not allowed")
	ErrInvalidDisposition = errors.New("scans: invalid disposition")
)

// Service defines the interface for the scan service.
type Service interface {
	// RecordScan stores a scan of codeValue unless one was already captured
	// within cooldown, in which case that event is returned as a duplicate.
	RecordScan(ctx context.Context, codeValue string, category codes.Category, cooldown time.Duration) (*RecordResult, error)
	// UpdateDisposition moves a scan out of AWAITING. At most one call per
	// scan ever succeeds.
	UpdateDisposition(ctx context.Context, id uuid.UUID, target Disposition) (*Event, error)
	GetScan(ctx context.Context, id uuid.UUID) (*Event, error)
	// ListScans returns scans newest first, optionally restricted to one
	// disposition.
	ListScans(ctx context.Context, filter *Disposition) ([]*Event, error)
}
