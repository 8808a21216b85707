package catalog

import (
	"context"
	"errors"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
)

var (
	ErrInvalidName     = errors.New("catalog: name must not be empty")
	ErrUnknownCategory = errors.New("catalog: unknown code category")
	ErrCodeConflict    = errors.New("catalog: code value already assigned")
	ErrEntryNotFound   = errors.New("catalog: entry not found")
)

// Service defines the interface for the catalog service.
type Service interface {
	// Allocate registers a new entry under the next unused code of category.
	Allocate(ctx context.Context, name string, category codes.Category) (*Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListEntries(ctx context.Context) ([]*Entry, error)
	// Seed inserts missing fixtures and renames existing ones. It returns the
	// number of entries inserted.
	Seed(ctx context.Context, fixtures []Fixture) (int, error)
}
