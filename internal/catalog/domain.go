package catalog

import (
	"time"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
)

// Entry is a registered item together with the code assigned to it.
type Entry struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	CodeCategory codes.Category `json:"code_category"`
	CodeValue    string         `json:"code_value"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Fixture is an entry with a predetermined code, used for seeding.
type Fixture struct {
	Name         string
	CodeValue    string
	CodeCategory codes.Category
}

// DefaultFixtures is the demo catalog loaded by the seed command.
var DefaultFixtures = []Fixture{
	{Name: "Field Scanner Kit", CodeValue: "BAR-0001", CodeCategory: codes.CategoryBarcode},
	{Name: "Rugged Case", CodeValue: "BAR-0002", CodeCategory: codes.CategoryBarcode},
	{Name: "Battery Pack", CodeValue: "BAR-0003", CodeCategory: codes.CategoryBarcode},
	{Name: "Docking Station", CodeValue: "BAR-0004", CodeCategory: codes.CategoryBarcode},
	{Name: "Label Roll - Small", CodeValue: "BAR-0005", CodeCategory: codes.CategoryBarcode},
	{Name: "Pallet Tag", CodeValue: "QR-1001", CodeCategory: codes.CategoryQR},
	{Name: "Return Crate", CodeValue: "QR-1002", CodeCategory: codes.CategoryQR},
	{Name: "Warehouse Zone", CodeValue: "QR-1003", CodeCategory: codes.CategoryQR},
}

// EntryAllocatedEvent is journaled when the allocator assigns a new code.
type EntryAllocatedEvent struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	CodeCategory codes.Category `json:"code_category"`
	CodeValue    string         `json:"code_value"`
}
