// Package codes defines the scannable code categories and the sequential
// numbering scheme used to mint new code values.
package codes

import (
	"fmt"
	"strconv"
)

// Category is the format class of a scannable code.
type Category string

const (
	// CategoryBarcode holds short sequential codes (BAR-0001, BAR-0002, ...).
	CategoryBarcode Category = "BARCODE"
	// CategoryQR holds long sequential codes (QR-1001, QR-1002, ...).
	CategoryQR Category = "QR"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryBarcode, CategoryQR}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBarcode, CategoryQR:
		return true
	}
	return false
}

// padWidth is the minimum digit count of a formatted code. Wider numbers are
// never truncated.
const padWidth = 4

// Scheme describes how codes of one category are minted.
type Scheme struct {
	Prefix string `json:"prefix" mapstructure:"prefix"`
	Start  int64  `json:"start" mapstructure:"start"`
}

// Format renders n as "<prefix>-<n zero-padded to 4 digits>".
func (s Scheme) Format(n int64) string {
	return fmt.Sprintf("%s-%0*d", s.Prefix, padWidth, n)
}

// Next returns the number that follows latest. An empty or unparsable latest
// code restarts the sequence at the scheme's start number.
func (s Scheme) Next(latest string) int64 {
	n, ok := ParseSuffix(latest)
	if !ok {
		return s.Start
	}
	return n + 1
}

func (s Scheme) valid() bool {
	return s.Prefix != "" && s.Start >= 0
}

// ParseSuffix extracts the trailing run of ASCII digits from code and parses
// it as a base-10 integer. It reports false when there is no trailing digit
// or the number does not fit in an int64.
func ParseSuffix(code string) (int64, bool) {
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	if i == len(code) {
		return 0, false
	}
	n, err := strconv.ParseInt(code[i:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Table maps each category to its numbering scheme.
type Table map[Category]Scheme

// DefaultTable returns the built-in schemes.
func DefaultTable() Table {
	return Table{
		CategoryBarcode: {Prefix: "BAR", Start: 1},
		CategoryQR:      {Prefix: "QR", Start: 1001},
	}
}

// Scheme returns the scheme configured for c. Missing or malformed entries
// fall back to the built-in scheme for that category.
func (t Table) Scheme(c Category) Scheme {
	if s, ok := t[c]; ok && s.valid() {
		return s
	}
	return DefaultTable()[c]
}
