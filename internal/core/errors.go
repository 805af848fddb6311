package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNothingToImport is returned when no converted row has both SKU and name.
	ErrNothingToImport = errors.New("nothing to import: no rows have both sku and name")

	ErrSKUNotFound     = errors.New("sku not found")
	ErrProductNotFound = errors.New("product not found")
	ErrOrgNotFound     = errors.New("organization not found")

	// ErrZeroDelta rejects count events that would not change a total.
	ErrZeroDelta = errors.New("zero quantity adjustment")

	// ErrConfirmationRequired guards irreversible bulk deletes.
	ErrConfirmationRequired = errors.New("confirmation required for destructive operation")

	// ErrTooManyImports is returned when all import slots stay occupied for
	// the configured wait time. Clients should retry after a short delay.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

	ErrEmptyFile      = errors.New("empty file")
	ErrFileTooLarge   = errors.New("file too large")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrUnknownField   = errors.New("unknown product field")
	ErrUnknownReport  = errors.New("unknown report kind")
	ErrEmptyUpdate    = errors.New("update has no fields")
	ErrInvalidProduct = errors.New("invalid product: sku and name are required")
	ErrSnapshotClosed = errors.New("snapshot closed")
)

// MappingError reports required product fields that have no usable column.
type MappingError struct {
	Missing []ProductField
}

func (e *MappingError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = f.Key()
	}
	return "missing required mapping: " + strings.Join(names, ", ")
}

// InvalidTotalError rejects an absolute total that is not an integer.
// Current is the last valid aggregate, which callers should display again.
type InvalidTotalError struct {
	Input   string
	Current int
}

func (e *InvalidTotalError) Error() string {
	return fmt.Sprintf("invalid total %q: current total remains %d", e.Input, e.Current)
}
