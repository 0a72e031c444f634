package tablestore

import (
	"context"
	"errors"
)

// Row is one logical table row keyed by column name. All cells are text;
// typed interpretation happens at the cache boundary.
type Row map[string]string

// ErrTableNotFound is returned by GetTable when the named table does not
// exist in the backing store. Callers are expected to self-heal by calling
// CreateTable once.
var ErrTableNotFound = errors.New("table not found")

// Store is the tabular store adapter boundary. Implementations provide no
// transactions and no compare-and-swap: OverwriteTable replaces the whole
// table, AppendRow adds a single row. Callers own write serialization.
type Store interface {
	// GetTable returns all rows of the named table in order. The first
	// physical row is treated as the header and is not returned.
	GetTable(ctx context.Context, name string) ([]Row, error)

	// CreateTable creates an empty table. rowHint and colHint are sizing
	// hints for backends that preallocate grids.
	CreateTable(ctx context.Context, name string, rowHint, colHint int) error

	// OverwriteTable replaces the whole table with header + rows. Cells
	// missing from a row are written empty.
	OverwriteTable(ctx context.Context, name string, header []string, rows []Row) error

	// AppendRow appends a single row, self-healing the header row if the
	// table is empty or its header does not match.
	AppendRow(ctx context.Context, name string, header []string, row Row) error
}
