/*
Index access method interface used by vacuum.
Vacuum does not know how each index is organized. It only asks the index
- to remove every entry the callback says is dead (bulk delete)
- to report its size after vacuum (cleanup)
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/amapi.h#L163-L170
*/
package index

import (
	"context"

	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

// DeleteCallback reports whether the index entry pointing to tid has to be removed
type DeleteCallback func(tid tuple.Tid) bool

// BulkDeleteResult is the statistics of the index after bulk delete and cleanup
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/access/genam.h#L63-L79
type BulkDeleteResult struct {
	// NumPages is the number of pages in the index
	NumPages uint32
	// NumIndexTuples is the number of remaining entries
	NumIndexTuples float64
	// TuplesRemoved is the number of entries removed by bulk delete
	TuplesRemoved float64
	// EstimatedCount is true when NumIndexTuples is an estimate
	EstimatedCount bool
}

// VacuumInfo is passed to cleanup
type VacuumInfo struct {
	// NumHeapTuples is the number of live heap tuples (or estimate)
	NumHeapTuples float64
	// EstimatedCount is true when NumHeapTuples is an estimate
	EstimatedCount bool
}

// AccessMethod is the part of index access method vacuum uses
type AccessMethod interface {
	// Name is the unique name of the index, which is the key of its statistics
	Name() string
	// BulkDelete removes every entry whose heap tid the callback reports dead.
	// stats is nil on the first call of the vacuum, and the returned stats is passed to the next call
	BulkDelete(ctx context.Context, callback DeleteCallback, stats *BulkDeleteResult) (*BulkDeleteResult, error)
	// Cleanup is called once after all bulk deletes. stats is nil when BulkDelete has never been called.
	// it may return nil when it has nothing to report
	Cleanup(ctx context.Context, info VacuumInfo, stats *BulkDeleteResult) (*BulkDeleteResult, error)
}
