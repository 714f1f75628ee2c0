package vacuum

import "github.com/pkg/errors"

var (
	// ErrUnexpectedVisibility is returned when the visibility oracle classifies a tuple with an unknown result.
	// the run is aborted because the page cannot be processed safely
	ErrUnexpectedVisibility = errors.New("unexpected result from visibility oracle")
	// ErrStoreAllocation is returned when the dead tuple store cannot be allocated
	ErrStoreAllocation = errors.New("cannot allocate dead tuple store")
	// ErrInvalidParams is returned when the vacuum parameters are out of range
	ErrInvalidParams = errors.New("invalid vacuum parameters")

	// errTruncateLockNotAvailable is returned while AccessExclusive lock cannot be taken for truncation
	errTruncateLockNotAvailable = errors.New("truncate lock not available")
)
