package fsm

import (
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

/*
Free space size is defined with 1 byte for space efficiency.
Free space size within page can be 8192 at most because of page size.
so the mapping is below. (this mapping is cited from postgres)

* Range	 Category
* 0	   - 31   0
* 32   - 63   1
* ...    ...  ...
* 8096 - 8127 253
* 8128 - 8163 254
* 8164 - 8192 255

for more details, see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L36-L63
*/
type freeSpaceSize uint8

const (
	fsmCategories = 256
	fsmCatStep    = page.PageSize / fsmCategories
	maxFSMRequest = page.PageSize - page.HeaderSize
	maxCategory   = fsmCategories - 1
)

// convertToFreeSpaceSize converts available bytes to free space size, rounding down
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L370
func convertToFreeSpaceSize(size int) (freeSpaceSize, bool) {
	if (size > page.PageSize) || (size < 0) {
		return 0, false
	}
	if size >= maxFSMRequest {
		return freeSpaceSize(maxCategory), true
	}
	cat := size / fsmCatStep
	if cat > maxCategory-1 {
		cat = maxCategory - 1
	}
	return freeSpaceSize(cat), true
}

// spaceNeededToFreeSpaceSize converts requested bytes to the smallest category which surely has them, rounding up
// see https://github.com/postgres/postgres/blob/bfcf1b34805f70df48eedeec237230d0cc1154a6/src/backend/storage/freespace/freespace.c#L416
func spaceNeededToFreeSpaceSize(size int) (freeSpaceSize, bool) {
	if (size > maxFSMRequest) || (size < 0) {
		return 0, false
	}
	if size == 0 {
		return 1, true
	}
	cat := (size + fsmCatStep - 1) / fsmCatStep
	if cat > maxCategory {
		cat = maxCategory
	}
	return freeSpaceSize(cat), true
}

// toBytes returns the lower bound of free bytes the category stands for
func (s freeSpaceSize) toBytes() int {
	if s == maxCategory {
		return maxFSMRequest
	}
	return int(s) * fsmCatStep
}
