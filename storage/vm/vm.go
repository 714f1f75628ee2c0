/*
Visibility map is mainly for the performance improvement of vacuum and index only scan.
The vm status of each heap page is represented with 2 bits.

The lower bit (all-visible) indicates all tuples in the page are visible to all transactions.
Vacuum can skip such a page because it contains no dead tuple.
Vacuum sets it after checking every tuple, writers (insert/update/delete) clear it.

The higher bit (all-frozen) indicates all tuples on the page have been frozen.
An aggressive vacuum, which must freeze everything older than the freeze limit, can skip only such pages.
all-frozen is never set without all-visible.

The page-level all-visible flag (see page package) is a copy of the lower bit.
The map is the authority, but vacuum cross-checks the two and repairs disagreements.

Interface
- UpdateStatus(page.PagePtr, page.PageID, flags): replace the status of pageID with flags
- GetStatus(page.PagePtr, page.PageID): get the status of pageID

see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/backend/access/heap/visibilitymap.c#L3
*/
package vm

import "github.com/HayatoShiba/ppvacuum/storage/page"

// UpdateStatus replaces the status of page with the flags
// the caller has to hold pin and exclusive content lock on the buffer which stores the vm page.
func UpdateStatus(p page.PagePtr, relPageID page.PageID, flags uint8) {
	addr := getAddressFromPageID(relPageID)
	shift := 6 - addr.bitOffset

	// update the bits we want to update to 00. other bits are not changed
	mask := byte(0x03 << shift)
	b := p[addr.byteOffset] & ^mask
	p[addr.byteOffset] = b | (Normalize(flags) << shift)
}

// GetStatus gets the status of page
// the caller has to hold pin and shared content lock on the buffer which stores the vm page.
func GetStatus(p page.PagePtr, relPageID page.PageID) uint8 {
	addr := getAddressFromPageID(relPageID)
	b := p[addr.byteOffset] >> (6 - addr.bitOffset)
	return b & StatusValidBits
}

const (
	// each page's status is represented with 2 bits
	nodeBits = 2
	// how many vm node can be stored within a byte
	nodeNumPerByte = 8 / nodeBits
	// map bytes follow the page header
	mapBytesPerPage = page.PageSize - page.HeaderSize
	// how many vm node can be stored within a vm page
	nodeNumPerPage = mapBytesPerPage * nodeNumPerByte
)

// GetVMPageIDFromPageID returns vm page id which contains the node of relation's page id
func GetVMPageIDFromPageID(relPageID page.PageID) page.PageID {
	return relPageID / page.PageID(nodeNumPerPage)
}

// FirstHeapPageID returns the first heap page id whose bits are stored in the vm page
func FirstHeapPageID(vmPageID page.PageID) page.PageID {
	return vmPageID * page.PageID(nodeNumPerPage)
}

// address is the address of vm bits
type address struct {
	// byteOffset is byte offset within the vm page
	byteOffset uint
	// bitOffset is bit offset within the byte in the vm page. this value can be 0,2,4,6.
	bitOffset uint
}

// getAddressFromPageID returns the location of the vm node of relation's page id
func getAddressFromPageID(relPageID page.PageID) address {
	inPage := uint(relPageID % page.PageID(nodeNumPerPage))
	return address{
		byteOffset: uint(page.HeaderSize) + inPage/nodeNumPerByte,
		bitOffset:  (inPage % nodeNumPerByte) * nodeBits,
	}
}
