package vm

// vm status bits of one heap page
// see https://github.com/postgres/postgres/blob/97c61f70d1b97bdfd20dcb1f2b1be42862ec88c2/src/include/access/visibilitymapdefs.h#L19-L23
const (
	// nothing is known about the page
	StatusInitialized uint8 = 0x00
	// all tuples within the page is visible to any transaction
	StatusAllVisible uint8 = 0x01
	// all tuples within the page is frozen
	StatusAllFrozen uint8 = 0x02
	// both bits
	StatusValidBits = StatusAllVisible | StatusAllFrozen
)

// IsAllVisible checks whether the status indicates all-visible or not
func IsAllVisible(flags uint8) bool {
	return (flags & StatusAllVisible) != 0
}

// IsAllFrozen checks whether the status indicates all-frozen or not
func IsAllFrozen(flags uint8) bool {
	return (flags & StatusAllFrozen) != 0
}

// Normalize keeps the invariant that all-frozen is never set without all-visible
func Normalize(flags uint8) uint8 {
	flags &= StatusValidBits
	if IsAllFrozen(flags) {
		flags |= StatusAllVisible
	}
	return flags
}
