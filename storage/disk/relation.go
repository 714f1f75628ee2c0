package disk

import (
	"path/filepath"
	"strconv"

	"github.com/HayatoShiba/ppvacuum/common"
)

/*
ForkNumber identifies one of the files of a relation.
vacuum touches every fork: it cleans the main fork, records free space in the fsm fork,
sets bits in the vm fork, and truncation cuts all three.
https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/include/common/relpath.h#L39-L60
*/
type ForkNumber int

const (
	ForkNumberMain ForkNumber = iota
	ForkNumberFSM
	ForkNumberVM
)

func (f ForkNumber) String() string {
	switch f {
	case ForkNumberMain:
		return "main"
	case ForkNumberFSM:
		return "fsm"
	case ForkNumberVM:
		return "vm"
	default:
		return "fork(" + strconv.Itoa(int(f)) + ")"
	}
}

// forkKey identifies one fork of a relation
type forkKey struct {
	rel  common.Relation
	fork ForkNumber
}

// path returns the file of the fork under dir: "16384" for the main fork, "16384_fsm" and "16384_vm" for the others
// see https://github.com/postgres/postgres/blob/a448e49bcbe40fb72e1ed85af910dd216d45bad8/src/common/relpath.c#L141
func (k forkKey) path(dir string) string {
	name := strconv.FormatUint(uint64(k.rel), 10)
	if k.fork != ForkNumberMain {
		name += "_" + k.fork.String()
	}
	return filepath.Join(dir, name)
}
