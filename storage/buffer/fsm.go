package buffer

import (
	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
)

// ReadBufferFSM reads fsm page into buffer
// this returns buffer after acquiring pin and content lock
// if exclusive is true, acquire exclusive content lock.
// when the fsm page does not exist yet, it is extended if extend is true,
// otherwise InvalidBufferID is returned without error.
func (m *Manager) ReadBufferFSM(rel common.Relation, pageID page.PageID, extend, exclusive bool) (BufferID, error) {
	npages, err := m.NPages(rel, disk.ForkNumberFSM)
	if err != nil {
		return InvalidBufferID, err
	}
	if uint32(pageID) >= npages {
		if !extend {
			return InvalidBufferID, nil
		}
		for i := npages; i <= uint32(pageID); i++ {
			bufID, _, err := m.ExtendRelation(rel, disk.ForkNumberFSM)
			if err != nil {
				return InvalidBufferID, err
			}
			m.ReleaseBuffer(bufID)
		}
	}

	bufID, err := m.ReadBuffer(rel, disk.ForkNumberFSM, pageID)
	if err != nil {
		return InvalidBufferID, errors.Wrap(err, "ReadBuffer failed")
	}
	m.AcquireContentLock(bufID, exclusive)
	return bufID, nil
}

// ReleaseBufferFSM releases fsm page
// if exclusive is true, release content exclusive lock
func (m *Manager) ReleaseBufferFSM(bufID BufferID, exclusive bool) {
	m.ReleaseContentLock(bufID, exclusive)
	m.ReleaseBuffer(bufID)
}
