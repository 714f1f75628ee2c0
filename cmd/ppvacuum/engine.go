package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/HayatoShiba/ppvacuum/am"
	"github.com/HayatoShiba/ppvacuum/catalog"
	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/storage/buffer"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/fsm"
	"github.com/HayatoShiba/ppvacuum/storage/lmgr"
	"github.com/HayatoShiba/ppvacuum/transaction"
	"github.com/HayatoShiba/ppvacuum/transaction/clog"
	"github.com/HayatoShiba/ppvacuum/transaction/txid"
	"github.com/HayatoShiba/ppvacuum/vacuum"
	"github.com/HayatoShiba/ppvacuum/wal"
)

// the layout of data directory
const (
	baseDirName     = "base"
	clogFileName    = "pg_xact"
	walFileName     = "pg_wal"
	controlFileName = "control.hcl"
)

// engine is every manager opened on one data directory
type engine struct {
	dir string
	ctl *control
	// rels are the relations whose statistics are written back to control file
	rels map[common.Relation]struct{}

	dm      *disk.Manager
	bm      *buffer.Manager
	fm      *fsm.Manager
	lm      *lmgr.Manager
	cm      *clog.Manager
	tm      *transaction.Manager
	wal     *wal.Log
	heap    *am.Manager
	catalog *catalog.Catalog
	vacuum  *vacuum.Manager
}

// openEngine opens data directory, creating it when it does not exist
func openEngine(dir string, bufferNum int) (*engine, error) {
	ctl, err := readControl(filepath.Join(dir, controlFileName))
	if err != nil {
		return nil, errors.Wrap(err, "readControl failed")
	}

	disk.SetBaseDir(filepath.Join(dir, baseDirName))
	dm, err := disk.NewManager()
	if err != nil {
		return nil, errors.Wrap(err, "disk.NewManager failed")
	}
	cm, err := clog.Open(filepath.Join(dir, clogFileName))
	if err != nil {
		dm.Close()
		return nil, errors.Wrap(err, "clog.Open failed")
	}
	wl, err := wal.Open(filepath.Join(dir, walFileName))
	if err != nil {
		dm.Close()
		return nil, errors.Wrap(err, "wal.Open failed")
	}

	cat := catalog.New()
	rels, err := ctl.load(cat)
	if err != nil {
		wl.Close()
		dm.Close()
		return nil, errors.Wrap(err, "control load failed")
	}

	bm := buffer.NewManager(dm, bufferNum)
	fm := fsm.NewManager(bm)
	lm := lmgr.NewManager()
	tm := transaction.NewManager(txid.NewManagerFrom(ctl.nextXid()), cm)
	heap := am.NewManager(bm, fm, tm, lm)

	e := &engine{
		dir:     dir,
		ctl:     ctl,
		rels:    make(map[common.Relation]struct{}),
		dm:      dm,
		bm:      bm,
		fm:      fm,
		lm:      lm,
		cm:      cm,
		tm:      tm,
		wal:     wl,
		heap:    heap,
		catalog: cat,
		vacuum:  vacuum.NewManager(bm, fm, lm, heap, wl, cat),
	}
	for _, rel := range rels {
		e.track(rel)
	}
	log.WithFields(log.Fields{
		"dir":       dir,
		"next_xid":  ctl.nextXid(),
		"relations": len(rels),
	}).Debug("data directory opened")
	return e, nil
}

// track makes the statistics of rel persist
func (e *engine) track(rel common.Relation) {
	e.rels[rel] = struct{}{}
}

// close writes out everything and closes the files
// clog is flushed before the control file so that next_xid never runs ahead of the recorded outcomes
func (e *engine) close() error {
	n, err := e.bm.FlushAll()
	if err != nil {
		return errors.Wrap(err, "FlushAll failed")
	}
	if err := e.cm.Flush(); err != nil {
		return errors.Wrap(err, "clog Flush failed")
	}

	rels := make([]common.Relation, 0, len(e.rels))
	for rel := range e.rels {
		rels = append(rels, rel)
	}
	e.ctl.store(e.tm.NextTxID(), e.catalog, rels)
	if err := e.ctl.write(filepath.Join(e.dir, controlFileName)); err != nil {
		return errors.Wrap(err, "control write failed")
	}

	if err := e.wal.Close(); err != nil {
		return errors.Wrap(err, "wal Close failed")
	}
	if err := e.dm.Close(); err != nil {
		return errors.Wrap(err, "disk Close failed")
	}
	log.WithField("buffers", n).Debug("data directory closed")
	return nil
}
