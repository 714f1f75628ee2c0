package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/index/btreeidx"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
)

var (
	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Fill a relation with live and dead tuples, then vacuum it",
		Long: "Demo inserts tuples into a relation, deletes and updates some of them, " +
			"aborts a batch of inserts and finally vacuums the relation with btree indexes.",
		Args: cobra.NoArgs,
		RunE: runDemoCmd,
	}

	demoRelation      = uint32(16384)
	demoTuples        = 10000
	demoDeletePercent = 30
	demoUpdatePercent = 10
	demoAbortPercent  = 5
	demoIndexes       = 2
)

func init() {
	fs := demoCmd.Flags()
	fs.Uint32Var(&demoRelation, "relation", demoRelation, "oid of the relation")
	fs.IntVar(&demoTuples, "tuples", demoTuples, "number of tuples inserted")
	fs.IntVar(&demoDeletePercent, "delete-percent", demoDeletePercent, "percentage of inserted tuples deleted")
	fs.IntVar(&demoUpdatePercent, "update-percent", demoUpdatePercent, "percentage of inserted tuples updated")
	fs.IntVar(&demoAbortPercent, "abort-percent", demoAbortPercent,
		"size of the aborted insert batch as a percentage of --tuples")
	fs.IntVar(&demoIndexes, "demo-indexes", demoIndexes, "number of btree indexes")
	rootCmd.AddCommand(demoCmd)
}

// demoWorkload describes what populate does to the relation
type demoWorkload struct {
	tuples        int
	deletePercent int
	updatePercent int
	abortPercent  int
}

func (w demoWorkload) validate() error {
	if w.tuples < 0 {
		return errors.Errorf("invalid number of tuples %d", w.tuples)
	}
	for _, p := range []int{w.deletePercent, w.updatePercent, w.abortPercent} {
		if p < 0 || p > 100 {
			return errors.Errorf("invalid percentage %d", p)
		}
	}
	if w.deletePercent+w.updatePercent > 100 {
		return errors.Errorf("delete and update percentages exceed 100: %d + %d", w.deletePercent, w.updatePercent)
	}
	return nil
}

// demoResult counts what populate did
type demoResult struct {
	inserted, deleted, updated, hot, aborted int
}

func demoKey(i int, version string) []byte {
	return []byte(fmt.Sprintf("row-%08d-%s", i, version))
}

/*
populate runs three transactions on rel:
 1. insert every tuple and commit
 2. delete and update a part of them and commit
 3. insert a batch and abort
index entries are inserted for every tuple which is not heap-only, as the executor would.
*/
func populate(ctx context.Context, e *engine, rel common.Relation, w demoWorkload, indexes []*btreeidx.Index) (demoResult, error) {
	var res demoResult
	insertIndexes := func(key []byte, tid tuple.Tid) {
		for _, idx := range indexes {
			idx.Insert(key, tid)
		}
	}

	tx := e.tm.Begin()
	tids := make([]tuple.Tid, w.tuples)
	for i := range tids {
		key := demoKey(i, "v1")
		tid, err := e.heap.HeapInsert(ctx, rel, tx, key)
		if err != nil {
			e.tm.Abort(tx)
			return res, errors.Wrap(err, "HeapInsert failed")
		}
		insertIndexes(key, tid)
		tids[i] = tid
		res.inserted++
	}
	if err := e.tm.Commit(tx); err != nil {
		return res, errors.Wrap(err, "Commit failed")
	}

	tx = e.tm.Begin()
	for i, tid := range tids {
		switch n := i % 100; {
		case n < w.deletePercent:
			if err := e.heap.HeapDelete(ctx, rel, tx, tid); err != nil {
				e.tm.Abort(tx)
				return res, errors.Wrap(err, "HeapDelete failed")
			}
			res.deleted++
		case n < w.deletePercent+w.updatePercent:
			key := demoKey(i, "v2")
			newTid, hot, err := e.heap.HeapUpdate(ctx, rel, tx, tid, key)
			if err != nil {
				e.tm.Abort(tx)
				return res, errors.Wrap(err, "HeapUpdate failed")
			}
			if hot {
				res.hot++
			} else {
				insertIndexes(key, newTid)
			}
			res.updated++
		}
	}
	if err := e.tm.Commit(tx); err != nil {
		return res, errors.Wrap(err, "Commit failed")
	}

	tx = e.tm.Begin()
	for i := 0; i < w.tuples*w.abortPercent/100; i++ {
		key := demoKey(w.tuples+i, "aborted")
		tid, err := e.heap.HeapInsert(ctx, rel, tx, key)
		if err != nil {
			e.tm.Abort(tx)
			return res, errors.Wrap(err, "HeapInsert failed")
		}
		insertIndexes(key, tid)
		res.aborted++
	}
	if err := e.tm.Abort(tx); err != nil {
		return res, errors.Wrap(err, "Abort failed")
	}
	return res, nil
}

func runDemoCmd(cmd *cobra.Command, args []string) error {
	params, err := vacuumParams()
	if err != nil {
		return err
	}
	rel := common.Relation(demoRelation)
	if rel == common.InvalidRelation {
		return errors.New("invalid relation 0")
	}
	w := demoWorkload{
		tuples:        demoTuples,
		deletePercent: demoDeletePercent,
		updatePercent: demoUpdatePercent,
		abortPercent:  demoAbortPercent,
	}
	if err := w.validate(); err != nil {
		return err
	}

	e, err := openEngine(dataDir, buffers)
	if err != nil {
		return errors.Wrap(err, "openEngine failed")
	}
	stop, err := serveMetrics(e)
	if err != nil {
		e.close()
		return err
	}
	defer stop()

	indexes := make([]*btreeidx.Index, demoIndexes)
	for i := range indexes {
		indexes[i] = btreeidx.New(fmt.Sprintf("rel%d_idx%d", rel, i))
	}
	res, err := populate(cmd.Context(), e, rel, w, indexes)
	if err != nil {
		e.close()
		return errors.Wrap(err, "populate failed")
	}
	log.WithFields(log.Fields{
		"relation": rel,
		"inserted": res.inserted,
		"deleted":  res.deleted,
		"updated":  res.updated,
		"hot":      res.hot,
		"aborted":  res.aborted,
	}).Info("relation populated")

	stats, err := e.vacuumRelation(cmd.Context(), rel, indexes, params)
	if err != nil {
		e.close()
		return errors.Wrap(err, "vacuum failed")
	}
	out := cmd.OutOrStdout()
	printSummary(out, rel, stats)
	for _, idx := range indexes {
		fmt.Fprintf(out, "  index %s: %s entries\n", idx.Name(), humanize.Comma(int64(idx.Len())))
	}
	return e.close()
}
