package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/HayatoShiba/ppvacuum/common"
	"github.com/HayatoShiba/ppvacuum/index"
	"github.com/HayatoShiba/ppvacuum/index/btreeidx"
	"github.com/HayatoShiba/ppvacuum/storage/disk"
	"github.com/HayatoShiba/ppvacuum/storage/page"
	"github.com/HayatoShiba/ppvacuum/storage/tuple"
	"github.com/HayatoShiba/ppvacuum/vacuum"
)

var (
	vacuumCmd = &cobra.Command{
		Use:   "vacuum relation...",
		Short: "Vacuum relations in the data directory",
		Long: "Vacuum removes dead tuples of each relation given by its oid. " +
			"indexes do not survive restarts, so --indexes rebuilds in-memory btree indexes from the heap before the run.",
		Args: cobra.MinimumNArgs(1),
		RunE: runVacuumCmd,
	}

	memoryBudget        = humanize.IBytes(vacuum.DefaultMemoryBudget)
	workers             = 1
	aggressive          = false
	disablePageSkipping = false
	verbose             = false
	noTruncate          = false
	freezeMinAge        = uint32(50000000)
	freezeTableAge      = uint32(150000000)
	indexCount          = 0
	metricsAddr         = ""
	costDelay           = time.Duration(0)
	costLimit           = vacuum.DefaultCostLimit
)

func init() {
	vacuumCmd.Flags().IntVar(&indexCount, "indexes", indexCount, "number of btree indexes rebuilt before the run")
	cfgVars["indexes"] = vacuumCmd.Flags().Lookup("indexes")
	rootCmd.AddCommand(vacuumCmd)
}

// addVacuumFlags registers the options shared by vacuum and demo
func addVacuumFlags(fs *pflag.FlagSet) {
	fs.StringVar(&memoryBudget, "memory", memoryBudget, "memory for dead tuple ids, e.g. 64MiB")
	cfgVars["memory"] = fs.Lookup("memory")

	fs.IntVarP(&workers, "workers", "j", workers, "number of workers scanning the heap")
	cfgVars["workers"] = fs.Lookup("workers")

	fs.BoolVar(&aggressive, "aggressive", aggressive, "scan every page which is not all-frozen")
	cfgVars["aggressive"] = fs.Lookup("aggressive")

	fs.BoolVar(&disablePageSkipping, "disable-page-skipping", disablePageSkipping, "scan every page")
	cfgVars["disable-page-skipping"] = fs.Lookup("disable-page-skipping")

	fs.BoolVarP(&verbose, "verbose", "v", verbose, "log the progress of each run at info level")
	cfgVars["verbose"] = fs.Lookup("verbose")

	fs.BoolVar(&noTruncate, "no-truncate", noTruncate, "don't truncate empty pages at the end")
	cfgVars["no-truncate"] = fs.Lookup("no-truncate")

	fs.Uint32Var(&freezeMinAge, "freeze-min-age", freezeMinAge, "age in transactions at which xmin is frozen")
	cfgVars["freeze-min-age"] = fs.Lookup("freeze-min-age")

	fs.Uint32Var(&freezeTableAge, "freeze-table-age", freezeTableAge,
		"age of relfrozenxid at which the run becomes aggressive")
	cfgVars["freeze-table-age"] = fs.Lookup("freeze-table-age")

	fs.DurationVar(&costDelay, "cost-delay", costDelay, "sleep each time a run has spent --cost-limit; 0 disables throttling")
	cfgVars["cost-delay"] = fs.Lookup("cost-delay")

	fs.IntVar(&costLimit, "cost-limit", costLimit, "cost a run may spend between sleeps; each page costs 10")
	cfgVars["cost-limit"] = fs.Lookup("cost-limit")

	fs.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "`address` serving vacuum progress metrics while running")
	cfgVars["metrics-addr"] = fs.Lookup("metrics-addr")
}

// vacuumParams builds run parameters from the flags
func vacuumParams() (vacuum.Params, error) {
	budget, err := humanize.ParseBytes(memoryBudget)
	if err != nil {
		return vacuum.Params{}, errors.Wrap(err, "invalid --memory")
	}
	params := vacuum.DefaultParams()
	params.MemoryBudget = int(budget)
	params.Workers = workers
	params.Aggressive = aggressive
	params.DisablePageSkipping = disablePageSkipping
	params.Verbose = verbose
	params.Truncate = !noTruncate
	params.CostDelay = costDelay
	params.CostLimit = costLimit
	return params, nil
}

// horizons computes the cutoffs from the transactions running now
func (e *engine) horizons() vacuum.Horizons {
	oldest := e.tm.OldestXmin()
	return vacuum.Horizons{
		OldestXmin:    oldest,
		FreezeLimit:   oldest.Retreat(freezeMinAge),
		FullScanLimit: oldest.Retreat(freezeTableAge),
	}
}

// serveMetrics exposes vacuum progress until the returned function is called
func serveMetrics(e *engine) (func(), error) {
	if metricsAddr == "" {
		return func() {}, nil
	}
	reg := prometheus.NewRegistry()
	pp, err := vacuum.NewPrometheusProgress(reg)
	if err != nil {
		return nil, errors.Wrap(err, "NewPrometheusProgress failed")
	}
	e.vacuum.SetProgress(pp)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", metricsAddr).Info("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func parseRelation(s string) (common.Relation, error) {
	oid, err := strconv.ParseUint(s, 10, 32)
	if err != nil || common.Relation(oid) == common.InvalidRelation {
		return common.InvalidRelation, errors.Errorf("invalid relation %q", s)
	}
	return common.Relation(oid), nil
}

func runVacuumCmd(cmd *cobra.Command, args []string) error {
	params, err := vacuumParams()
	if err != nil {
		return err
	}
	rels := make([]common.Relation, 0, len(args))
	for _, arg := range args {
		rel, err := parseRelation(arg)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
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

	for _, rel := range rels {
		indexes, err := rebuildIndexes(e, rel, indexCount)
		if err != nil {
			e.close()
			return errors.Wrapf(err, "rebuild indexes of %d failed", rel)
		}
		stats, err := e.vacuumRelation(cmd.Context(), rel, indexes, params)
		if err != nil {
			e.close()
			return errors.Wrapf(err, "vacuum %d failed", rel)
		}
		printSummary(cmd.OutOrStdout(), rel, stats)
	}
	return e.close()
}

// vacuumRelation runs vacuum on rel and keeps its statistics in control file
func (e *engine) vacuumRelation(ctx context.Context, rel common.Relation, indexes []*btreeidx.Index, params vacuum.Params) (*vacuum.RelationVacuumStats, error) {
	e.track(rel)
	ams := make([]index.AccessMethod, 0, len(indexes))
	for _, idx := range indexes {
		ams = append(ams, idx)
	}
	return e.vacuum.Vacuum(ctx, rel, ams, params, e.horizons())
}

/*
rebuildIndexes builds n btree indexes over the heap of rel.
every slot an index would point to gets an entry: normal tuples which are not heap-only, redirect roots and dead slots.
the entries of dead slots are what index vacuum removes.
*/
func rebuildIndexes(e *engine, rel common.Relation, n int) ([]*btreeidx.Index, error) {
	if n <= 0 {
		return nil, nil
	}
	indexes := make([]*btreeidx.Index, n)
	for i := range indexes {
		indexes[i] = btreeidx.New(fmt.Sprintf("rel%d_idx%d", rel, i))
	}

	npages, err := e.bm.NPages(rel, disk.ForkNumberMain)
	if err != nil {
		return nil, errors.Wrap(err, "NPages failed")
	}
	for pid := page.PageID(0); uint32(pid) < npages; pid++ {
		if err := indexPage(e, rel, pid, indexes); err != nil {
			return nil, err
		}
	}
	return indexes, nil
}

func indexPage(e *engine, rel common.Relation, pid page.PageID, indexes []*btreeidx.Index) error {
	bufID, err := e.bm.ReadBuffer(rel, disk.ForkNumberMain, pid)
	if err != nil {
		return errors.Wrap(err, "ReadBuffer failed")
	}
	defer e.bm.ReleaseBuffer(bufID)
	e.bm.AcquireContentLock(bufID, false)
	defer e.bm.ReleaseContentLock(bufID, false)

	p := e.bm.GetPage(bufID)
	if page.IsNew(p) {
		return nil
	}
	nidx := page.GetNSlotIndex(p)
	if nidx == page.InvalidSlotIndex {
		return nil
	}
	for idx := page.FirstSlotIndex; idx <= nidx; idx++ {
		slot, err := page.GetSlot(p, idx)
		if err != nil {
			return errors.Wrap(err, "GetSlot failed")
		}
		var key []byte
		switch {
		case page.IsUnused(slot):
			continue
		case page.IsNormal(slot):
			item, err := page.GetItem(p, idx)
			if err != nil {
				return errors.Wrap(err, "GetItem failed")
			}
			tup := tuple.TupleByte(item)
			if tup.IsHeapOnly() {
				continue
			}
			key = append([]byte(nil), tup.Data()...)
		}
		tid := tuple.NewTid(pid, idx)
		for _, bt := range indexes {
			bt.Insert(key, tid)
		}
	}
	return nil
}

func printSummary(w io.Writer, rel common.Relation, s *vacuum.RelationVacuumStats) {
	fmt.Fprintf(w, "relation %d: %s pages (%s), %s scanned, %s skipped as frozen, %s skipped by pin\n",
		rel,
		humanize.Comma(int64(s.RelPages)),
		humanize.IBytes(uint64(s.RelPages)*page.PageSize),
		humanize.Comma(int64(s.ScannedPages)),
		humanize.Comma(int64(s.FrozenSkippedPages)),
		humanize.Comma(int64(s.PinSkippedPages)))
	fmt.Fprintf(w, "  tuples: %s removed, %s remain, %s are dead but not yet removable\n",
		humanize.Comma(int64(s.TuplesDeleted)),
		humanize.Comma(int64(s.NewRelTuples)),
		humanize.Comma(int64(s.NewDeadTuples)))
	fmt.Fprintf(w, "  index scans: %d, pages removed: %s\n",
		s.NumIndexScans, humanize.Comma(int64(s.PagesRemoved)))
	if s.LockWaiterDetected {
		fmt.Fprintln(w, "  truncation stopped: another session is waiting for the lock")
	}
}
