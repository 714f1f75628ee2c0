/*
Progress reporting of vacuum runs (pg_stat_progress_vacuum in postgres).
Reporting is fire-and-forget: a sink never blocks nor fails the run.
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/include/commands/progress.h#L20-L35
*/
package vacuum

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HayatoShiba/ppvacuum/common"
)

// ProgressPhase is the phase a run is in
type ProgressPhase int

const (
	ProgressScanHeap ProgressPhase = iota + 1
	ProgressVacuumIndexes
	ProgressVacuumHeap
	ProgressIndexCleanup
	ProgressTruncate
	ProgressFinalCleanup
)

func (p ProgressPhase) String() string {
	switch p {
	case ProgressScanHeap:
		return "scanning heap"
	case ProgressVacuumIndexes:
		return "vacuuming indexes"
	case ProgressVacuumHeap:
		return "vacuuming heap"
	case ProgressIndexCleanup:
		return "cleaning up indexes"
	case ProgressTruncate:
		return "truncating heap"
	case ProgressFinalCleanup:
		return "performing final cleanup"
	}
	return "unknown"
}

// ProgressCounter is a counter reported with the phase
type ProgressCounter int

const (
	CounterHeapBlksTotal ProgressCounter = iota
	CounterHeapBlksScanned
	CounterHeapBlksVacuumed
	CounterIndexVacuumCount
	CounterMaxDeadTuples
	CounterNumDeadTuples
)

func (c ProgressCounter) String() string {
	switch c {
	case CounterHeapBlksTotal:
		return "heap_blks_total"
	case CounterHeapBlksScanned:
		return "heap_blks_scanned"
	case CounterHeapBlksVacuumed:
		return "heap_blks_vacuumed"
	case CounterIndexVacuumCount:
		return "index_vacuum_count"
	case CounterMaxDeadTuples:
		return "max_dead_tuples"
	case CounterNumDeadTuples:
		return "num_dead_tuples"
	}
	return "unknown"
}

// Progress receives the progress of runs. it is called from every worker concurrently
type Progress interface {
	SetPhase(rel common.Relation, phase ProgressPhase)
	SetCounter(rel common.Relation, c ProgressCounter, v int64)
	AddCounter(rel common.Relation, c ProgressCounter, delta int64)
}

type noopProgress struct{}

func (noopProgress) SetPhase(common.Relation, ProgressPhase)           {}
func (noopProgress) SetCounter(common.Relation, ProgressCounter, int64) {}
func (noopProgress) AddCounter(common.Relation, ProgressCounter, int64) {}

// PrometheusProgress exports the progress as gauges labeled by relation
type PrometheusProgress struct {
	phase    *prometheus.GaugeVec
	counters *prometheus.GaugeVec
}

// NewPrometheusProgress creates the gauges and registers them to reg
func NewPrometheusProgress(reg prometheus.Registerer) (*PrometheusProgress, error) {
	pp := &PrometheusProgress{
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppvacuum",
			Name:      "phase",
			Help:      "current phase of the vacuum run",
		}, []string{"rel"}),
		counters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ppvacuum",
			Name:      "progress",
			Help:      "progress counters of the vacuum run",
		}, []string{"rel", "counter"}),
	}
	for _, c := range []prometheus.Collector{pp.phase, pp.counters} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "reg.Register failed")
		}
	}
	return pp, nil
}

func relLabel(rel common.Relation) string {
	return strconv.FormatUint(uint64(rel), 10)
}

// SetPhase sets the phase gauge
func (pp *PrometheusProgress) SetPhase(rel common.Relation, phase ProgressPhase) {
	pp.phase.WithLabelValues(relLabel(rel)).Set(float64(phase))
}

// SetCounter sets the counter gauge
func (pp *PrometheusProgress) SetCounter(rel common.Relation, c ProgressCounter, v int64) {
	pp.counters.WithLabelValues(relLabel(rel), c.String()).Set(float64(v))
}

// AddCounter adds delta to the counter gauge
func (pp *PrometheusProgress) AddCounter(rel common.Relation, c ProgressCounter, delta int64) {
	pp.counters.WithLabelValues(relLabel(rel), c.String()).Add(float64(delta))
}
