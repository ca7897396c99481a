package sstable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the writer's operational counters
type Metrics struct {
	PartitionsAppended prometheus.Counter
	PartitionsSkipped  prometheus.Counter
	BlocksSealed       prometheus.Counter
	BytesWritten       prometheus.Counter
	TablesCommitted    prometheus.Counter
	TablesAborted      prometheus.Counter
}

// NewMetrics registers the writer metrics with the given registerer. Pass a
// private registry in tests to avoid cross-test collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PartitionsAppended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_partitions_appended_total",
			Help: "Partitions appended to SSTable writers",
		}),
		PartitionsSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_partitions_skipped_total",
			Help: "Partitions skipped because the key exceeded the length limit",
		}),
		BlocksSealed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_index_blocks_sealed_total",
			Help: "Row index blocks recorded in indexed entries; single-block partitions add none",
		}),
		BytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_data_bytes_written_total",
			Help: "Logical bytes appended to SSTable data files",
		}),
		TablesCommitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_tables_committed_total",
			Help: "SSTables committed by renaming their components",
		}),
		TablesAborted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sstable_tables_aborted_total",
			Help: "SSTables aborted with their temp components deleted",
		}),
	}
}
