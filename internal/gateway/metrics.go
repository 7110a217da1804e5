package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "layoutsync"
	subsystem = "persist"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Persistence operations by adapter, operation and result",
		},
		[]string{"adapter", "operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Duration of persistence operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"adapter", "operation"},
	)
)

const (
	opInit         = "init"
	opLatest       = "read_latest"
	opRecent       = "read_recent"
	opAppend       = "append_snapshot"
	opReset        = "reset_history"
	opListPresets  = "list_presets"
	opInsertPreset = "insert_preset"
	opRenamePreset = "rename_preset"
	opDeletePreset = "delete_preset"
)
