package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConfigSaves    prometheus.Counter
	ConfigLoads    prometheus.Counter
	StorageErrors  prometheus.Counter
	MigrationSkips prometheus.Counter
	SessionLists   prometheus.Counter
	HistoryViews   prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ConfigSaves: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "config_saves_total",
				Help:      "Total user configuration documents written",
			}),
			ConfigLoads: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "config_loads_total",
				Help:      "Total user configuration documents read",
			}),
			StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "storage_errors_total",
				Help:      "Total storage operations that failed with a driver error",
			}),
			MigrationSkips: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "migration_skips_total",
				Help:      "Total non-fatal schema migration steps skipped on error",
			}),
			SessionLists: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "session_lists_total",
				Help:      "Total session directory listings served",
			}),
			HistoryViews: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hkexagent",
				Name:      "history_views_total",
				Help:      "Total conversation history views served",
			}),
		}
		prometheus.MustRegister(
			global.ConfigSaves,
			global.ConfigLoads,
			global.StorageErrors,
			global.MigrationSkips,
			global.SessionLists,
			global.HistoryViews,
		)
	})
	return global
}
