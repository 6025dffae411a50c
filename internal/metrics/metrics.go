// Package metrics exposes procio's Prometheus instrumentation, adapted
// from the teacher's internal/metrics package: a private registry plus a
// handful of package-level recorder functions so call sites never touch
// a *prometheus.Registry directly.
package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	activeProcesses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "procio",
		Name:      "active_processes",
		Help:      "Number of spawned processes currently running.",
	})

	processesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "procio",
		Name:      "processes_started_total",
		Help:      "Total number of processes successfully started.",
	})

	processesExited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procio",
		Name:      "processes_exited_total",
		Help:      "Total number of processes that reached a terminal state, labeled by cause.",
	}, []string{"cause"})

	bytesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procio",
		Name:      "bytes_read_total",
		Help:      "Total bytes delivered to OnStdout/OnStderr, labeled by stream.",
	}, []string{"stream"})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "procio",
		Name:      "bytes_written_total",
		Help:      "Total bytes written to child stdin pipes.",
	})

	handlerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "procio",
		Name:      "handler_panics_total",
		Help:      "Total number of recovered panics from ProcessHandler callbacks.",
	})

	processorQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procio",
		Name:      "processor_queue_depth",
		Help:      "Number of processes currently assigned to each processor.",
	}, []string{"processor"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procio",
		Name:      "build_info",
		Help:      "Build metadata for the running procio binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		activeProcesses,
		processesStarted,
		processesExited,
		bytesRead,
		bytesWritten,
		handlerPanics,
		processorQueueDepth,
		buildInfo,
	)
}

// Registry returns the Prometheus registry holding every procio metric,
// for callers that want to expose /metrics themselves.
func Registry() *prometheus.Registry { return registry }

// ProcessStarted records a successful spawn.
func ProcessStarted() {
	processesStarted.Inc()
	activeProcesses.Inc()
}

// ProcessExited records a terminal transition for the given cause label.
func ProcessExited(cause string) {
	activeProcesses.Dec()
	processesExited.WithLabelValues(cause).Inc()
}

// AddBytesRead records bytes delivered to a handler from the named stream
// ("stdout" or "stderr").
func AddBytesRead(stream string, n int) {
	if n <= 0 {
		return
	}
	bytesRead.WithLabelValues(stream).Add(float64(n))
}

// AddBytesWritten records bytes actually written to a child's stdin.
func AddBytesWritten(n int) {
	if n <= 0 {
		return
	}
	bytesWritten.Add(float64(n))
}

// IncHandlerPanic records one recovered handler panic.
func IncHandlerPanic() {
	handlerPanics.Inc()
}

// SetProcessorQueueDepth records how many processes a processor currently
// owns.
func SetProcessorQueueDepth(processorID string, n int) {
	processorQueueDepth.WithLabelValues(processorID).Set(float64(n))
}

// EmitBuildInfo publishes build metadata about the running binary, same
// shape as the teacher's internal/metrics.EmitBuildInfo.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
