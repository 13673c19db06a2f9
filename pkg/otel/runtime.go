package otel

import (
	"time"

	hostmetrics "go.opentelemetry.io/contrib/instrumentation/host"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

// StartRuntimeMetrics turns on Go runtime and host metric collection
// (heap, GC pauses, CPU, network, disk). Dispatch latency lives in
// pkg/perf; these cover everything underneath it.
func StartRuntimeMetrics() error {
	if err := runtime.Start(
		runtime.WithMinimumReadMemStatsInterval(30 * time.Second),
	); err != nil {
		return err
	}
	return hostmetrics.Start()
}
