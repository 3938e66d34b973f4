// Package otel bridges the engine's in-process counters to OpenTelemetry as
// observable counters. Values are pulled from a snapshot at collection time,
// so the engine's hot paths stay free of instrumentation.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// SnapshotFunc returns the current counter values keyed by metric name.
// Engine.MetricsSnapshot satisfies it.
type SnapshotFunc func() map[string]uint64

// Register creates one observable counter per name and registers a single
// collection callback over them. The returned registration unhooks the
// callback.
func Register(meter metric.Meter, names []string, snapshot SnapshotFunc) (metric.Registration, error) {
	observables := make([]metric.Observable, 0, len(names))
	counters := make(map[string]metric.Int64ObservableCounter, len(names))
	for _, name := range names {
		counter, err := meter.Int64ObservableCounter(name)
		if err != nil {
			return nil, err
		}
		counters[name] = counter
		observables = append(observables, counter)
	}

	return meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		values := snapshot()
		for name, counter := range counters {
			observer.ObserveInt64(counter, int64(values[name]))
		}
		return nil
	}, observables...)
}
