package authcore

import "github.com/lockbridge/authcore/internal/metrics"

// MetricNames lists the exporter-facing counter names in snapshot order.
func MetricNames() []string {
	names := make([]string, 0, len(metrics.Names))
	for _, name := range metrics.Names {
		names = append(names, name)
	}
	return names
}
