package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// IndexMetrics holds the metric instruments for index operations.
type IndexMetrics struct {
	OpsStartedCounter      metric.Int64Counter
	OpsHandledCounter      metric.Int64Counter
	OpLatencyHistogram     metric.Int64Histogram
	ActiveOpsUpDownCounter metric.Int64UpDownCounter
	NodeSplitsCounter      metric.Int64Counter
	NodeMergesCounter      metric.Int64Counter
}

// NewIndexMetrics creates and registers all the metrics for the index.
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	opsStartedCounter, err := meter.Int64Counter(
		"arvore.index.ops_started_total",
		metric.WithDescription("Total number of index operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandledCounter, err := meter.Int64Counter(
		"arvore.index.ops_handled_total",
		metric.WithDescription("Total number of index operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatencyHistogram, err := meter.Int64Histogram(
		"arvore.index.op_duration",
		metric.WithDescription("The latency of index operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeOpsUpDownCounter, err := meter.Int64UpDownCounter(
		"arvore.index.active_ops",
		metric.WithDescription("Number of index operations in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	nodeSplitsCounter, err := meter.Int64Counter(
		"arvore.index.node_splits_total",
		metric.WithDescription("Total number of node splits performed by inserts."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	nodeMergesCounter, err := meter.Int64Counter(
		"arvore.index.node_merges_total",
		metric.WithDescription("Total number of node merges performed by deletes."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		OpsStartedCounter:      opsStartedCounter,
		OpsHandledCounter:      opsHandledCounter,
		OpLatencyHistogram:     opLatencyHistogram,
		ActiveOpsUpDownCounter: activeOpsUpDownCounter,
		NodeSplitsCounter:      nodeSplitsCounter,
		NodeMergesCounter:      nodeMergesCounter,
	}, nil
}
