// Package indexmanager wraps a tree handle behind a mutex and telemetry so
// that concurrent callers (the HTTP service, mainly) can share one index.
// The tree itself is single-writer; all arbitration happens here.
package indexmanager

import (
	"context"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/btree"
	internaltelemetry "github.com/arvore-db/arvore/internal/telemetry"
	"github.com/arvore-db/arvore/pkg/telemetry"
)

// BTreeIndexManager serializes access to a single tree handle. Reads take
// the shared lock, mutations the exclusive one.
type BTreeIndexManager struct {
	mu          sync.RWMutex
	tree        *btree.BTree
	tracer      trace.Tracer
	metrics     *internaltelemetry.IndexMetrics
	logger      *zap.Logger
	serviceName string

	// Split/merge counts observed at the last mutation, so the
	// counters only ever receive deltas.
	seenSplits int64
	seenMerges int64
}

// Stats is a point-in-time snapshot of the managed index.
type Stats struct {
	Order     int    `json:"order"`
	PageCount int64  `json:"page_count"`
	Splits    int64  `json:"splits"`
	Merges    int64  `json:"merges"`
	Instance  string `json:"instance"`
}

// NewBTreeIndexManager wires the handle to the telemetry providers.
func NewBTreeIndexManager(tree *btree.BTree, tel *telemetry.Telemetry, logger *zap.Logger) (*BTreeIndexManager, error) {
	indexMetrics, err := internaltelemetry.NewIndexMetrics(tel.Meter)
	if err != nil {
		return nil, err
	}
	return &BTreeIndexManager{
		tree:        tree,
		tracer:      tel.Tracer,
		metrics:     indexMetrics,
		logger:      logger,
		serviceName: "btree_indexmanager",
	}, nil
}

func (m *BTreeIndexManager) Name() string { return "btree" }

// Put inserts or updates a key.
func (m *BTreeIndexManager) Put(ctx context.Context, key, value int32) error {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Put")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		m.EndMetricsAndTrace(metricCtx, span, startTime, "Put", statusCode)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := m.tree.Insert(key, value)
	if err != nil {
		statusCode = otelcodes.Error
		return err
	}
	span.SetAttributes(attribute.Bool("index.updated_in_place", updated))
	m.recordStructuralOpsLocked(ctx)
	return nil
}

// Get returns the value stored under key.
func (m *BTreeIndexManager) Get(ctx context.Context, key int32) (int32, bool, error) {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Get")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		m.EndMetricsAndTrace(metricCtx, span, startTime, "Get", statusCode)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, found, err := m.tree.Get(key)
	if err != nil {
		statusCode = otelcodes.Error
	}
	return value, found, err
}

// Delete removes a key. Absent keys surface btree.ErrKeyNotFound.
func (m *BTreeIndexManager) Delete(ctx context.Context, key int32) error {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Delete")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		m.EndMetricsAndTrace(metricCtx, span, startTime, "Delete", statusCode)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.Remove(key); err != nil {
		statusCode = otelcodes.Error
		return err
	}
	m.recordStructuralOpsLocked(ctx)
	return nil
}

// Scan walks all pairs in key order under the shared lock.
func (m *BTreeIndexManager) Scan(ctx context.Context, fn func(key, value int32) error) error {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Scan")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		m.EndMetricsAndTrace(metricCtx, span, startTime, "Scan", statusCode)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.tree.Ascend(fn); err != nil {
		statusCode = otelcodes.Error
		return err
	}
	return nil
}

// Dump writes the level-order tree listing to w.
func (m *BTreeIndexManager) Dump(ctx context.Context, w io.Writer) error {
	metricCtx, span, startTime := m.StartMetricsAndTrace(ctx, "Dump")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		m.EndMetricsAndTrace(metricCtx, span, startTime, "Dump", statusCode)
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.tree.Print(w); err != nil {
		statusCode = otelcodes.Error
		return err
	}
	return nil
}

// Stats snapshots the index shape for the status endpoint.
func (m *BTreeIndexManager) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pages, err := m.tree.PageCount()
	if err != nil {
		return Stats{}, err
	}
	splits, merges := m.tree.OpStats()
	return Stats{
		Order:     m.tree.Order(),
		PageCount: pages,
		Splits:    splits,
		Merges:    merges,
		Instance:  m.tree.InstanceID(),
	}, nil
}

// Close releases the underlying tree handle.
func (m *BTreeIndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("index manager closing", zap.String("instance", m.tree.InstanceID()))
	return m.tree.Close()
}

// recordStructuralOpsLocked feeds split/merge deltas since the previous
// mutation into the counters. Caller holds the write lock.
func (m *BTreeIndexManager) recordStructuralOpsLocked(ctx context.Context) {
	splits, merges := m.tree.OpStats()
	if d := splits - m.seenSplits; d > 0 {
		m.metrics.NodeSplitsCounter.Add(ctx, d)
	}
	if d := merges - m.seenMerges; d > 0 {
		m.metrics.NodeMergesCounter.Add(ctx, d)
	}
	m.seenSplits, m.seenMerges = splits, merges
}

// StartMetricsAndTrace begins the telemetry recording for an index method.
// It returns a new context, the trace span, and the start time.
func (m *BTreeIndexManager) StartMetricsAndTrace(ctx context.Context, methodName string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()

	m.metrics.ActiveOpsUpDownCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.method", methodName),
	))
	m.metrics.OpsStartedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.method", methodName),
	))

	ctx, span := m.tracer.Start(ctx, methodName, trace.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.method", methodName),
	))

	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for an index method.
func (m *BTreeIndexManager) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, methodName string, statusCode otelcodes.Code) {
	latency := time.Since(startTime).Milliseconds()

	if statusCode != otelcodes.Ok {
		span.SetStatus(otelcodes.Error, statusCode.String())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	m.metrics.ActiveOpsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.method", methodName),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.method", methodName),
		attribute.String("index.code", statusCode.String()),
	)

	m.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}
