// Package observability provides lightweight in-process tracing and
// Prometheus metrics for the overlay: spans ring-buffered in memory, no
// external collector dependency, read back through the admin API.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Spans ──────────────────────────────────────────────────────────────────

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span represents one unit of work — e.g. a register proposal's lifetime
// from REGISTER_REQUEST to commit/NACK, or one gossip origination wave.
type Span struct {
	TraceID   string            `json:"trace_id"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int
}

// DefaultTracerConfig returns sane defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{Enabled: true, MaxSpans: 2000}
}

// Tracer stores recent spans for operator introspection via the admin API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// NewTracer creates a tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a new span. The span's TraceID is also suitable for
// Envelope.CorrelationID so a proposal's wire traffic can be tied back to
// the span after the fact.
func (t *Tracer) StartSpan(operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		TraceID:   uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes and records a span.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent limit spans (0 = all).
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

type contextKey string

const correlationKey contextKey = "driftmesh-cid"

// WithCorrelationID attaches a correlation ID to ctx.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationKey, cid)
}

// CorrelationID reads the correlation ID from ctx, generating one if absent.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// ─── Prometheus metrics ─────────────────────────────────────────────────────

var (
	// RegisterProposals counts register proposal outcomes by result.
	RegisterProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "seed",
		Name:      "register_proposals_total",
		Help:      "Total register proposals by outcome.",
	}, []string{"outcome"})

	// DeathProposals counts death proposal outcomes by result.
	DeathProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "seed",
		Name:      "death_proposals_total",
		Help:      "Total death proposals by outcome.",
	}, []string{"outcome"})

	// PLSize tracks the current size of a seed's committed peer list.
	PLSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftmesh",
		Subsystem: "seed",
		Name:      "pl_size",
		Help:      "Current size of the committed peer list.",
	})

	// GossipOriginated counts messages a peer has originated.
	GossipOriginated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "gossip",
		Name:      "originated_total",
		Help:      "Total gossip messages originated by this peer.",
	})

	// GossipForwarded counts messages forwarded to neighbors.
	GossipForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "gossip",
		Name:      "forwarded_total",
		Help:      "Total gossip messages forwarded to neighbors.",
	})

	// GossipDuplicates counts deduped (already-seen) gossip frames.
	GossipDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "gossip",
		Name:      "duplicates_total",
		Help:      "Total gossip frames dropped as duplicates.",
	})

	// NeighborTransitions counts neighbor state transitions by target state.
	NeighborTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "peer",
		Name:      "neighbor_transitions_total",
		Help:      "Total neighbor state transitions by target state.",
	}, []string{"state"})

	// NeighborCount tracks the current neighbor count.
	NeighborCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "driftmesh",
		Subsystem: "peer",
		Name:      "neighbor_count",
		Help:      "Current number of live neighbor links.",
	})

	// SuspicionQuorums counts suspicion quorum outcomes.
	SuspicionQuorums = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "peer",
		Name:      "suspicion_quorums_total",
		Help:      "Total peer-level suspicion quorums by outcome (dead, alive).",
	}, []string{"outcome"})

	// LinkChurn counts link open/close events by link kind.
	LinkChurn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driftmesh",
		Subsystem: "transport",
		Name:      "link_churn_total",
		Help:      "Total link open/close events by kind and direction.",
	}, []string{"kind", "direction"})
)
