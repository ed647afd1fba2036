package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the protocol engine.
type Metrics struct {
	BlocksAppended        prometheus.Counter
	SegmentFailures       prometheus.Counter
	VisitsDetected        prometheus.Counter
	AnchorsCreated        prometheus.Counter
	AnchorsPending        prometheus.Gauge
	CredentialsIssued     prometheus.Counter
	AttestationsValidated *prometheus.CounterVec
	BatchesFlushed        prometheus.Counter
	NullifierConflicts    prometheus.Counter
	TSALatency            prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		BlocksAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_blocks_appended_total",
			Help: "Total location blocks appended to the local chain",
		}),
		SegmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_segment_verification_failures_total",
			Help: "Chain segment verifications that reported an invalid block",
		}),
		VisitsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_visits_detected_total",
			Help: "Visits produced by the spatio-temporal aggregator",
		}),
		AnchorsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_anchors_created_total",
			Help: "Daily anchors created, including pending ones",
		}),
		AnchorsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "olocus_anchors_pending",
			Help: "Anchors waiting for an external timestamp or chain confirmation",
		}),
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_credentials_issued_total",
			Help: "Location credentials issued over anchored visits",
		}),
		AttestationsValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "olocus_attestations_validated_total",
			Help: "Attestation validation outcomes by result",
		}, []string{"result"}),
		BatchesFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_attestation_batches_flushed_total",
			Help: "Attestation batches emitted by size or window trigger",
		}),
		NullifierConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "olocus_nullifier_conflicts_total",
			Help: "Double-claim attempts rejected by the nullifier registry",
		}),
		TSALatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "olocus_tsa_request_seconds",
			Help:    "Latency of timestamp authority requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
