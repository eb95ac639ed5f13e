package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for the graph workflow.
// Tracks claim, merge and shadow-copy outcomes, rollbacks and reindex health.
type Metrics struct {
	Claims                *prometheus.CounterVec
	ClaimDuration         prometheus.Histogram
	Merges                *prometheus.CounterVec
	ShadowCopies          *prometheus.CounterVec
	RelationshipMutations *prometheus.CounterVec
	Rollbacks             *prometheus.CounterVec
	ReindexFailures       prometheus.Counter
	ReindexDuration       prometheus.Histogram
	Profiles              *prometheus.CounterVec
	LockWait              prometheus.Histogram
	SourceFetches         *prometheus.CounterVec
}

// New creates a Metrics instance registered against reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_claims_total",
			Help: "Profile claims by outcome",
		}, []string{"outcome"}),
		ClaimDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "concytec_claim_duration_seconds",
			Help:    "Duration of claim operations including index synchronization",
			Buckets: durationBuckets,
		}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_merges_total",
			Help: "Institution-backed merge resolutions by outcome",
		}, []string{"outcome"}),
		ShadowCopies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_shadow_copies_total",
			Help: "Shadow copy operations by result",
		}, []string{"operation"}),
		RelationshipMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_relationship_mutations_total",
			Help: "Committed relationship mutations by change kind",
		}, []string{"kind"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_journal_rollbacks_total",
			Help: "Compensation journal replays by outcome",
		}, []string{"outcome"}),
		ReindexFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "concytec_reindex_failures_total",
			Help: "Reindex calls that failed after retry",
		}),
		ReindexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "concytec_reindex_duration_seconds",
			Help:    "Duration of one relationship index synchronization pass",
			Buckets: durationBuckets,
		}),
		Profiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_profile_operations_total",
			Help: "Researcher profile lifecycle operations",
		}, []string{"operation"}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "concytec_item_lock_wait_seconds",
			Help:    "Time spent waiting for per-item locks",
			Buckets: durationBuckets,
		}),
		SourceFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "concytec_source_fetches_total",
			Help: "External record source fetches by provider and outcome",
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) IncrementClaim(outcome string) {
	m.Claims.WithLabelValues(outcome).Inc()
}

// ObserveClaim records the duration of a claim.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveClaim(start time.Time) {
	m.ClaimDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementMerge(outcome string) {
	m.Merges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementShadowCopy(operation string) {
	m.ShadowCopies.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementRelationshipMutation(kind string) {
	m.RelationshipMutations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementRollback(outcome string) {
	m.Rollbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementReindexFailure() {
	m.ReindexFailures.Inc()
}

func (m *Metrics) ObserveReindex(start time.Time) {
	m.ReindexDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementProfileOperation(operation string) {
	m.Profiles.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveLockWait(start time.Time) {
	m.LockWait.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSourceFetch(provider, outcome string) {
	m.SourceFetches.WithLabelValues(provider, outcome).Inc()
}
