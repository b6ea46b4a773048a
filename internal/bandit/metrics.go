package bandit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the bandit engine.
type Metrics struct {
	// Arm store
	Arms        prometheus.Gauge
	ArmsCreated prometheus.Counter

	// Decisions and learning
	Ranks           prometheus.Counter
	RankCandidates  prometheus.Histogram
	Updates         prometheus.Counter
	RewardsClamped  prometheus.Counter
	ValidationFails *prometheus.CounterVec

	// Numerics
	DegenerateInversions prometheus.Counter

	// Persistence
	PersistTotal    *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics.
//
// Registration happens once per process; every engine shares the same
// collectors.
//
// Metrics:
//   - velocity_bandit_arms - Arms currently held in memory
//   - velocity_bandit_arms_created_total - Arms created lazily on first sight
//   - velocity_bandit_ranks_total - Rank calls served
//   - velocity_bandit_rank_candidates - Candidates per rank call
//   - velocity_bandit_updates_total - Learning events applied
//   - velocity_bandit_rewards_clamped_total - Rewards altered by the clamp policy
//   - velocity_bandit_validation_errors_total{op} - Rejected inputs
//   - velocity_bandit_degenerate_inversions_total - Pseudo-inverse fallbacks
//   - velocity_bandit_persist_total{outcome} - Store writes by outcome
//   - velocity_bandit_persist_duration_seconds - Store write latency
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Arms: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "arms",
				Help:      "Number of arms held in memory",
			}),
			ArmsCreated: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "arms_created_total",
				Help:      "Total number of arms created on first sight",
			}),
			Ranks: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "ranks_total",
				Help:      "Total number of rank calls",
			}),
			RankCandidates: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "rank_candidates",
				Help:      "Number of candidates per rank call",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 500},
			}),
			Updates: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "updates_total",
				Help:      "Total number of learning events applied",
			}),
			RewardsClamped: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "rewards_clamped_total",
				Help:      "Total number of rewards changed by the clamp policy",
			}),
			ValidationFails: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "velocity",
					Subsystem: "bandit",
					Name:      "validation_errors_total",
					Help:      "Total number of rejected inputs",
				},
				[]string{"op"}, // "score", "rank", "update"
			),
			DegenerateInversions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "degenerate_inversions_total",
				Help:      "Total number of pseudo-inverse fallbacks",
			}),
			PersistTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "velocity",
					Subsystem: "bandit",
					Name:      "persist_total",
					Help:      "Total number of store writes by outcome",
				},
				[]string{"outcome"}, // "ok", "error"
			),
			PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "velocity",
				Subsystem: "bandit",
				Name:      "persist_duration_seconds",
				Help:      "Duration of store writes in seconds",
				Buckets:   prometheus.DefBuckets,
			}),
		}
	})
	return globalMetrics
}
