// Package decisionlog records recommendations and the feedback they
// receive, so that feedback can be trained with the exact feature
// vectors that were scored.
package decisionlog

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/features"
)

var (
	// ErrNotFound is returned for an unknown recommendation id.
	ErrNotFound = errors.New("decision not found")

	// ErrDuplicate is returned when recording an id that already exists.
	ErrDuplicate = errors.New("decision already recorded")

	// ErrOutcomeRecorded is returned when a decision already has feedback.
	ErrOutcomeRecorded = errors.New("decision outcome already recorded")
)

// Decision is one logged recommendation.
type Decision struct {
	ID           string        `json:"id"`
	Task         features.Task `json:"task"`
	CandidateIDs []string      `json:"candidate_ids"`
	// Vectors[i] is the feature vector scored for CandidateIDs[i].
	Vectors       [][]float64 `json:"vectors"`
	RecommendedID string      `json:"recommended_id,omitempty"`
	Confidence    float64     `json:"confidence"`
	ModelVersion  string      `json:"model_version"`
	CreatedAt     time.Time   `json:"created_at"`
	Outcome       *Outcome    `json:"outcome,omitempty"`
}

// Outcome is the feedback attached to a decision.
type Outcome struct {
	SelectedID string    `json:"selected_id"`
	Reward     float64   `json:"reward"`
	RecordedAt time.Time `json:"recorded_at"`
}

// VectorFor returns the vector scored for candidate id. With duplicate
// ids the first occurrence wins.
func (d Decision) VectorFor(id string) ([]float64, bool) {
	for i, c := range d.CandidateIDs {
		if c == id && i < len(d.Vectors) {
			return d.Vectors[i], true
		}
	}
	return nil, false
}

// Log stores decisions.
type Log interface {
	Record(ctx context.Context, d Decision) error
	Get(ctx context.Context, id string) (Decision, error)
	// RecordOutcome attaches feedback once. A second call returns
	// ErrOutcomeRecorded.
	RecordOutcome(ctx context.Context, id string, o Outcome) error
	// ClearOutcome removes recorded feedback so the decision accepts it
	// again. Clearing a decision without feedback is a no-op.
	ClearOutcome(ctx context.Context, id string) error
	Close() error
}
