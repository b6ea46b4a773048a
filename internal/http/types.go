package http

import (
	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/features"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
	Arms    int    `json:"arms"`
}

// PredictRequest is the request body for POST /api/v1/predict and
// POST /api/v1/rank.
type PredictRequest struct {
	Task       features.Task        `json:"task"`
	Candidates []features.Candidate `json:"candidates"`
}

// CandidateScore is one ranked candidate in a PredictResponse.
type CandidateScore struct {
	EmployeeID string  `json:"employee_id"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

// PredictResponse is the response body for POST /api/v1/predict.
type PredictResponse struct {
	RecommendationID string           `json:"recommendation_id"`
	SortedCandidates []CandidateScore `json:"sorted_candidates"`
	ModelVersion     string           `json:"model_version"`
}

// RankResponse is the response body for POST /api/v1/rank.
type RankResponse struct {
	Results      []bandit.ScoreResult `json:"results"`
	ModelVersion string               `json:"model_version"`
}

// TrainRequest is the request body for POST /api/v1/train.
type TrainRequest struct {
	ArmID    string    `json:"arm_id"`
	Features []float64 `json:"features"`
	Reward   *float64  `json:"reward"`
}

// FeedbackRequest is the request body for POST /api/v1/feedback.
type FeedbackRequest struct {
	RecommendationID   string   `json:"recommendation_id"`
	SelectedEmployeeID string   `json:"selected_employee_id"`
	ActualReward       *float64 `json:"actual_reward"`
}

// ArmsResponse is the response body for GET /api/v1/arms.
type ArmsResponse struct {
	Arms []bandit.ArmSummary `json:"arms"`
}
