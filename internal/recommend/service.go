// Package recommend ranks candidates for a task, logs each decision and
// turns later feedback into training with the vectors that were scored.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/decisionlog"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/velocity/internal/recommend"

var (
	// ErrRecommendationNotFound means feedback named an unknown id.
	ErrRecommendationNotFound = errors.New("recommendation not found")

	// ErrCandidateNotInDecision means the selected candidate was not
	// among those ranked for the recommendation.
	ErrCandidateNotInDecision = errors.New("selected candidate was not part of the recommendation")

	// ErrFeedbackRecorded means the recommendation already has feedback.
	ErrFeedbackRecorded = errors.New("feedback already recorded for recommendation")
)

// Engine is the subset of *bandit.Engine the service uses.
type Engine interface {
	Rank(ctx context.Context, task features.Task, cands []features.Candidate) ([]bandit.ScoreResult, error)
	Update(ctx context.Context, id string, x []float64, reward float64) error
	ModelVersion() string
}

// Recommendation is a ranked, logged decision.
type Recommendation struct {
	ID           string               `json:"recommendation_id"`
	Ranked       []bandit.ScoreResult `json:"sorted_candidates"`
	ModelVersion string               `json:"model_version"`
}

// Top returns the best candidate, if any.
func (r *Recommendation) Top() (bandit.ScoreResult, bool) {
	if r == nil || len(r.Ranked) == 0 {
		return bandit.ScoreResult{}, false
	}
	return r.Ranked[0], true
}

// Service combines the engine with a decision log.
type Service struct {
	engine Engine
	log    decisionlog.Log
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string

	feedbackCounter metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides uuid generation of recommendation ids.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// New creates a service.
func New(engine Engine, log decisionlog.Log, logger *zap.Logger, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if log == nil {
		return nil, errors.New("decision log is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for recommend service")
	}

	s := &Service{
		engine: engine,
		log:    log,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.feedbackCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"velocity.recommend.feedback_total",
		metric.WithDescription("Feedback requests by outcome"),
		metric.WithUnit("{feedback}"),
	)
	if err != nil {
		logger.Warn("failed to create feedback counter", zap.Error(err))
	}
	return s, nil
}

// Recommend ranks candidates and records the decision. A decision log
// failure is logged and does not fail the ranking.
func (s *Service) Recommend(ctx context.Context, task features.Task, cands []features.Candidate) (*Recommendation, error) {
	ctx, span := s.tracer.Start(ctx, "recommend.Recommend",
		trace.WithAttributes(attribute.Int("candidates", len(cands))))
	defer span.End()

	ranked, err := s.engine.Rank(ctx, task, cands)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec := &Recommendation{
		ID:           s.newID(),
		Ranked:       ranked,
		ModelVersion: s.engine.ModelVersion(),
	}
	span.SetAttributes(attribute.String("recommendation.id", rec.ID))

	d := decisionlog.Decision{
		ID:           rec.ID,
		Task:         task,
		CandidateIDs: make([]string, len(ranked)),
		Vectors:      make([][]float64, len(ranked)),
		ModelVersion: rec.ModelVersion,
		CreatedAt:    s.now().UTC(),
	}
	for i, r := range ranked {
		d.CandidateIDs[i] = r.ID
		d.Vectors[i] = r.Features
	}
	if top, ok := rec.Top(); ok {
		d.RecommendedID = top.ID
		d.Confidence = top.Confidence
	}

	if err := s.log.Record(ctx, d); err != nil {
		s.logger.Warn("failed to record decision",
			zap.String("recommendation.id", rec.ID),
			zap.Error(err),
		)
	}

	s.logger.Debug("recommendation issued",
		zap.String("recommendation.id", rec.ID),
		zap.String("recommended_id", d.RecommendedID),
		zap.Int("candidates", len(ranked)),
	)
	return rec, nil
}

// Feedback trains the engine with the reward for the candidate actually
// selected, using the vector logged when the recommendation was made.
// Each recommendation accepts feedback once: the outcome is claimed in the
// log first, and released again if training fails.
func (s *Service) Feedback(ctx context.Context, recommendationID, selectedID string, reward float64) (err error) {
	ctx, span := s.tracer.Start(ctx, "recommend.Feedback", trace.WithAttributes(
		attribute.String("recommendation.id", recommendationID),
		attribute.String("arm.id", selectedID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.recordFeedback(ctx, err)
		span.End()
	}()

	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return bandit.ErrNonFiniteReward
	}

	d, err := s.log.Get(ctx, recommendationID)
	if errors.Is(err, decisionlog.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRecommendationNotFound, recommendationID)
	}
	if err != nil {
		return fmt.Errorf("load decision: %w", err)
	}

	x, ok := d.VectorFor(selectedID)
	if !ok {
		return fmt.Errorf("%w: %q not in %s", ErrCandidateNotInDecision, selectedID, recommendationID)
	}

	err = s.log.RecordOutcome(ctx, recommendationID, decisionlog.Outcome{
		SelectedID: selectedID,
		Reward:     reward,
		RecordedAt: s.now().UTC(),
	})
	if errors.Is(err, decisionlog.ErrOutcomeRecorded) {
		return fmt.Errorf("%w: %s", ErrFeedbackRecorded, recommendationID)
	}
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if err := s.engine.Update(ctx, selectedID, x, reward); err != nil {
		// Release the claim so the caller can retry.
		if clearErr := s.log.ClearOutcome(context.WithoutCancel(ctx), recommendationID); clearErr != nil {
			s.logger.Error("training failed and feedback claim could not be released",
				zap.String("recommendation.id", recommendationID),
				zap.String("arm.id", selectedID),
				zap.NamedError("clear_error", clearErr),
				zap.Error(err),
			)
		} else {
			s.logger.Warn("training failed, feedback claim released",
				zap.String("recommendation.id", recommendationID),
				zap.String("arm.id", selectedID),
				zap.Error(err),
			)
		}
		return fmt.Errorf("train: %w", err)
	}

	s.logger.Info("feedback applied",
		zap.String("recommendation.id", recommendationID),
		zap.String("arm.id", selectedID),
		zap.Float64("reward", reward),
	)
	return nil
}

// Train updates one arm directly.
func (s *Service) Train(ctx context.Context, armID string, x []float64, reward float64) error {
	return s.engine.Update(ctx, armID, x, reward)
}

func (s *Service) recordFeedback(ctx context.Context, err error) {
	if s.feedbackCounter == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrRecommendationNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrCandidateNotInDecision):
		outcome = "unknown_candidate"
	case errors.Is(err, ErrFeedbackRecorded):
		outcome = "duplicate"
	default:
		outcome = "error"
	}
	s.feedbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
