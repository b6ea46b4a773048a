package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const serviceName = "velocityd"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: serviceName,
		Version: s.config.Version,
		Arms:    s.engine.Len(),
	})
}

func (s *Server) handlePredict(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid predict request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateCandidates(req); err != nil {
		return err
	}

	rec, err := s.svc.Recommend(c.Request().Context(), req.Task, req.Candidates)
	if err != nil {
		return s.toHTTPError(err)
	}

	resp := PredictResponse{
		RecommendationID: rec.ID,
		SortedCandidates: make([]CandidateScore, len(rec.Ranked)),
		ModelVersion:     rec.ModelVersion,
	}
	for i, r := range rec.Ranked {
		resp.SortedCandidates[i] = CandidateScore{
			EmployeeID: r.ID,
			Score:      r.Score,
			Confidence: r.Confidence,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRank(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid rank request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validateCandidates(req); err != nil {
		return err
	}

	results, err := s.engine.Rank(c.Request().Context(), req.Task, req.Candidates)
	if err != nil {
		return s.toHTTPError(err)
	}
	if results == nil {
		results = []bandit.ScoreResult{}
	}
	return c.JSON(http.StatusOK, RankResponse{
		Results:      results,
		ModelVersion: s.engine.ModelVersion(),
	})
}

func (s *Server) handleTrain(c echo.Context) error {
	var req TrainRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid train request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ArmID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "arm_id field is required")
	}
	if req.Reward == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reward field is required")
	}

	if err := s.svc.Train(c.Request().Context(), req.ArmID, req.Features, *req.Reward); err != nil {
		return s.toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RecommendationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recommendation_id field is required")
	}
	if req.SelectedEmployeeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "selected_employee_id field is required")
	}
	if req.ActualReward == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "actual_reward field is required")
	}

	err := s.svc.Feedback(c.Request().Context(), req.RecommendationID, req.SelectedEmployeeID, *req.ActualReward)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleArms(c echo.Context) error {
	arms := s.engine.Arms()
	if arms == nil {
		arms = []bandit.ArmSummary{}
	}
	return c.JSON(http.StatusOK, ArmsResponse{Arms: arms})
}

func (s *Server) handleArm(c echo.Context) error {
	detail, err := s.engine.Inspect(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleCheckpoint(c echo.Context) error {
	blob, err := s.engine.Checkpoint(c.Request().Context())
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, blob)
}

func (s *Server) handleRestore(c echo.Context) error {
	blob, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(blob) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint body is required")
	}
	if err := s.engine.Restore(c.Request().Context(), blob); err != nil {
		return s.toHTTPError(err)
	}
	s.logger.Info("checkpoint restored over http", zap.Int("bytes", len(blob)))
	return c.NoContent(http.StatusNoContent)
}

func validateCandidates(req PredictRequest) error {
	for _, cand := range req.Candidates {
		if cand.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "every candidate needs an id")
		}
	}
	return nil
}

// toHTTPError maps domain errors to status codes. Unknown errors are
// logged and reported as 500 without detail.
func (s *Server) toHTTPError(err error) error {
	switch {
	case bandit.IsValidation(err),
		errors.Is(err, recommend.ErrCandidateNotInDecision),
		errors.Is(err, checkpoint.ErrCorrupt):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, recommend.ErrRecommendationNotFound),
		errors.Is(err, bandit.ErrArmNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, recommend.ErrFeedbackRecorded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, bandit.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
