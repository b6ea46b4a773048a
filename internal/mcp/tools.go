package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolRank     = "assignment_rank"
	toolTrain    = "assignment_train"
	toolFeedback = "assignment_feedback"
	toolInspect  = "arm_inspect"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolRank,
		Description: "Rank candidates for a task by learned value plus an exploration bonus. Returns a recommendation_id to pass to assignment_feedback.",
	}, instrument(s, toolRank, s.rank))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolTrain,
		Description: "Update one candidate's model with a reward for a raw feature vector",
	}, instrument(s, toolTrain, s.train))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolFeedback,
		Description: "Report which candidate was actually assigned for a recommendation and the reward observed",
	}, instrument(s, toolFeedback, s.feedback))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolInspect,
		Description: "List arms, or show one arm's learned parameters when arm_id is given",
	}, instrument(s, toolInspect, s.inspect))
}

// instrument wraps a tool handler with invocation metrics.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		return res, out, err
	}
}

// ===== RANK =====

type rankInput struct {
	Task       features.Task        `json:"task" jsonschema:"Task to assign: priority, complexity, deadline_hours, skills_required"`
	Candidates []features.Candidate `json:"candidates" jsonschema:"Candidates to rank: id, current_load, skills, role_level"`
}

type rankOutput struct {
	RecommendationID string               `json:"recommendation_id"`
	ModelVersion     string               `json:"model_version"`
	Results          []bandit.ScoreResult `json:"results"`
}

func (s *Server) rank(ctx context.Context, _ *mcp.CallToolRequest, args rankInput) (*mcp.CallToolResult, rankOutput, error) {
	for _, c := range args.Candidates {
		if c.ID == "" {
			return nil, rankOutput{}, fmt.Errorf("invalid candidate: id is required")
		}
	}

	rec, err := s.svc.Recommend(ctx, args.Task, args.Candidates)
	if err != nil {
		return nil, rankOutput{}, fmt.Errorf("rank failed: %w", err)
	}

	out := rankOutput{
		RecommendationID: rec.ID,
		ModelVersion:     rec.ModelVersion,
		Results:          rec.Ranked,
	}
	if out.Results == nil {
		out.Results = []bandit.ScoreResult{}
	}

	text := fmt.Sprintf("Recommendation %s: no candidates", rec.ID)
	if top, ok := rec.Top(); ok {
		text = fmt.Sprintf("Recommendation %s: %s (score %.4f, confidence %.4f) out of %d candidates",
			rec.ID, top.ID, top.Score, top.Confidence, len(rec.Ranked))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, out, nil
}

// ===== TRAIN =====

type trainInput struct {
	ArmID    string    `json:"arm_id" jsonschema:"Candidate identifier"`
	Features []float64 `json:"features" jsonschema:"Feature vector of the configured dimension"`
	Reward   float64   `json:"reward" jsonschema:"Observed reward, normally 0 (rejected) to 1 (accepted)"`
}

type trainOutput struct {
	ArmID   string `json:"arm_id"`
	Updates uint64 `json:"updates"`
}

func (s *Server) train(ctx context.Context, _ *mcp.CallToolRequest, args trainInput) (*mcp.CallToolResult, trainOutput, error) {
	if args.ArmID == "" {
		return nil, trainOutput{}, fmt.Errorf("invalid input: arm_id is required")
	}
	if err := s.svc.Train(ctx, args.ArmID, args.Features, args.Reward); err != nil {
		return nil, trainOutput{}, fmt.Errorf("train failed: %w", err)
	}

	out := trainOutput{ArmID: args.ArmID}
	if detail, err := s.engine.Inspect(args.ArmID); err == nil {
		out.Updates = detail.Updates
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Trained %s (%d updates)", out.ArmID, out.Updates),
		}},
	}, out, nil
}

// ===== FEEDBACK =====

type feedbackInput struct {
	RecommendationID string  `json:"recommendation_id" jsonschema:"Identifier returned by assignment_rank"`
	SelectedID       string  `json:"selected_id" jsonschema:"Candidate actually assigned"`
	Reward           float64 `json:"reward" jsonschema:"Observed reward, normally 0 (rejected) to 1 (accepted)"`
}

type feedbackOutput struct {
	RecommendationID string `json:"recommendation_id"`
	SelectedID       string `json:"selected_id"`
	Applied          bool   `json:"applied"`
}

func (s *Server) feedback(ctx context.Context, _ *mcp.CallToolRequest, args feedbackInput) (*mcp.CallToolResult, feedbackOutput, error) {
	if args.RecommendationID == "" || args.SelectedID == "" {
		return nil, feedbackOutput{}, fmt.Errorf("invalid input: recommendation_id and selected_id are required")
	}
	if err := s.svc.Feedback(ctx, args.RecommendationID, args.SelectedID, args.Reward); err != nil {
		return nil, feedbackOutput{}, fmt.Errorf("feedback failed: %w", err)
	}
	return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("Feedback applied to %s for %s", args.SelectedID, args.RecommendationID),
			}},
		}, feedbackOutput{
			RecommendationID: args.RecommendationID,
			SelectedID:       args.SelectedID,
			Applied:          true,
		}, nil
}

// ===== INSPECT =====

type inspectInput struct {
	ArmID string `json:"arm_id,omitempty" jsonschema:"Arm to inspect. Omit to list all arms."`
}

type armSummary struct {
	ID        string `json:"id"`
	Updates   uint64 `json:"updates"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type armDetail struct {
	ID        string      `json:"id"`
	Updates   uint64      `json:"updates"`
	UpdatedAt string      `json:"updated_at,omitempty"`
	A         [][]float64 `json:"a"`
	B         []float64   `json:"b"`
	Theta     []float64   `json:"theta"`
}

type inspectOutput struct {
	Arms []armSummary `json:"arms,omitempty"`
	Arm  *armDetail   `json:"arm,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) inspect(_ context.Context, _ *mcp.CallToolRequest, args inspectInput) (*mcp.CallToolResult, inspectOutput, error) {
	if args.ArmID == "" {
		arms := s.engine.Arms()
		out := inspectOutput{Arms: make([]armSummary, len(arms))}
		for i, a := range arms {
			out.Arms[i] = armSummary{ID: a.ID, Updates: a.Updates, UpdatedAt: formatTime(a.UpdatedAt)}
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d arms", len(arms))}},
		}, out, nil
	}

	detail, err := s.engine.Inspect(args.ArmID)
	if err != nil {
		return nil, inspectOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{
			Text: fmt.Sprintf("Arm %s: %d updates, theta %v", detail.ID, detail.Updates, detail.Theta),
		}},
	}, inspectOutput{Arm: &armDetail{
		ID:        detail.ID,
		Updates:   detail.Updates,
		UpdatedAt: formatTime(detail.UpdatedAt),
		A:         detail.A,
		B:         detail.B,
		Theta:     detail.Theta,
	}}, nil
}
