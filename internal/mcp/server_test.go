package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/decisionlog"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testTask = features.Task{
		Priority:       "High",
		Complexity:     4,
		DeadlineHours:  24,
		SkillsRequired: []string{"Go"},
	}
	testCandidates = []features.Candidate{
		{ID: "emp-1", CurrentLoad: 1, Skills: []string{"Go"}, RoleLevel: "Senior"},
		{ID: "emp-2", CurrentLoad: 3, Skills: []string{"Python"}, RoleLevel: "Junior"},
	}
)

func newTestServer(t *testing.T) (*Server, *bandit.Engine) {
	t.Helper()
	engine, err := bandit.New(bandit.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	svc, err := recommend.New(engine, decisionlog.NewMemoryLog(), zap.NewNop())
	require.NoError(t, err)

	s, err := NewServer(DefaultConfig(), engine, svc)
	require.NoError(t, err)
	return s, engine
}

func TestNewServer_Validation(t *testing.T) {
	engine, err := bandit.New(bandit.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	svc, err := recommend.New(engine, decisionlog.NewMemoryLog(), zap.NewNop())
	require.NoError(t, err)

	_, err = NewServer(nil, nil, svc)
	assert.Error(t, err)
	_, err = NewServer(nil, engine, nil)
	assert.Error(t, err)

	s, err := NewServer(&Config{Name: "velocity-test"}, engine, svc)
	require.NoError(t, err)
	assert.NotNil(t, s.logger, "nil logger falls back to nop")
}

func TestRankTool(t *testing.T) {
	s, engine := newTestServer(t)
	ctx := context.Background()

	res, out, err := s.rank(ctx, nil, rankInput{Task: testTask, Candidates: testCandidates})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, out.RecommendationID)
	assert.Equal(t, bandit.DefaultModelVersion, out.ModelVersion)
	require.Len(t, out.Results, 2)
	assert.GreaterOrEqual(t, out.Results[0].Score, out.Results[1].Score)
	assert.Equal(t, 2, engine.Len())

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, out.Results[0].ID)
}

func TestRankTool_Empty(t *testing.T) {
	s, _ := newTestServer(t)

	res, out, err := s.rank(context.Background(), nil, rankInput{Task: testTask})
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "no candidates")
}

func TestRankTool_MissingCandidateID(t *testing.T) {
	s, engine := newTestServer(t)

	_, _, err := s.rank(context.Background(), nil, rankInput{
		Task:       testTask,
		Candidates: []features.Candidate{{ID: "emp-1"}, {}},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, engine.Len())
}

func TestTrainTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.train(ctx, nil, trainInput{ArmID: "emp-7", Features: []float64{1, 0, 0, 0, 0, 0}, Reward: 1})
	require.NoError(t, err)
	assert.Equal(t, "emp-7", out.ArmID)
	assert.Equal(t, uint64(1), out.Updates)

	_, _, err = s.train(ctx, nil, trainInput{ArmID: "emp-7", Features: []float64{1}, Reward: 1})
	assert.ErrorIs(t, err, bandit.ErrDimensionMismatch)

	_, _, err = s.train(ctx, nil, trainInput{Features: []float64{1, 0, 0, 0, 0, 0}})
	assert.Error(t, err)
}

func TestFeedbackTool(t *testing.T) {
	s, engine := newTestServer(t)
	ctx := context.Background()

	_, ranked, err := s.rank(ctx, nil, rankInput{Task: testTask, Candidates: testCandidates})
	require.NoError(t, err)

	_, out, err := s.feedback(ctx, nil, feedbackInput{
		RecommendationID: ranked.RecommendationID,
		SelectedID:       "emp-2",
		Reward:           1,
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)

	arm, err := engine.Inspect("emp-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), arm.Updates)

	_, _, err = s.feedback(ctx, nil, feedbackInput{
		RecommendationID: ranked.RecommendationID,
		SelectedID:       "emp-1",
		Reward:           1,
	})
	assert.ErrorIs(t, err, recommend.ErrFeedbackRecorded)

	_, _, err = s.feedback(ctx, nil, feedbackInput{RecommendationID: "missing", SelectedID: "emp-1", Reward: 1})
	assert.ErrorIs(t, err, recommend.ErrRecommendationNotFound)

	_, _, err = s.feedback(ctx, nil, feedbackInput{SelectedID: "emp-1"})
	assert.Error(t, err)
}

func TestInspectTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.inspect(ctx, nil, inspectInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Arms)

	_, _, err = s.train(ctx, nil, trainInput{ArmID: "emp-1", Features: []float64{0, 1, 0, 0, 0, 0}, Reward: 0.5})
	require.NoError(t, err)

	_, out, err = s.inspect(ctx, nil, inspectInput{})
	require.NoError(t, err)
	require.Len(t, out.Arms, 1)
	assert.Equal(t, "emp-1", out.Arms[0].ID)
	assert.NotEmpty(t, out.Arms[0].UpdatedAt)

	_, out, err = s.inspect(ctx, nil, inspectInput{ArmID: "emp-1"})
	require.NoError(t, err)
	require.NotNil(t, out.Arm)
	assert.Equal(t, []float64{0, 0.5, 0, 0, 0, 0}, out.Arm.B)
	assert.Len(t, out.Arm.A, 6)
	assert.Len(t, out.Arm.Theta, 6)

	_, _, err = s.inspect(ctx, nil, inspectInput{ArmID: "ghost"})
	assert.ErrorIs(t, err, bandit.ErrArmNotFound)
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "velocity-test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestServer_Session(t *testing.T) {
	s, engine := newTestServer(t)
	cs := connect(t, s)
	ctx := context.Background()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{toolRank, toolTrain, toolFeedback, toolInspect}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name: toolTrain,
		Arguments: map[string]any{
			"arm_id":   "emp-1",
			"features": []float64{1, 0, 0, 0, 0, 0},
			"reward":   1,
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out trainOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, uint64(1), out.Updates)
	assert.Equal(t, 1, engine.Len())

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolInspect,
		Arguments: map[string]any{"arm_id": "ghost"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError, "handler errors are reported as tool errors")
}
