package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/velocity/internal/bandit"
	"github.com/fyrsmithlabs/velocity/internal/decisionlog"
	velocityhttp "github.com/fyrsmithlabs/velocity/internal/http"
	"github.com/fyrsmithlabs/velocity/internal/recommend"
)

const predictBody = `{
  "task": {"priority": "High", "complexity": 5, "deadline_hours": 24, "skills_required": ["Go"]},
  "candidates": [
    {"id": "emp-1", "current_load": 1, "skills": ["Go"], "role_level": "Senior"},
    {"id": "emp-2", "current_load": 4, "skills": ["Java"], "role_level": "Junior"}
  ]
}`

// newTestServer runs a real velocityd HTTP stack on an httptest server.
func newTestServer(t *testing.T) (*httptest.Server, *bandit.Engine) {
	t.Helper()
	engine, err := bandit.New(bandit.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	svc, err := recommend.New(engine, decisionlog.NewMemoryLog(), zap.NewNop())
	require.NoError(t, err)

	cfg := velocityhttp.DefaultConfig()
	cfg.RateLimit.Enabled = false
	srv, err := velocityhttp.NewServer(engine, svc, zap.NewNop(), cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return ts, engine
}

// execute runs velctl with args against url and returns stdout.
func execute(t *testing.T, url, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--server", url}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	out, err := execute(t, ts.URL, "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Arms:          0")
}

func TestHealth_Unreachable(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:1", "", "health", "--timeout", "200ms")
	assert.Error(t, err)
}

func TestPredictAndFeedback(t *testing.T) {
	ts, engine := newTestServer(t)

	out, err := execute(t, ts.URL, predictBody, "predict", "--json", "-")
	require.NoError(t, err)
	var resp velocityhttp.PredictResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.SortedCandidates, 2)
	require.NotEmpty(t, resp.RecommendationID)

	out, err = execute(t, ts.URL, "", "feedback",
		"--recommendation", resp.RecommendationID,
		"--selected", "emp-2",
		"--reward", "1",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Feedback recorded")

	arm, err := engine.Inspect("emp-2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), arm.Updates)

	_, err = execute(t, ts.URL, "", "feedback",
		"--recommendation", resp.RecommendationID,
		"--selected", "emp-1",
		"--reward", "0",
	)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.Status)
}

func TestPredict_Table(t *testing.T) {
	ts, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(predictBody), 0600))

	out, err := execute(t, ts.URL, "", "predict", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Recommendation:")
	assert.Contains(t, out, "EMPLOYEE")
	assert.Contains(t, out, "emp-1")
	assert.Contains(t, out, "emp-2")
}

func TestRank(t *testing.T) {
	ts, engine := newTestServer(t)

	out, err := execute(t, ts.URL, predictBody, "rank")
	require.NoError(t, err)
	assert.Contains(t, out, "UNCERTAINTY")
	assert.Equal(t, 2, engine.Len())
}

func TestTrainAndArms(t *testing.T) {
	ts, _ := newTestServer(t)

	out, err := execute(t, ts.URL, "", "train", "--arm", "emp-9", "--features", "1,0,0,0,0,0", "--reward", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Trained emp-9")

	out, err = execute(t, ts.URL, "", "arms")
	require.NoError(t, err)
	assert.Contains(t, out, "emp-9")

	out, err = execute(t, ts.URL, "", "arms", "emp-9")
	require.NoError(t, err)
	assert.Contains(t, out, "Updates: 1")

	_, err = execute(t, ts.URL, "", "arms", "ghost")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestTrain_ValidationError(t *testing.T) {
	ts, _ := newTestServer(t)

	_, err := execute(t, ts.URL, "", "train", "--arm", "emp-9", "--features", "1,0", "--reward", "1")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Contains(t, apiErr.Message, "expected 6")

	_, err = execute(t, ts.URL, "", "train", "--arm", "emp-9")
	assert.Error(t, err, "missing required flags")
}

func TestCheckpointSaveRestore(t *testing.T) {
	src, _ := newTestServer(t)
	dst, dstEngine := newTestServer(t)

	_, err := execute(t, src.URL, "", "train", "--arm", "emp-1", "--features", "0,1,0,0,0,0", "--reward", "1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	_, err = execute(t, src.URL, "", "checkpoint", "save", path)
	require.NoError(t, err)

	out, err := execute(t, dst.URL, "", "checkpoint", "restore", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint restored")

	arm, err := dstEngine.Inspect("emp-1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 0, 0, 0}, arm.B)

	_, err = execute(t, dst.URL, "not json", "checkpoint", "restore", "-")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)

	_, err = execute(t, dst.URL, "", "checkpoint", "restore")
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "arm not found", errorMessage([]byte(`{"message":"arm not found"}`)))
	assert.Equal(t, "plain failure", errorMessage([]byte("plain failure\n")))
}
