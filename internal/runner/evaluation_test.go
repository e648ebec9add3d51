package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/docker/dockertest"
	"github.com/signalnine/envgrade/internal/logging"
	"github.com/signalnine/envgrade/internal/metrics"
	"github.com/signalnine/envgrade/internal/rubric"
	"github.com/signalnine/envgrade/internal/runner"
	"github.com/signalnine/envgrade/internal/stage"
)

type env struct {
	root   string
	recipe string
	fake   *dockertest.Fake
	eval   *runner.Evaluator
}

func setup(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "data", "sample_repo")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "Makefile"), []byte("test:\n"), 0o644))
	recipe := filepath.Join(root, "baseline", "gpt-4", "envgym.dockerfile")
	require.NoError(t, os.MkdirAll(filepath.Dir(recipe), 0o755))
	require.NoError(t, os.WriteFile(recipe, []byte("FROM python:3.11"), 0o644))

	cfg := config.Default()
	cfg.DataDir = filepath.Join(root, "data")
	fake := dockertest.New()
	return &env{
		root:   root,
		recipe: recipe,
		fake:   fake,
		eval: &runner.Evaluator{
			Config:  cfg,
			Runtime: fake,
			Log:     logging.Discard(),
			Metrics: metrics.New(),
			Now:     func() time.Time { return time.UnixMilli(1700000000000) },
		},
	}
}

func sample(t *testing.T) *rubric.Document {
	t.Helper()
	doc, err := rubric.Load("../../testdata/rubrics/sample_repo.json", 30*time.Second)
	require.NoError(t, err)
	return doc
}

func (e *env) input(doc *rubric.Document) runner.Input {
	return runner.Input{Recipe: e.recipe, Repo: "sample_repo", Rubric: doc}
}

func TestEvaluate(t *testing.T) {
	e := setup(t)
	e.fake.Commands["bash"] = true
	e.fake.Scripts["python3 --version"] = dockertest.Script{Stdout: "Python 3.11.4\n"}

	report, err := e.eval.Evaluate(context.Background(), e.input(sample(t)))
	require.NoError(t, err)

	assert.True(t, report.BuildLog.BuildSuccess)
	assert.Equal(t, config.LayoutFlat, report.BuildLog.Scenario)
	assert.Regexp(t, `^eval_sample_repo_1700000000000_[0-9a-f]{8}$`, report.Run.ContainerName)
	assert.Equal(t, "envgrade.run="+report.Run.ContainerName, report.Run.Label)

	require.Len(t, report.TestResults, 4)
	byID := map[string]int{}
	for i, r := range report.TestResults {
		byID[r.TestID] = i
	}
	tools := report.TestResults[byID["tools"]]
	assert.Equal(t, 1, tools.NPassed)
	assert.Equal(t, 2, tools.NTests)
	assert.Equal(t, 1.0, tools.Score)

	unit := report.TestResults[byID["unit_tests"]]
	assert.Equal(t, "Unresolvable dependencies: ['build_dir']", unit.Message)
	assert.Equal(t, "functionality", unit.Category)

	assert.Equal(t, 5, report.Summary.TotalTests)
	assert.Equal(t, 2, report.Summary.PassedTests)
	assert.Equal(t, 3, report.Summary.FailedTests)
	assert.Equal(t, 2.0, report.Summary.TotalScore)
	assert.Equal(t, 7.0, report.Summary.MaxScore)
	assert.InDelta(t, 0.4, report.Summary.SuccessRate, 1e-9)
	assert.False(t, report.Succeeded())

	builds := e.fake.Builds()
	require.Len(t, builds, 1)
	assert.Equal(t, report.Run.ImageName, builds[0].Tag)
	assert.Equal(t, filepath.Dir(e.recipe), builds[0].Context)
	assert.NoDirExists(t, filepath.Join(filepath.Dir(e.recipe), "sample_repo"), "staged copy removed after build")
	assert.Len(t, e.fake.Cleanup(), 5)
}

func TestEvaluateBuildFailure(t *testing.T) {
	e := setup(t)
	e.fake.BuildFails = true

	report, err := e.eval.Evaluate(context.Background(), e.input(sample(t)))
	require.NoError(t, err)
	assert.False(t, report.BuildLog.BuildSuccess)
	assert.Equal(t, "failed to solve", report.BuildLog.Stderr)
	assert.Empty(t, report.TestResults)
	assert.Empty(t, e.fake.Runs())
	assert.Equal(t, 7.0, report.Summary.MaxScore)
	assert.Len(t, e.fake.Cleanup(), 5, "cleanup runs after a failed build")
	assert.False(t, report.Succeeded())
}

func TestEvaluateSourceMissing(t *testing.T) {
	e := setup(t)
	require.NoError(t, os.RemoveAll(filepath.Join(e.root, "data", "sample_repo")))

	report, err := e.eval.Evaluate(context.Background(), e.input(sample(t)))
	require.NoError(t, err)
	assert.Contains(t, report.BuildLog.ErrorMessage, stage.ErrSourceMissing.Error())
	assert.Empty(t, e.fake.Builds())
	assert.Empty(t, report.TestResults)
	assert.NotNil(t, report.TestResults, "serialized as an empty list")
}

func TestEvaluateConfirmation(t *testing.T) {
	e := setup(t)
	stale := filepath.Join(filepath.Dir(e.recipe), "sample_repo")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	report, err := e.eval.Evaluate(context.Background(), e.input(sample(t)))
	require.NoError(t, err)
	assert.Contains(t, report.BuildLog.ErrorMessage, "overwrite")
	assert.Empty(t, e.fake.Builds())
	assert.DirExists(t, stale, "declined plans touch nothing")

	var asked *stage.Plan
	in := e.input(sample(t))
	in.Confirm = func(p *stage.Plan) (bool, error) {
		asked = p
		return true, nil
	}
	report, err = e.eval.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, asked)
	assert.Equal(t, []string{stale}, asked.Conflicts)
	assert.True(t, report.BuildLog.BuildSuccess)
}

func TestEvaluateTimeout(t *testing.T) {
	e := setup(t)
	e.fake.Scripts["sleep 10"] = dockertest.Script{Takes: 10 * time.Second}
	doc, err := rubric.Parse([]byte(`{"repo": "sample_repo", "tests": [
		{"id": "slow", "type": "RunCommand", "params": {"command": "sleep 10"}, "timeout": 5}
	]}`), 30*time.Second)
	require.NoError(t, err)

	report, err := e.eval.Evaluate(context.Background(), e.input(doc))
	require.NoError(t, err)
	require.Len(t, report.TestResults, 1)
	assert.Equal(t, "Command timed out after 5s (timeout exceeded)", report.TestResults[0].Message)
	assert.Len(t, e.fake.Cleanup(), 5)
}

func TestEvaluateInterrupted(t *testing.T) {
	e := setup(t)
	e.fake.Commands["bash"] = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.fake.OnRun = func(*docker.RunOpts) { cancel() }

	report, err := e.eval.Evaluate(ctx, e.input(sample(t)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{runner.InterruptedMessage}, report.Errors)
	assert.Len(t, report.TestResults, 0, "the interrupted test has no result")
	assert.Len(t, e.fake.Cleanup(), 5, "interrupted runs are still reaped")
}

func TestEvaluateRuntimeUnavailable(t *testing.T) {
	e := setup(t)
	e.fake.RunErr = docker.ErrUnavailable

	report, err := e.eval.Evaluate(context.Background(), e.input(sample(t)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, docker.ErrUnavailable))
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Container runtime unavailable")
	assert.False(t, report.Succeeded())
}

func TestEvaluateAllPass(t *testing.T) {
	e := setup(t)
	e.fake.Env["HOME"] = "/root"
	doc, err := rubric.Parse([]byte(`{"repo": "sample_repo", "tests": [
		{"id": "home", "type": "EnvVarSet", "params": {"name": "HOME"}},
		{"id": "root", "type": "DirsExist", "params": {"paths": ["/"]}, "requires": ["home"]}
	]}`), 30*time.Second)
	require.NoError(t, err)

	report, err := e.eval.Evaluate(context.Background(), e.input(doc))
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 2.0, report.Summary.TotalScore)
	assert.Equal(t, 1.0, report.Summary.SuccessRate)
}
