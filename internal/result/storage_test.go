package result_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/envgrade/internal/result"
)

func TestWriteAndReadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude", "sonnet", "zstd", result.ReportFile)
	report := &result.EvaluationReport{
		Repo:       "zstd",
		Dockerfile: "ENVGYM-baseline/claude/sonnet/zstd/envgym.dockerfile",
		Rubric:     "rubrics/zstd.json",
		Run:        result.Run{ContainerName: "eval_zstd_1_ab", ImageName: "eval-zstd-1-ab:latest", Label: "envgrade.run=eval_zstd_1_ab"},
		BuildLog:   result.BuildLog{Command: "docker build", BuildSuccess: true},
		TestResults: []result.TestResult{
			{TestID: "tools", TestType: "CommandsExist", NPassed: 1, NTests: 2, Score: 0.5, Message: "Found 1/2 commands."},
		},
	}
	report.Summary = result.Summarize(report.TestResults, 1)

	require.NoError(t, result.WriteReport(path, report))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	got, err := result.ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestReadReportErrors(t *testing.T) {
	_, err := result.ReadReport(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = result.ReadReport(bad)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	results := []result.TestResult{
		{TestID: "a", NPassed: 1, NTests: 2, Score: 1, ExecutionTime: 0.5},
		{TestID: "b", NPassed: 0, NTests: 1, Score: 0, ExecutionTime: 1.25},
		{TestID: "c", NPassed: 3, NTests: 3, Score: 2, ExecutionTime: 0.25},
	}
	s := result.Summarize(results, 5)

	assert.Equal(t, 6, s.TotalTests)
	assert.Equal(t, 4, s.PassedTests)
	assert.Equal(t, 2, s.FailedTests)
	assert.Equal(t, 3.0, s.TotalScore)
	assert.Equal(t, 5.0, s.MaxScore)
	assert.InDelta(t, 4.0/6.0, s.SuccessRate, 1e-9)
	assert.InDelta(t, 2.0, s.TotalExecutionTime, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	s := result.Summarize(nil, 4)
	assert.Equal(t, 0, s.TotalTests)
	assert.Equal(t, 0.0, s.SuccessRate)
	assert.Equal(t, 4.0, s.MaxScore)
}

func TestSucceeded(t *testing.T) {
	r := &result.EvaluationReport{BuildLog: result.BuildLog{BuildSuccess: true}}
	assert.True(t, r.Succeeded())

	r.Summary.FailedTests = 1
	assert.False(t, r.Succeeded())

	r.Summary.FailedTests = 0
	r.Errors = []string{"interrupted"}
	assert.False(t, r.Succeeded())

	r.Errors = nil
	r.BuildLog.BuildSuccess = false
	assert.False(t, r.Succeeded())
}
