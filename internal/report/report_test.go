package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/envgrade/internal/logging"
	"github.com/signalnine/envgrade/internal/report"
	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func writeReport(t *testing.T, dir string, parts []string, score float64, results ...result.TestResult) {
	t.Helper()
	path := filepath.Join(append(append([]string{dir}, parts...), result.ReportFile)...)
	r := &result.EvaluationReport{
		Repo:        "zstd",
		BuildLog:    result.BuildLog{BuildSuccess: score > 0},
		TestResults: results,
		Summary:     result.Summarize(results, 5),
	}
	r.Summary.TotalScore = score
	require.NoError(t, result.WriteReport(path, r))
}

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeReport(t, dir, []string{"claude", "haiku", "zstd"}, 3,
		result.TestResult{TestID: "tools", NPassed: 1, NTests: 1, Score: 2, Category: "structure"},
		result.TestResult{TestID: "run", NPassed: 1, NTests: 1, Score: 1, Category: "misc"},
	)
	writeReport(t, dir, []string{"ours", "gpt", "4o", "zstd"}, 4.5,
		result.TestResult{TestID: "tools", NPassed: 1, NTests: 1, Score: 2, Category: "structure"},
		result.TestResult{TestID: "run", NPassed: 1, NTests: 1, Score: 2.5, Category: "functionality"},
	)
	writeReport(t, dir, []string{"gemini", "flash", "zstd"}, 0)
	writeReport(t, dir, []string{"gemini", "flash", "other_repo"}, 5)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "broken", "model", "zstd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken", "model", "zstd", result.ReportFile), []byte("{"), 0o644))
	return dir
}

func TestModelID(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"claude/claude35haiku/facebook_zstd/evaluation_report.json", "claude/claude35haiku"},
		{"ours/claude/35haiku/facebook_zstd/evaluation_report.json", "ours-claude/35haiku"},
		{"ours/facebook_zstd/evaluation_report.json", "ours/facebook_zstd"},
		{"facebook_zstd/evaluation_report.json", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, report.ModelID(tt.rel), tt.rel)
	}
}

func TestCollect(t *testing.T) {
	dir := fixture(t)

	s, err := report.Collect(dir, "zstd", nil, now, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, "zstd", s.Repository)
	assert.Equal(t, "2026-03-01T12:00:00Z", s.Timestamp)
	require.Equal(t, 3, s.TotalModelsEvaluated, "broken and other repos are skipped")
	models := []string{s.ModelComparison[0].Model, s.ModelComparison[1].Model, s.ModelComparison[2].Model}
	assert.Equal(t, []string{"ours-gpt/4o", "claude/haiku", "gemini/flash"}, models)
	assert.Equal(t, "ours-gpt/4o", s.BestPerformer.Model)

	claude := s.ModelComparison[1]
	assert.Equal(t, 2.0, claude.Categories["structure"].Score)
	assert.Equal(t, 1.0, claude.Categories["configuration"].Score, "unknown category falls back")
	assert.Equal(t, 1, claude.Categories["configuration"].Passed)
	assert.Zero(t, claude.Categories["functionality"].Tests)
}

func TestCollectWithRubric(t *testing.T) {
	dir := fixture(t)
	doc, err := rubric.Parse([]byte(`{"repo": "zstd", "tests": [
		{"id": "tools", "type": "CommandsExist", "score": 2, "category": "structure"},
		{"id": "run", "type": "RunCommand", "score": 3, "category": "functionality"}
	]}`), time.Second)
	require.NoError(t, err)

	s, err := report.Collect(dir, "zstd", doc, now, logging.Discard())
	require.NoError(t, err)

	claude := s.ModelComparison[1]
	assert.Equal(t, report.CategoryTotals{Score: 1, MaxScore: 3, Tests: 1, Passed: 1}, claude.Categories["functionality"])
	assert.Equal(t, 2.0, claude.Categories["structure"].MaxScore)
}

func TestCollectNone(t *testing.T) {
	_, err := report.Collect(t.TempDir(), "zstd", nil, now, logging.Discard())
	assert.ErrorIs(t, err, report.ErrNoReports)
}

func TestWrite(t *testing.T) {
	s, err := report.Collect(fixture(t), "zstd", nil, now, logging.Discard())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "reports-by-repo")
	jsonPath, tablePath, err := report.Write(out, s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "zstd_summary.json"), jsonPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_models_evaluated": 3`)
	assert.Contains(t, string(data), `"best_performer"`)

	table, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	lines := strings.Split(string(table), "\n")
	assert.Equal(t, "Repository: zstd", lines[0])
	assert.True(t, strings.HasPrefix(lines[5], "ours-gpt/4o               4.5/5"), lines[5])
	assert.Contains(t, string(table), "Best Performer: ours-gpt/4o (Score: 4.5/5, Success: 100.0%)")
}

func TestRender(t *testing.T) {
	s, err := report.Collect(fixture(t), "zstd", nil, now, logging.Discard())
	require.NoError(t, err)

	for _, format := range []string{"table", "markdown", "json"} {
		var buf bytes.Buffer
		require.NoError(t, report.Render(s, format, &buf), format)
		assert.Contains(t, buf.String(), "claude/haiku", format)
	}

	var md bytes.Buffer
	require.NoError(t, report.Render(s, "markdown", &md))
	assert.Contains(t, md.String(), "| gemini/flash | 0/5 | 0.0% | 0/0 | failed |")
}
