// Package report compares the evaluation reports of every model that
// produced a recipe for one repository.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
)

// Categories are the buckets results are grouped into. Tests with any
// other category count as configuration.
var Categories = []string{"structure", "configuration", "functionality"}

const fallbackCategory = "configuration"

type CategoryTotals struct {
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Tests    int     `json:"tests"`
	Passed   int     `json:"passed"`
}

type ModelResult struct {
	Model        string                    `json:"model"`
	TotalScore   float64                   `json:"total_score"`
	MaxScore     float64                   `json:"max_score"`
	SuccessRate  float64                   `json:"success_rate"`
	TotalTime    float64                   `json:"total_time"`
	PassedTests  int                       `json:"passed_tests"`
	TotalTests   int                       `json:"total_tests"`
	BuildSuccess bool                      `json:"build_success"`
	Categories   map[string]CategoryTotals `json:"categories"`
	Report       string                    `json:"report"`
}

type RepoSummary struct {
	Repository           string        `json:"repository"`
	Timestamp            string        `json:"timestamp"`
	TotalModelsEvaluated int           `json:"total_models_evaluated"`
	BestPerformer        *ModelResult  `json:"best_performer"`
	ModelComparison      []ModelResult `json:"model_comparison"`
}

var ErrNoReports = errors.New("no reports found")

// ModelID derives the model from a report path relative to the reports
// root: provider/model/<repo>/... gives "provider/model", and
// ours/provider/model/<repo>/... gives "ours-provider/model".
func ModelID(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch {
	case len(parts) >= 4 && parts[0] == "ours":
		return parts[0] + "-" + parts[1] + "/" + parts[2]
	case len(parts) >= 3:
		return parts[0] + "/" + parts[1]
	}
	return "unknown"
}

// Collect reads every evaluation report for repo under dir. When doc is
// non-nil, categories and per-category maximums come from the rubric;
// otherwise from the category recorded in each result. Unreadable reports
// are logged and skipped.
func Collect(dir, repo string, doc *rubric.Document, now time.Time, log *slog.Logger) (*RepoSummary, error) {
	var models []ModelResult
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != result.ReportFile || filepath.Base(filepath.Dir(path)) != repo {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || !strings.Contains(filepath.ToSlash(rel), "/") {
			return nil
		}
		r, err := result.ReadReport(path)
		if err != nil {
			log.Warn("skipping unreadable report", "path", path, "err", err)
			return nil
		}
		models = append(models, modelResult(ModelID(rel), path, r, doc))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w for repository %s in %s", ErrNoReports, repo, dir)
	}

	sort.SliceStable(models, func(i, j int) bool {
		if models[i].TotalScore != models[j].TotalScore {
			return models[i].TotalScore > models[j].TotalScore
		}
		return models[i].Model < models[j].Model
	})
	return &RepoSummary{
		Repository:           repo,
		Timestamp:            now.Format(time.RFC3339),
		TotalModelsEvaluated: len(models),
		BestPerformer:        &models[0],
		ModelComparison:      models,
	}, nil
}

func modelResult(model, path string, r *result.EvaluationReport, doc *rubric.Document) ModelResult {
	return ModelResult{
		Model:        model,
		TotalScore:   r.Summary.TotalScore,
		MaxScore:     r.Summary.MaxScore,
		SuccessRate:  r.Summary.SuccessRate,
		TotalTime:    r.Summary.TotalExecutionTime,
		PassedTests:  r.Summary.PassedTests,
		TotalTests:   r.Summary.TotalTests,
		BuildSuccess: r.BuildLog.BuildSuccess,
		Categories:   CategoryBreakdown(r, doc),
		Report:       path,
	}
}

// CategoryBreakdown totals a report's results per category.
func CategoryBreakdown(r *result.EvaluationReport, doc *rubric.Document) map[string]CategoryTotals {
	out := make(map[string]CategoryTotals, len(Categories))
	for _, c := range Categories {
		out[c] = CategoryTotals{}
	}
	for _, tr := range r.TestResults {
		category := tr.Category
		var weight float64
		if doc != nil {
			category, weight = "", 0
			if spec, ok := doc.Lookup(tr.TestID); ok {
				category, weight = spec.Category, spec.Score
			}
		}
		if _, ok := out[category]; !ok {
			category = fallbackCategory
		}
		t := out[category]
		t.Score += tr.Score
		t.MaxScore += weight
		t.Tests++
		if tr.Passed() {
			t.Passed++
		}
		out[category] = t
	}
	return out
}

// Write stores <repo>_summary.json and <repo>_comparison.txt in dir.
func Write(dir string, s *RepoSummary) (jsonPath, tablePath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating reports dir: %w", err)
	}
	jsonPath = filepath.Join(dir, s.Repository+"_summary.json")
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing summary: %w", err)
	}

	tablePath = filepath.Join(dir, s.Repository+"_comparison.txt")
	f, err := os.Create(tablePath)
	if err != nil {
		return "", "", fmt.Errorf("creating comparison table: %w", err)
	}
	defer f.Close()
	if err := writeComparison(s, f); err != nil {
		return "", "", fmt.Errorf("writing comparison table: %w", err)
	}
	return jsonPath, tablePath, f.Close()
}

func writeComparison(s *RepoSummary, w io.Writer) error {
	fmt.Fprintf(w, "Repository: %s\n", s.Repository)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 80))
	fmt.Fprintf(w, "%-25s %-12s %-10s %-10s %-10s\n", "Model", "Score", "Success %", "Time (s)", "Tests")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, m := range s.ModelComparison {
		fmt.Fprintf(w, "%-25s %-12s %-10s %-10s %-10s\n",
			m.Model, scoreOf(m), percent(m.SuccessRate), fmt.Sprintf("%.1f", m.TotalTime),
			fmt.Sprintf("%d/%d", m.PassedTests, m.TotalTests))
	}
	fmt.Fprintln(w)
	if b := s.BestPerformer; b != nil {
		fmt.Fprintf(w, "Best Performer: %s (Score: %s, Success: %s)\n", b.Model, scoreOf(*b), percent(b.SuccessRate))
	}
	return nil
}

func scoreOf(m ModelResult) string {
	return fmt.Sprintf("%g/%g", m.TotalScore, m.MaxScore)
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

// Render prints the summary as "table" (default), "markdown" or "json".
func Render(s *RepoSummary, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func writeTable(s *RepoSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSCORE\tSUCCESS\tTESTS\tBUILD\tSTRUCTURE\tCONFIGURATION\tFUNCTIONALITY")
	fmt.Fprintln(tw, strings.Repeat("-", 100))
	for _, m := range s.ModelComparison {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			m.Model, scoreOf(m), percent(m.SuccessRate), m.PassedTests, m.TotalTests, buildStatus(m.BuildSuccess),
			categoryCell(m, "structure"), categoryCell(m, "configuration"), categoryCell(m, "functionality"))
	}
	return tw.Flush()
}

func writeMarkdown(s *RepoSummary, w io.Writer) error {
	fmt.Fprintf(w, "## %s\n\n", s.Repository)
	fmt.Fprintln(w, "| Model | Score | Success | Tests | Build | Structure | Configuration | Functionality |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|")
	for _, m := range s.ModelComparison {
		fmt.Fprintf(w, "| %s | %s | %s | %d/%d | %s | %s | %s | %s |\n",
			m.Model, scoreOf(m), percent(m.SuccessRate), m.PassedTests, m.TotalTests, buildStatus(m.BuildSuccess),
			categoryCell(m, "structure"), categoryCell(m, "configuration"), categoryCell(m, "functionality"))
	}
	return nil
}

func writeJSON(s *RepoSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func buildStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func categoryCell(m ModelResult, category string) string {
	c := m.Categories[category]
	if c.MaxScore > 0 {
		return fmt.Sprintf("%g/%g", c.Score, c.MaxScore)
	}
	return fmt.Sprintf("%g (%d/%d)", c.Score, c.Passed, c.Tests)
}
