package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/report"
	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
	"github.com/signalnine/envgrade/internal/runner"
)

var (
	flagBaselineDir  string
	flagReportsDir   string
	flagSummaryDir   string
	flagWidth        int
	flagSkipExisting bool
	flagSummaryOnly  bool
	flagNoPrune      bool
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [repo...]",
		Short: "Evaluate every recipe for the given repositories and compare models",
		Long: "Discovers recipes under the baseline directory, evaluates each one in its own " +
			"process in waves, then writes a per-repository model comparison. Without " +
			"arguments every rubric in the rubric directory is used.",
		RunE: runBatch,
	}
	cmd.Flags().StringVar(&flagBaselineDir, "baseline-dir", "", "directory searched for recipes (default from config)")
	cmd.Flags().StringVar(&flagReportsDir, "reports-by-model-dir", "", "per-recipe report root (default from config)")
	cmd.Flags().StringVar(&flagSummaryDir, "reports-by-repo-dir", "", "per-repository summary dir (default from config)")
	cmd.Flags().StringVar(&flagRubricDir, "rubric-dir", "", "rubric directory (default from config)")
	cmd.Flags().IntVarP(&flagWidth, "batch-size", "k", 0, "evaluations per wave (default from config)")
	cmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", false, "skip recipes that already have a report")
	cmd.Flags().BoolVar(&flagSummaryOnly, "summary-only", false, "only rebuild summaries from existing reports")
	cmd.Flags().BoolVar(&flagNoPrune, "no-cleanup", false, "skip docker system prune between waves")
	return cmd
}

// batchJob is one recipe and the report it produces.
type batchJob struct {
	Repo   string
	Recipe string
	Report string
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyBatchFlags(cfg)
	log := newLogger()

	repos := args
	if len(repos) == 0 {
		if repos, err = rubricRepos(cfg.RubricDir); err != nil {
			return err
		}
	}
	if len(repos) == 0 {
		return fmt.Errorf("no rubrics found in %s", cfg.RubricDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed, skipped, total int
	if !flagSummaryOnly {
		var jobs []batchJob
		for _, repo := range repos {
			found, err := discoverRecipes(cfg.Batch.BaselineDir, cfg.Batch.RecipeName, repo, cfg.Batch.ReportsByModelDir)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				log.Warn("no recipes found", "repo", repo, "baseline", cfg.Batch.BaselineDir)
			}
			for _, j := range found {
				if flagSkipExisting && fileExists(j.Report) {
					log.Info("report exists, skipping", "recipe", j.Recipe)
					skipped++
					continue
				}
				jobs = append(jobs, j)
			}
		}
		total = len(jobs)
		failed, err = runBatchJobs(ctx, cfg, cmd, jobs, log)
		if err != nil {
			return err
		}
	}

	for _, repo := range repos {
		writeSummary(cfg, repo, log)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nEvaluations: %d run, %d failed, %d skipped\n", total, failed, skipped)
	fmt.Fprintf(cmd.OutOrStdout(), "Individual reports: %s\n", cfg.Batch.ReportsByModelDir)
	fmt.Fprintf(cmd.OutOrStdout(), "Summaries:          %s\n", cfg.Batch.ReportsByRepoDir)

	if err := ctx.Err(); err != nil {
		return &ExitError{Code: exitInterrupted, Err: fmt.Errorf("batch interrupted: %w", err)}
	}
	if failed > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d evaluations failed", failed, total)}
	}
	return nil
}

func applyBatchFlags(cfg *config.Config) {
	if flagBaselineDir != "" {
		cfg.Batch.BaselineDir = flagBaselineDir
	}
	if flagReportsDir != "" {
		cfg.Batch.ReportsByModelDir = flagReportsDir
	}
	if flagSummaryDir != "" {
		cfg.Batch.ReportsByRepoDir = flagSummaryDir
	}
	if flagRubricDir != "" {
		cfg.RubricDir = flagRubricDir
	}
	if flagWidth > 0 {
		cfg.Batch.Width = flagWidth
	}
	if flagNoPrune {
		cfg.Batch.PruneBetweenWaves = false
	}
}

// runBatchJobs evaluates each job in a child process and returns how many
// did not pass.
func runBatchJobs(ctx context.Context, cfg *config.Config, cmd *cobra.Command, jobs []batchJob, log *slog.Logger) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating envgrade binary: %w", err)
	}
	passthrough := passthroughArgs(cmd, cfg)

	pool := make([]runner.Job, len(jobs))
	for i, j := range jobs {
		pool[i] = func(ctx context.Context) error {
			log.Info("evaluating", "repo", j.Repo, "recipe", j.Recipe)
			return runChild(ctx, exe, evaluateArgs(j, passthrough), j, log)
		}
	}

	cli := docker.NewCLI(cfg.Runtime.Binary, log)
	between := func(ctx context.Context, wave int) error {
		log.Info("wave finished", "wave", wave+1, "of", (len(jobs)+cfg.Batch.Width-1)/cfg.Batch.Width)
		if cfg.Batch.PruneBetweenWaves {
			if err := cli.PruneSystem(ctx); err != nil {
				log.Warn("docker system prune failed", "err", err)
			}
		}
		select {
		case <-time.After(cfg.Batch.WaveDelay):
		case <-ctx.Done():
		}
		return nil
	}

	var failed int
	for _, err := range runner.RunWaves(ctx, cfg.Batch.Width, pool, between) {
		if errors.Is(err, context.Canceled) {
			continue
		}
		log.Error("evaluation failed", "err", err)
		failed++
	}
	return failed, nil
}

// passthroughArgs carries the parent's global settings into each child.
func passthroughArgs(cmd *cobra.Command, cfg *config.Config) []string {
	var args []string
	if cmd.Flags().Changed("config") {
		args = append(args, "--config", cfgFile)
	}
	if cmd.Flags().Changed("env-file") {
		args = append(args, "--env-file", envFile)
	}
	if flagVerbose {
		args = append(args, "--verbose")
	}
	return append(args, "--rubric-dir", cfg.RubricDir)
}

func evaluateArgs(j batchJob, passthrough []string) []string {
	args := []string{"evaluate", "--yes", "--dockerfile", j.Recipe, "--repo", j.Repo, "--output", j.Report}
	return append(args, passthrough...)
}

// runChild runs one evaluation and keeps its combined output next to the
// report. A non-zero exit is the evaluation's verdict.
func runChild(ctx context.Context, exe string, args []string, j batchJob, log *slog.Logger) error {
	c := exec.CommandContext(ctx, exe, args...)
	c.Cancel = func() error { return c.Process.Signal(os.Interrupt) }
	c.WaitDelay = 2 * time.Minute
	out, err := c.CombinedOutput()

	logPath := filepath.Join(filepath.Dir(j.Report), "evaluate.log")
	if mkErr := os.MkdirAll(filepath.Dir(logPath), 0o755); mkErr == nil {
		if wErr := os.WriteFile(logPath, out, 0o644); wErr != nil {
			log.Warn("saving evaluation log", "path", logPath, "err", wErr)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s: evaluate exited with code %d (log: %s)", j.Recipe, exitErr.ExitCode(), logPath)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", j.Recipe, err)
	}
	return nil
}

// discoverRecipes finds recipes for repo under baseline. The report path
// mirrors the recipe's directory under reportsDir.
func discoverRecipes(baseline, recipeName, repo, reportsDir string) ([]batchJob, error) {
	var jobs []batchJob
	err := filepath.WalkDir(baseline, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != recipeName {
			return nil
		}
		rel, err := filepath.Rel(baseline, path)
		if err != nil {
			return err
		}
		if !strings.Contains(filepath.ToSlash(rel), repo) {
			return nil
		}
		jobs = append(jobs, batchJob{
			Repo:   repo,
			Recipe: path,
			Report: filepath.Join(reportsDir, filepath.Dir(rel), result.ReportFile),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s for recipes: %w", baseline, err)
	}
	return jobs, nil
}

// rubricRepos lists the repositories that have a rubric in dir.
func rubricRepos(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	repos := make([]string, 0, len(paths))
	for _, p := range paths {
		repos = append(repos, strings.TrimSuffix(filepath.Base(p), ".json"))
	}
	sort.Strings(repos)
	return repos, nil
}

func writeSummary(cfg *config.Config, repo string, log *slog.Logger) {
	doc, err := rubric.Load(rubric.PathFor(cfg.RubricDir, repo), cfg.Runtime.CheckTimeout)
	if err != nil {
		log.Debug("summarizing without rubric", "repo", repo, "err", err)
		doc = nil
	}
	s, err := report.Collect(cfg.Batch.ReportsByModelDir, repo, doc, time.Now(), log)
	if err != nil {
		log.Warn("no summary", "repo", repo, "err", err)
		return
	}
	jsonPath, tablePath, err := report.Write(cfg.Batch.ReportsByRepoDir, s)
	if err != nil {
		log.Error("writing summary", "repo", repo, "err", err)
		return
	}
	log.Info("summary written", "repo", repo, "json", jsonPath, "table", tablePath, "models", s.TotalModelsEvaluated)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
