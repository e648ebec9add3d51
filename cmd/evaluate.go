package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/metrics"
	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
	"github.com/signalnine/envgrade/internal/runner"
	"github.com/signalnine/envgrade/internal/stage"
)

const exitInterrupted = 130

var (
	flagDockerfile  string
	flagRepo        string
	flagRubricDir   string
	flagRubric      string
	flagOutput      string
	flagYes         bool
	flagLayout      string
	flagMetricsFile string
)

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Build a recipe and grade the image against its rubric",
		Args:  cobra.NoArgs,
		RunE:  runEvaluate,
	}
	cmd.Flags().StringVar(&flagDockerfile, "dockerfile", "", "recipe to build")
	cmd.Flags().StringVar(&flagRepo, "repo", "", "repository name")
	cmd.Flags().StringVar(&flagRubricDir, "rubric-dir", "", "directory holding <repo>.json rubrics (default from config)")
	cmd.Flags().StringVar(&flagRubric, "rubric", "", "rubric file, overrides --rubric-dir")
	cmd.Flags().StringVar(&flagOutput, "output", "", "report path (default <repo>_evaluation_report.json)")
	cmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "stage without asking when existing files would be removed")
	cmd.Flags().BoolVar(&flagYes, "skip-warnings", false, "alias for --yes")
	cmd.Flags().StringVar(&flagLayout, "layout", "", "staging layout: auto, flat or nested (default from config)")
	cmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.MarkFlagRequired("dockerfile")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagLayout != "" {
		cfg.Staging.Layout = flagLayout
	}
	log := newLogger()

	doc, err := rubric.Load(rubricPath(cfg, flagRepo), cfg.Runtime.CheckTimeout)
	if err != nil {
		return err
	}
	for _, issue := range doc.Analyze() {
		log.Warn("rubric issue", "test", issue.TestID, "kind", issue.Kind, "detail", issue.Detail)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	ev := &runner.Evaluator{
		Config:  cfg,
		Runtime: docker.New(cfg.Runtime, log),
		Log:     log,
		Metrics: m,
	}
	report, evalErr := ev.Evaluate(ctx, runner.Input{
		Recipe:  flagDockerfile,
		Repo:    flagRepo,
		Rubric:  doc,
		Layout:  cfg.Staging.Layout,
		Confirm: confirmer(flagYes, log),
	})

	output := flagOutput
	if output == "" {
		output = flagRepo + "_" + result.ReportFile
	}
	if err := result.WriteReport(output, report); err != nil {
		log.Error("saving report", "path", output, "err", err)
		if evalErr == nil {
			evalErr = err
		}
	} else {
		log.Info("report saved", "path", output)
	}

	metricsFile := flagMetricsFile
	if metricsFile == "" {
		metricsFile = cfg.Metrics.Textfile
	}
	if metricsFile != "" {
		if err := m.WriteTextfile(metricsFile); err != nil {
			log.Warn("writing metrics", "path", metricsFile, "err", err)
		}
	}

	printSummary(cmd.OutOrStdout(), report)
	return exitFor(report, evalErr)
}

func rubricPath(cfg *config.Config, repo string) string {
	if flagRubric != "" {
		return flagRubric
	}
	dir := flagRubricDir
	if dir == "" {
		dir = cfg.RubricDir
	}
	return rubric.PathFor(dir, repo)
}

// confirmer resolves staging plans that would remove files. Without --yes
// it asks on a terminal and declines otherwise.
func confirmer(yes bool, log *slog.Logger) func(*stage.Plan) (bool, error) {
	return func(p *stage.Plan) (bool, error) {
		if yes {
			return true, nil
		}
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			log.Warn("staging would remove existing entries; rerun with --yes", "entries", p.Conflicts)
			return false, nil
		}
		var ok bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Staging into %s removes %d existing entries. Continue?", p.Context, len(p.Conflicts))).
			Description(strings.Join(p.Conflicts, "\n")).
			Affirmative("Remove and continue").
			Negative("Abort").
			Value(&ok).
			Run()
		if err != nil {
			return false, fmt.Errorf("confirmation prompt: %w", err)
		}
		return ok, nil
	}
}

func printSummary(w io.Writer, r *result.EvaluationReport) {
	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()

	fmt.Fprintf(w, "\nRepository: %s\n", r.Repo)
	fmt.Fprintf(w, "Dockerfile: %s\n", r.Dockerfile)
	if !r.BuildLog.BuildSuccess {
		fmt.Fprintf(w, "Build:      %s\n", fail("FAIL"))
		if r.BuildLog.ErrorMessage != "" {
			fmt.Fprintf(w, "            %s\n", r.BuildLog.ErrorMessage)
		}
	} else {
		fmt.Fprintf(w, "Build:      %s (%s)\n", pass("PASS"), r.BuildLog.Scenario)
	}

	for _, t := range r.TestResults {
		status := pass("PASS")
		if t.NPassed < t.NTests {
			status = fail("FAIL")
		}
		fmt.Fprintf(w, "  %s %-30s %d/%d  %.2f\n", status, t.TestID, t.NPassed, t.NTests, t.Score)
	}

	s := r.Summary
	fmt.Fprintf(w, "\nPassed %d/%d, score %.2f/%.2f (%.1f%%), %.1fs\n",
		s.PassedTests, s.TotalTests, s.TotalScore, s.MaxScore, s.SuccessRate*100, s.TotalExecutionTime)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s %s\n", fail("ERROR"), e)
	}
}

// exitFor maps an evaluation outcome to the process exit code.
func exitFor(r *result.EvaluationReport, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &ExitError{Code: exitInterrupted, Err: err}
	case err != nil:
		return &ExitError{Code: 1, Err: err}
	case !r.BuildLog.BuildSuccess:
		return &ExitError{Code: 1, Err: errors.New("build failed")}
	case !r.Succeeded():
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d checks failed", r.Summary.FailedTests, r.Summary.TotalTests)}
	}
	return nil
}
