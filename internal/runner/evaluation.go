package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalnine/envgrade/internal/check"
	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/metrics"
	"github.com/signalnine/envgrade/internal/reaper"
	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
	"github.com/signalnine/envgrade/internal/stage"
)

// Evaluator grades one recipe against one rubric.
type Evaluator struct {
	Config  *config.Config
	Runtime docker.Runtime
	Log     *slog.Logger
	Metrics *metrics.Metrics
	// Now stamps the run identity. Defaults to time.Now.
	Now func() time.Time
}

type Input struct {
	Recipe string
	Repo   string
	Rubric *rubric.Document
	// Layout overrides the configured staging layout when set.
	Layout string
	// Confirm resolves staging plans that would remove existing files.
	// A nil Confirm declines.
	Confirm func(*stage.Plan) (bool, error)
}

// InterruptedMessage is recorded in the report when the run is cancelled.
const InterruptedMessage = "Evaluation interrupted by user"

// Evaluate stages, builds, runs every test and tears down. It always
// returns a report. The error is non-nil only when the run was cut short by
// cancellation or an unusable runtime; the report then holds whatever
// results were gathered and an entry in Errors.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*result.EvaluationReport, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	log := e.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	id := docker.NewIdentity(in.Repo, e.Config.Runtime.LabelKey, now())
	log = log.With("repo", in.Repo, "run", id.ContainerName)

	report := &result.EvaluationReport{
		Repo:        in.Repo,
		Dockerfile:  in.Recipe,
		Rubric:      in.Rubric.Path,
		Run:         id.Run(),
		BuildLog:    result.BuildLog{DockerfilePath: in.Recipe},
		TestResults: []result.TestResult{},
	}
	defer func() {
		report.Summary = result.Summarize(report.TestResults, in.Rubric.MaxScore())
		e.Metrics.ObserveSummary(report.Summary)
	}()

	r := &reaper.Reaper{Janitor: e.Runtime, Log: log, Metrics: e.Metrics, Timeout: e.Config.Runtime.ReapTimeout}
	defer func() {
		if err := r.Reap(id); err != nil {
			log.Warn("cleanup incomplete", "err", err)
		}
	}()

	built, err := e.build(ctx, in, id, report, log)
	if err != nil {
		return report, e.cutShort(report, err)
	}
	if !built {
		return report, nil
	}

	exec := check.NewExecutor(e.Runtime, id, log, e.Metrics)
	results, err := Schedule(ctx, in.Rubric.Tests, exec, log)
	report.TestResults = results
	if err != nil {
		return report, e.cutShort(report, err)
	}
	return report, nil
}

// build stages the source, builds the image and removes the staged copies.
// It reports false when the run cannot proceed to the tests.
func (e *Evaluator) build(ctx context.Context, in Input, id docker.Identity, report *result.EvaluationReport, log *slog.Logger) (bool, error) {
	layout := in.Layout
	if layout == "" {
		layout = e.Config.Staging.Layout
	}
	plan, err := stage.NewPlan(stage.Request{
		Recipe:  in.Recipe,
		Repo:    in.Repo,
		DataDir: e.Config.DataDir,
		Layout:  layout,
	})
	if err != nil {
		report.BuildLog.ErrorMessage = "staging failed: " + err.Error()
		return false, nil
	}
	report.BuildLog.Scenario = plan.Layout
	report.BuildLog.BuildContext = plan.Context

	if plan.Outcome == stage.ConfirmationRequired && in.Confirm != nil {
		ok, err := in.Confirm(plan)
		if err != nil {
			report.BuildLog.ErrorMessage = "staging confirmation failed: " + err.Error()
			return false, nil
		}
		if ok {
			plan.Confirm()
		}
	}
	release, err := plan.Stage(log)
	if err != nil {
		report.BuildLog.ErrorMessage = "staging failed: " + err.Error()
		return false, nil
	}

	start := time.Now()
	buildLog := e.Runtime.Build(ctx, &docker.BuildOpts{
		Dockerfile: plan.Dockerfile,
		Context:    plan.Context,
		Tag:        id.ImageName,
		Label:      id.Label,
		Timeout:    e.Config.Runtime.BuildTimeout,
	})
	release()
	buildLog.Scenario = plan.Layout
	report.BuildLog = *buildLog
	e.Metrics.ObserveBuild(buildLog.BuildSuccess, time.Since(start))

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !buildLog.BuildSuccess {
		log.Error("build failed", "err", buildLog.ErrorMessage)
		return false, nil
	}
	return true, nil
}

func (e *Evaluator) cutShort(report *result.EvaluationReport, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		report.Errors = append(report.Errors, InterruptedMessage)
		return fmt.Errorf("evaluation interrupted: %w", err)
	case errors.Is(err, docker.ErrUnavailable):
		report.Errors = append(report.Errors, "Container runtime unavailable: "+err.Error())
	default:
		report.Errors = append(report.Errors, "Evaluation failed: "+err.Error())
	}
	return fmt.Errorf("evaluation aborted: %w", err)
}
