// Package check evaluates single rubric tests inside containers started
// from the image under evaluation.
package check

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/metrics"
	"github.com/signalnine/envgrade/internal/result"
	"github.com/signalnine/envgrade/internal/rubric"
)

// Executor runs checks against one image. Every container it starts
// carries the run label so the reaper can find leftovers.
type Executor struct {
	rt      docker.Runtime
	id      docker.Identity
	log     *slog.Logger
	metrics *metrics.Metrics
	seq     atomic.Int64
}

func NewExecutor(rt docker.Runtime, id docker.Identity, log *slog.Logger, m *metrics.Metrics) *Executor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Executor{rt: rt, id: id, log: log, metrics: m}
}

// Execute evaluates spec and returns its result. Check failures, timeouts
// and unknown types are failing results; an error is returned only when
// the runtime is unusable or ctx is done.
func (e *Executor) Execute(ctx context.Context, spec *rubric.TestSpec) (result.TestResult, error) {
	start := time.Now()
	out := rubric.Dispatch[outcome](spec.Check, &handler{e: e, ctx: ctx, timeout: spec.Timeout})
	elapsed := time.Since(start)
	if out.err != nil {
		return result.TestResult{}, fmt.Errorf("test %s: %w", spec.ID, out.err)
	}

	res := result.TestResult{
		TestID:        spec.ID,
		TestType:      spec.Type,
		NPassed:       out.passed,
		NTests:        out.total,
		Message:       out.message,
		ExecutionTime: elapsed.Seconds(),
		Category:      spec.Category,
	}
	if out.total > 0 {
		res.Score = spec.Score * float64(out.passed) / float64(out.total)
	}
	e.metrics.ObserveCheck(spec.Check.Kind().String(), res.Passed(), elapsed)
	e.log.Debug("check finished", "test", spec.ID, "type", spec.Type,
		"passed", fmt.Sprintf("%d/%d", res.NPassed, res.NTests), "score", res.Score)
	return res, nil
}

// run executes one shell command in a fresh container.
func (e *Executor) run(ctx context.Context, command string, timeout time.Duration) (*docker.RunResult, error) {
	name := fmt.Sprintf("%s_%d", e.id.ContainerName, e.seq.Add(1))
	e.log.Debug("running check command", "container", name, "command", command)
	return e.rt.Run(ctx, &docker.RunOpts{
		Image:   e.id.ImageName,
		Name:    name,
		Command: command,
		Label:   e.id.Label,
		Timeout: timeout,
	})
}

type outcome struct {
	passed  int
	total   int
	message string
	err     error
}

func pass(msg string) outcome { return outcome{passed: 1, total: 1, message: msg} }
func fail(msg string) outcome { return outcome{total: 1, message: msg} }

type handler struct {
	e       *Executor
	ctx     context.Context
	timeout time.Duration
}

func (h *handler) run(command string) (*docker.RunResult, error) {
	return h.e.run(h.ctx, command, h.timeout)
}

func (h *handler) CommandsExist(c rubric.CommandsExist) outcome {
	return h.each("commands", c.Names, func(name string) (bool, error) {
		res, err := h.run("command -v " + Quote(name))
		if err != nil {
			return false, err
		}
		return res.Success() && strings.TrimSpace(res.Stdout) != "", nil
	})
}

func (h *handler) FilesExist(c rubric.FilesExist) outcome {
	return h.each("files", c.Paths, h.test("-f"))
}

func (h *handler) DirsExist(c rubric.DirsExist) outcome {
	return h.each("directories", c.Paths, h.test("-d"))
}

func (h *handler) test(flag string) func(string) (bool, error) {
	return func(path string) (bool, error) {
		res, err := h.run("test " + flag + " " + Quote(path))
		if err != nil {
			return false, err
		}
		return res.Success(), nil
	}
}

// each checks every item independently and awards one sub-check per item.
func (h *handler) each(noun string, items []string, check func(string) (bool, error)) outcome {
	if len(items) == 0 {
		return outcome{message: fmt.Sprintf("No %s specified", noun)}
	}
	var found, missing []string
	for _, item := range items {
		ok, err := check(item)
		if err != nil {
			return outcome{err: err}
		}
		if ok {
			found = append(found, item)
		} else {
			missing = append(missing, item)
		}
	}

	out := outcome{passed: len(found), total: len(items)}
	switch {
	case len(missing) == 0:
		out.message = fmt.Sprintf("All %s found: %s", noun, strings.Join(found, ", "))
	case len(found) == 0:
		out.message = fmt.Sprintf("No %s found. Missing: %s", noun, strings.Join(missing, ", "))
	default:
		out.message = fmt.Sprintf("Found %d/%d %s. Found: %s. Missing: %s",
			len(found), len(items), noun, strings.Join(found, ", "), strings.Join(missing, ", "))
	}
	return out
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (h *handler) EnvVarSet(c rubric.EnvVarSet) outcome {
	if !envName.MatchString(c.Name) {
		return fail(fmt.Sprintf("Invalid environment variable name '%s'", c.Name))
	}
	res, err := h.run(`test -n "${` + c.Name + `}"`)
	if err != nil {
		return outcome{err: err}
	}
	if res.Success() {
		return pass(fmt.Sprintf("Environment variable '%s' is set", c.Name))
	}
	return fail(fmt.Sprintf("Environment variable '%s' is not set", c.Name))
}

func (h *handler) FileContains(c rubric.FileContains) outcome {
	res, err := h.run("test -f " + Quote(c.Path))
	if err != nil {
		return outcome{err: err}
	}
	if !res.Success() {
		return fail(fmt.Sprintf("File '%s' does not exist", c.Path))
	}

	res, err = h.run("cat " + Quote(c.Path))
	if err != nil {
		return outcome{err: err}
	}
	if !res.Success() {
		return fail(fmt.Sprintf("Could not read file '%s': %s", c.Path, strings.TrimSpace(res.Stderr)))
	}
	if matched := containsAny(res.Stdout, c.Contains); len(matched) > 0 {
		return pass("File contains: " + strings.Join(matched, ", "))
	}
	return fail("File does not contain any of: " + strings.Join(c.Contains, ", "))
}

func (h *handler) OutputContains(c rubric.OutputContains) outcome {
	res, err := h.run(c.Command)
	if err != nil {
		return outcome{err: err}
	}
	output := res.Output()
	if matched := containsAny(output, c.Contains); len(matched) > 0 {
		return pass("Output contains: " + strings.Join(matched, ", "))
	}
	return fail(fmt.Sprintf("Output does not contain any of: %s. Command output: %s",
		strings.Join(c.Contains, ", "), strings.TrimSpace(output)))
}

func (h *handler) RunCommand(c rubric.RunCommand) outcome {
	res, err := h.run(c.Command)
	if err != nil {
		return outcome{err: err}
	}
	switch {
	case res.TimedOut:
		return fail(fmt.Sprintf("Command timed out after %s (timeout exceeded)", docker.Seconds(h.timeout)))
	case res.Success():
		return pass("Command executed successfully.")
	}
	return fail("Command failed. Output: " + strings.TrimSpace(res.Output()))
}

func (h *handler) Unknown(u rubric.Unknown) outcome {
	return fail("Unknown test type: " + u.Type)
}

func containsAny(text string, needles []string) []string {
	var matched []string
	for _, n := range needles {
		if strings.Contains(text, n) {
			matched = append(matched, n)
		}
	}
	return matched
}

// Quote wraps s in single quotes for sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
