package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/result"
)

// ErrUnavailable means the container runtime itself cannot be reached. It is
// the only run failure that is not reported as a failed check.
var ErrUnavailable = errors.New("container runtime unavailable")

// Label scopes every resource created by one evaluation.
type Label struct {
	Key   string
	Value string
}

func (l Label) String() string { return l.Key + "=" + l.Value }

// Filter renders the label as a docker --filter argument.
func (l Label) Filter() string { return "label=" + l.String() }

type BuildOpts struct {
	Dockerfile string
	Context    string
	Tag        string
	Label      Label
	Timeout    time.Duration
}

type RunOpts struct {
	Image   string
	Name    string
	Command string
	Label   Label
	Timeout time.Duration
}

type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

func (r *RunResult) Success() bool { return !r.TimedOut && r.ExitCode == 0 }

// Output is stdout followed by stderr.
func (r *RunResult) Output() string { return r.Stdout + r.Stderr }

// Runtime is the only boundary to the container system.
type Runtime interface {
	// Build never fails outright; failures are recorded in the log.
	Build(ctx context.Context, opts *BuildOpts) *result.BuildLog
	// Run executes one command in a fresh, auto-removed container. Command
	// failures and timeouts are reported in the result; an error means the
	// runtime is unusable or ctx was cancelled.
	Run(ctx context.Context, opts *RunOpts) (*RunResult, error)
	Janitor
}

// Janitor removes resources. Missing resources are not errors.
type Janitor interface {
	RemoveContainer(ctx context.Context, name string) error
	RemoveLabeledContainers(ctx context.Context, l Label) error
	RemoveImage(ctx context.Context, tag string) error
	RemoveLabeledVolumes(ctx context.Context, l Label) error
	PruneBuildCache(ctx context.Context, l Label) error
}

// New returns the backend selected in cfg.
func New(cfg config.Runtime, log *slog.Logger) Runtime {
	cli := NewCLI(cfg.Binary, log)
	if cfg.Backend == config.BackendEngine {
		return NewEngine(cli)
	}
	return cli
}

// Identity names the container, image and label of one evaluation.
type Identity struct {
	ContainerName string
	ImageName     string
	Label         Label
}

func NewIdentity(repo, labelKey string, now time.Time) Identity {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ms := now.UnixMilli()
	name := fmt.Sprintf("eval_%s_%d_%s", containerSafe(repo), ms, suffix)
	return Identity{
		ContainerName: name,
		ImageName:     fmt.Sprintf("eval-%s-%d-%s:latest", imageSafe(repo), ms, suffix),
		Label:         Label{Key: labelKey, Value: name},
	}
}

func (id Identity) Run() result.Run {
	return result.Run{ContainerName: id.ContainerName, ImageName: id.ImageName, Label: id.Label.String()}
}

func containerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		}
		return '_'
	}, s)
}

func imageSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, s)
}
