// Package dockertest provides an in-memory docker.Runtime that simulates a
// small container filesystem and shell.
package dockertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"

	"github.com/signalnine/envgrade/internal/docker"
	"github.com/signalnine/envgrade/internal/result"
)

// Script is the canned response to an arbitrary command.
type Script struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Takes is the simulated run time; it is compared against the run
	// timeout, never slept.
	Takes time.Duration
}

// Fake answers the command forms checks issue (command -v, test -f,
// test -d, test -n, cat) from its maps and everything else from Scripts.
// Unknown commands exit 127.
type Fake struct {
	Commands map[string]bool
	Files    map[string]string
	Dirs     map[string]bool
	Env      map[string]string
	Scripts  map[string]Script

	// BuildFails makes Build report a failed build.
	BuildFails bool
	// RunErr is returned by every Run once set.
	RunErr error
	// CleanupErr maps an operation name to the error it returns.
	CleanupErr map[string]error
	// OnRun is called before every run.
	OnRun func(opts *docker.RunOpts)

	mu      sync.Mutex
	runs    []docker.RunOpts
	builds  []docker.BuildOpts
	cleanup []string
}

func New() *Fake {
	return &Fake{
		Commands:   map[string]bool{"sh": true},
		Files:      map[string]string{},
		Dirs:       map[string]bool{"/": true},
		Env:        map[string]string{},
		Scripts:    map[string]Script{},
		CleanupErr: map[string]error{},
	}
}

func (f *Fake) Build(ctx context.Context, opts *docker.BuildOpts) *result.BuildLog {
	f.mu.Lock()
	f.builds = append(f.builds, *opts)
	f.mu.Unlock()

	log := &result.BuildLog{
		Command:        "docker build -t " + opts.Tag + " -f " + opts.Dockerfile + " " + opts.Context,
		DockerfilePath: opts.Dockerfile,
		BuildContext:   opts.Context,
		BuildSuccess:   !f.BuildFails,
		Stdout:         "naming to " + opts.Tag,
	}
	if f.BuildFails {
		log.ReturnCode = 1
		log.Stderr = "failed to solve"
		log.ErrorMessage = "docker build exited with code 1"
	}
	return log
}

func (f *Fake) Run(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.OnRun != nil {
		f.OnRun(opts)
	}
	f.mu.Lock()
	f.runs = append(f.runs, *opts)
	f.mu.Unlock()
	if f.RunErr != nil {
		return nil, f.RunErr
	}

	s := f.respond(opts.Command)
	if opts.Timeout > 0 && s.Takes > opts.Timeout {
		return &docker.RunResult{
			ExitCode: -1,
			Stdout:   s.Stdout,
			Stderr:   docker.TimeoutMessage(opts.Timeout),
			TimedOut: true,
			Duration: opts.Timeout,
		}, nil
	}
	return &docker.RunResult{ExitCode: s.ExitCode, Stdout: s.Stdout, Stderr: s.Stderr, Duration: s.Takes}, nil
}

func (f *Fake) respond(command string) Script {
	if s, ok := f.Scripts[command]; ok {
		return s
	}
	args, err := shlex.Split(command)
	if err != nil || len(args) == 0 {
		return Script{ExitCode: 2, Stderr: "sh: syntax error"}
	}
	switch {
	case len(args) == 3 && args[0] == "command" && args[1] == "-v":
		if f.Commands[args[2]] {
			return Script{Stdout: "/usr/bin/" + args[2] + "\n"}
		}
		return Script{ExitCode: 1}
	case len(args) == 3 && args[0] == "test" && args[1] == "-f":
		_, ok := f.Files[args[2]]
		return status(ok)
	case len(args) == 3 && args[0] == "test" && args[1] == "-d":
		return status(f.Dirs[args[2]])
	case len(args) == 3 && args[0] == "test" && args[1] == "-n":
		name := strings.TrimSuffix(strings.TrimPrefix(args[2], "${"), "}")
		return status(f.Env[name] != "")
	case len(args) == 2 && args[0] == "cat":
		if content, ok := f.Files[args[1]]; ok {
			return Script{Stdout: content}
		}
		return Script{ExitCode: 1, Stderr: fmt.Sprintf("cat: %s: No such file or directory\n", args[1])}
	}
	return Script{ExitCode: 127, Stderr: fmt.Sprintf("sh: 1: %s: not found\n", args[0])}
}

func status(ok bool) Script {
	if ok {
		return Script{}
	}
	return Script{ExitCode: 1}
}

func (f *Fake) record(op, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanup = append(f.cleanup, op+" "+arg)
	return f.CleanupErr[op]
}

func (f *Fake) RemoveContainer(ctx context.Context, name string) error {
	return f.record("remove_container", name)
}

func (f *Fake) RemoveLabeledContainers(ctx context.Context, l docker.Label) error {
	return f.record("remove_labeled_containers", l.String())
}

func (f *Fake) RemoveImage(ctx context.Context, tag string) error {
	return f.record("remove_image", tag)
}

func (f *Fake) RemoveLabeledVolumes(ctx context.Context, l docker.Label) error {
	return f.record("remove_labeled_volumes", l.String())
}

func (f *Fake) PruneBuildCache(ctx context.Context, l docker.Label) error {
	return f.record("prune_build_cache", l.String())
}

// Runs returns the commands run so far, in order.
func (f *Fake) Runs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.runs))
	for i, r := range f.runs {
		out[i] = r.Command
	}
	return out
}

// RunOpts returns every run request so far.
func (f *Fake) RunOpts() []docker.RunOpts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.RunOpts(nil), f.runs...)
}

func (f *Fake) Builds() []docker.BuildOpts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docker.BuildOpts(nil), f.builds...)
}

// Cleanup returns the cleanup operations so far as "op arg" strings.
func (f *Fake) Cleanup() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleanup...)
}
