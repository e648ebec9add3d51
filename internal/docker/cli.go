package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/signalnine/envgrade/internal/result"
)

// daemonExitCode is what the docker client returns when it fails before the
// container command runs.
const daemonExitCode = 125

// CLI drives the runtime through its command-line client.
type CLI struct {
	Binary string
	Log    *slog.Logger
}

func NewCLI(binary string, log *slog.Logger) *CLI {
	if binary == "" {
		binary = "docker"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &CLI{Binary: binary, Log: log}
}

// exec runs the client. A non-zero exit is reported through code, not err;
// err is set only when the client could not run or ctx ended.
func (c *CLI) exec(ctx context.Context, args ...string) (stdout, stderr []byte, code int, err error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var so, se bytes.Buffer
	cmd.Stdout = &so
	cmd.Stderr = &se
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return so.Bytes(), se.Bytes(), -1, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return so.Bytes(), se.Bytes(), exitErr.ExitCode(), nil
		}
		if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
			return nil, nil, -1, fmt.Errorf("%w: %v", ErrUnavailable, runErr)
		}
		return so.Bytes(), se.Bytes(), -1, runErr
	}
	return so.Bytes(), se.Bytes(), 0, nil
}

func (c *CLI) Build(ctx context.Context, opts *BuildOpts) *result.BuildLog {
	args := []string{"build", "--label", opts.Label.String(), "-t", opts.Tag, "-f", opts.Dockerfile, opts.Context}
	log := &result.BuildLog{
		Command:        c.Binary + " " + strings.Join(args, " "),
		DockerfilePath: opts.Dockerfile,
		BuildContext:   opts.Context,
	}

	buildCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c.Log.Info("building image", "tag", opts.Tag, "dockerfile", opts.Dockerfile, "context", opts.Context)
	start := time.Now()
	stdout, stderr, code, err := c.exec(buildCtx, args...)
	log.DurationS = time.Since(start).Seconds()
	log.Stdout = Decode(stdout)
	log.Stderr = Decode(stderr)
	log.ReturnCode = code

	switch {
	case err == nil && code == 0:
		log.BuildSuccess = true
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		log.BuildTimeout = true
		log.ErrorMessage = "docker build timed out after " + Seconds(opts.Timeout)
	case err != nil:
		log.ErrorMessage = err.Error()
	case isDaemonError(log.Stderr):
		log.ErrorMessage = fmt.Sprintf("%v: %s", ErrUnavailable, strings.TrimSpace(log.Stderr))
	default:
		log.ErrorMessage = fmt.Sprintf("docker build exited with code %d", code)
	}
	c.Log.Info("build finished", "tag", opts.Tag, "success", log.BuildSuccess, "duration", Seconds(time.Since(start).Round(time.Millisecond)))
	return log
}

func (c *CLI) Run(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	args := []string{"run", "--rm", "--name", opts.Name, "--label", opts.Label.String(), opts.Image, "sh", "-c", opts.Command}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, code, err := c.exec(runCtx, args...)
	res := &RunResult{
		ExitCode: code,
		Stdout:   Decode(stdout),
		Stderr:   Decode(stderr),
		Duration: time.Since(start),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.forceRemove(opts.Name)
			res.TimedOut = true
			res.ExitCode = -1
			res.Stderr = TimeoutMessage(opts.Timeout)
			return res, nil
		}
		if ctx.Err() != nil {
			c.forceRemove(opts.Name)
			return nil, ctx.Err()
		}
		return nil, err
	}
	if code == daemonExitCode && isDaemonError(res.Stderr) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// forceRemove kills a container whose client was abandoned. It runs on its
// own context because the caller's has already ended.
func (c *CLI) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.RemoveContainer(ctx, name); err != nil {
		c.Log.Warn("removing abandoned container", "container", name, "err", err)
	}
}

func (c *CLI) RemoveContainer(ctx context.Context, name string) error {
	_, stderr, code, err := c.exec(ctx, "rm", "-f", name)
	return checkExit("removing container "+name, stderr, code, err)
}

func (c *CLI) RemoveLabeledContainers(ctx context.Context, l Label) error {
	stdout, stderr, code, err := c.exec(ctx, "ps", "-aq", "--filter", l.Filter())
	if err := checkExit("listing containers", stderr, code, err); err != nil {
		return err
	}
	ids := strings.Fields(string(stdout))
	if len(ids) == 0 {
		return nil
	}
	_, stderr, code, err = c.exec(ctx, append([]string{"rm", "-f"}, ids...)...)
	return checkExit("removing labeled containers", stderr, code, err)
}

func (c *CLI) RemoveImage(ctx context.Context, tag string) error {
	_, stderr, code, err := c.exec(ctx, "rmi", "-f", tag)
	return checkExit("removing image "+tag, stderr, code, err)
}

func (c *CLI) RemoveLabeledVolumes(ctx context.Context, l Label) error {
	stdout, stderr, code, err := c.exec(ctx, "volume", "ls", "-q", "--filter", l.Filter())
	if err := checkExit("listing volumes", stderr, code, err); err != nil {
		return err
	}
	names := strings.Fields(string(stdout))
	if len(names) == 0 {
		return nil
	}
	_, stderr, code, err = c.exec(ctx, append([]string{"volume", "rm", "-f"}, names...)...)
	return checkExit("removing labeled volumes", stderr, code, err)
}

func (c *CLI) PruneBuildCache(ctx context.Context, l Label) error {
	_, stderr, code, err := c.exec(ctx, "builder", "prune", "-f", "--filter", l.Filter())
	return checkExit("pruning build cache", stderr, code, err)
}

// PruneSystem removes every unused image, container, network and volume on
// the host. Batch runs call it between waves.
func (c *CLI) PruneSystem(ctx context.Context) error {
	_, stderr, code, err := c.exec(ctx, "system", "prune", "-a", "--volumes", "-f")
	return checkExit("pruning system", stderr, code, err)
}

func checkExit(what string, stderr []byte, code int, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if code == 0 {
		return nil
	}
	msg := strings.TrimSpace(Decode(stderr))
	if isNotFound(msg) {
		return nil
	}
	if isDaemonError(msg) {
		return fmt.Errorf("%s: %w: %s", what, ErrUnavailable, msg)
	}
	return fmt.Errorf("%s: exit %d: %s", what, code, msg)
}

func isNotFound(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no such ")
}

func isDaemonError(stderr string) bool {
	return strings.Contains(stderr, "Cannot connect to the Docker daemon") ||
		strings.Contains(stderr, "permission denied while trying to connect to the Docker daemon")
}
