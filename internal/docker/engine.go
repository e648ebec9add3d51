package docker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// Engine runs checks through the Engine API and leaves builds and cleanup to
// the embedded CLI.
type Engine struct {
	*CLI
}

func NewEngine(cli *CLI) *Engine {
	return &Engine{CLI: cli}
}

func (e *Engine) Run(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: creating docker client: %v", ErrUnavailable, err)
	}
	defer cli.Close()

	initTrue := true
	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:  opts.Image,
			Cmd:    []string{"sh", "-c", opts.Command},
			Labels: map[string]string{opts.Label.Key: opts.Label.Value},
		},
		HostConfig: &container.HostConfig{Init: &initTrue},
		Name:       opts.Name,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: creating container: %v", ErrUnavailable, err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: starting container: %v", ErrUnavailable, err)
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err == nil {
				continue
			}
			cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if waitCtx.Err() == nil {
				return nil, fmt.Errorf("%w: waiting for container: %v", ErrUnavailable, err)
			}
			stdout, _ := e.logs(cli, containerID)
			return &RunResult{
				ExitCode: -1,
				Stdout:   Decode(stdout),
				Stderr:   TimeoutMessage(opts.Timeout),
				TimedOut: true,
				Duration: time.Since(start),
			}, nil
		case status := <-waitResult.Result:
			stdout, stderr := e.logs(cli, containerID)
			return &RunResult{
				ExitCode: int(status.StatusCode),
				Stdout:   Decode(stdout),
				Stderr:   Decode(stderr),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func (e *Engine) logs(cli *client.Client, containerID string) (stdout, stderr []byte) {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil || logReader == nil {
		e.Log.Warn("reading container logs", "container", containerID, "err", err)
		return nil, nil
	}
	defer logReader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logReader); err != nil {
		e.Log.Warn("demultiplexing container logs", "container", containerID, "err", err)
	}
	return outBuf.Bytes(), errBuf.Bytes()
}
