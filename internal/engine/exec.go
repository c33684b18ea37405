package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

const execPollInterval = 100 * time.Millisecond

type ExecResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// Exec runs command to completion through the container's shell and returns
// the merged stdout/stderr text. Non-interactive; meant for short build and
// test invocations, not servers.
func (e *Engine) Exec(ctx context.Context, containerID, command string) (*ExecResult, error) {
	resp, err := e.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-lc", command},
		WorkingDir:   WorkdirPath,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create failed: %w", err)
	}

	attach, err := e.client.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach failed: %w", err)
	}
	defer attach.Close()

	// Force the hijacked connection closed on cancellation so StdCopy cannot
	// block forever on a hung process. The watcher is detached once the exec
	// returns so long-lived contexts do not accumulate one per call.
	stop := context.AfterFunc(ctx, func() { attach.Close() })
	defer stop()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil && err != io.EOF {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("exec output read failed: %w", err)
	}

	exitCode, err := e.waitExecDone(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{Output: output.String(), ExitCode: exitCode}, nil
}

// AttachTerminal starts an interactive bash with a TTY inside the container
// and returns the hijacked duplex stream. The caller owns the stream and must
// close it.
func (e *Engine) AttachTerminal(ctx context.Context, containerID string) (types.HijackedResponse, error) {
	resp, err := e.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/bash"},
		WorkingDir:   WorkdirPath,
		Env:          []string{"TERM=xterm"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("terminal exec create failed: %w", err)
	}

	attach, err := e.client.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return types.HijackedResponse{}, fmt.Errorf("terminal attach failed: %w", err)
	}

	return attach, nil
}

func (e *Engine) waitExecDone(ctx context.Context, execID string) (int, error) {
	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 1, ctx.Err()
		case <-ticker.C:
			inspect, err := e.client.ContainerExecInspect(ctx, execID)
			if err != nil {
				return 1, fmt.Errorf("exec inspect failed: %w", err)
			}
			if !inspect.Running {
				return inspect.ExitCode, nil
			}
		}
	}
}
