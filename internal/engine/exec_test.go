package engine

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecReturnsMergedOutput(t *testing.T) {
	mock := NewMockClient()
	eng := New(mock)
	ctx := context.Background()

	containerID, err := eng.CreateContainer(ctx, TemplatePython)
	require.NoError(t, err)

	mock.ExecHandler = func(gotContainer, command string) (string, int) {
		assert.Equal(t, containerID, gotContainer)
		assert.Equal(t, "echo hello", command)

		return "hello\n", 0
	}

	result, err := eng.Exec(ctx, containerID, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Output)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecReportsExitCode(t *testing.T) {
	mock := NewMockClient()
	eng := New(mock)
	ctx := context.Background()

	containerID, err := eng.CreateContainer(ctx, TemplateNode)
	require.NoError(t, err)

	mock.ExecHandler = func(_, _ string) (string, int) {
		return "boom\n", 2
	}

	result, err := eng.Exec(ctx, containerID, "exit 2")
	require.NoError(t, err)
	assert.Equal(t, "boom\n", result.Output)
	assert.Equal(t, 2, result.ExitCode)
}

func TestExecLeavesNoWatcherBehind(t *testing.T) {
	mock := NewMockClient()
	eng := New(mock)
	// One long-lived context across many execs, like a file-sync connection
	// issuing repeated listings.
	ctx := context.Background()

	containerID, err := eng.CreateContainer(ctx, TemplateNode)
	require.NoError(t, err)

	mock.ExecHandler = func(_, _ string) (string, int) {
		return "", 0
	}

	before := runtime.NumGoroutine()

	const rounds = 50
	for i := 0; i < rounds; i++ {
		_, err := eng.Exec(ctx, containerID, "true")
		require.NoError(t, err)
	}

	// Give any stragglers a moment to exit before counting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if runtime.NumGoroutine() <= before+rounds/2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d after %d execs", before, runtime.NumGoroutine(), rounds)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateContainerCleansUpOnStartFailure(t *testing.T) {
	mock := NewMockClient()
	mock.StartErr = assert.AnError
	eng := New(mock)

	_, err := eng.CreateContainer(context.Background(), TemplateNode)
	require.Error(t, err)

	require.Len(t, mock.Created, 1)
	assert.Equal(t, mock.Created, mock.Removed)
}

func TestAttachTerminalProvidesDuplexStream(t *testing.T) {
	mock := NewMockClient()
	eng := New(mock)
	ctx := context.Background()

	containerID, err := eng.CreateContainer(ctx, TemplateNode)
	require.NoError(t, err)

	attach, err := eng.AttachTerminal(ctx, containerID)
	require.NoError(t, err)
	defer attach.Close()

	peer := <-mock.TerminalPeers
	defer peer.Close()

	go func() {
		buf := make([]byte, 4)
		n, _ := peer.Read(buf)
		_, _ = peer.Write(append([]byte("echo:"), buf[:n]...))
	}()

	_, err = attach.Conn.Write([]byte("ls\n"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := attach.Reader.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "echo:")
}
