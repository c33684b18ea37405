package engine

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// MockClient is an in-memory Client for tests: containers are counters, the
// filesystem is a map, and exec output comes from ExecHandler. Terminal
// attaches hand the test the far end of a net.Pipe so it can play the shell.
type MockClient struct {
	mu     sync.Mutex
	nextID int

	Created []string
	Started []string
	Stopped []string
	Removed []string
	Pulled  []string

	CreateErr error
	StartErr  error
	AttachErr error

	// ExecHandler produces the output and exit code for non-TTY execs.
	ExecHandler func(containerID, command string) (string, int)

	// TerminalPeers receives the container side of each terminal attach.
	TerminalPeers chan net.Conn

	files map[string]map[string][]byte
	execs map[string]*mockExec
}

type mockExec struct {
	containerID string
	command     string
	tty         bool
	exitCode    int
}

func NewMockClient() *MockClient {
	return &MockClient{
		TerminalPeers: make(chan net.Conn, 8),
		files:         make(map[string]map[string][]byte),
		execs:         make(map[string]*mockExec),
	}
}

// FileContent returns a file previously uploaded with CopyToContainer.
func (m *MockClient) FileContent(containerID, filePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.files[containerID][filePath]

	return content, ok
}

func (m *MockClient) ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error) {
	return image.InspectResponse{}, nil
}

func (m *MockClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	m.Pulled = append(m.Pulled, refStr)
	m.mu.Unlock()

	return io.NopCloser(strings.NewReader("")), nil
}

func (m *MockClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return container.CreateResponse{}, m.CreateErr
	}

	m.nextID++
	id := fmt.Sprintf("mock-container-%d", m.nextID)
	m.Created = append(m.Created, id)
	m.files[id] = make(map[string][]byte)

	return container.CreateResponse{ID: id}, nil
}

func (m *MockClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return m.StartErr
	}

	m.Started = append(m.Started, containerID)

	return nil
}

func (m *MockClient) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Stopped = append(m.Stopped, containerID)

	return nil
}

func (m *MockClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Removed = append(m.Removed, containerID)
	delete(m.files, containerID)

	return nil
}

func (m *MockClient) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := fmt.Sprintf("mock-exec-%d", m.nextID)

	command := ""
	if len(options.Cmd) == 3 && options.Cmd[0] == "/bin/sh" {
		command = options.Cmd[2]
	}

	m.execs[id] = &mockExec{
		containerID: containerID,
		command:     command,
		tty:         options.Tty,
	}

	return container.ExecCreateResponse{ID: id}, nil
}

func (m *MockClient) ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error) {
	m.mu.Lock()
	exec, ok := m.execs[execID]
	attachErr := m.AttachErr
	m.mu.Unlock()

	if attachErr != nil {
		return types.HijackedResponse{}, attachErr
	}
	if !ok {
		return types.HijackedResponse{}, fmt.Errorf("unknown exec %s", execID)
	}

	near, far := net.Pipe()

	if exec.tty {
		m.TerminalPeers <- far

		return types.HijackedResponse{Conn: near, Reader: bufio.NewReader(near)}, nil
	}

	output := ""
	exitCode := 0
	if m.ExecHandler != nil {
		output, exitCode = m.ExecHandler(exec.containerID, exec.command)
	}

	m.mu.Lock()
	exec.exitCode = exitCode
	m.mu.Unlock()

	go func() {
		w := stdcopy.NewStdWriter(far, stdcopy.Stdout)
		_, _ = w.Write([]byte(output))
		_ = far.Close()
	}()

	return types.HijackedResponse{Conn: near, Reader: bufio.NewReader(near)}, nil
}

func (m *MockClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.execs[execID]
	if !ok {
		return container.ExecInspect{}, fmt.Errorf("unknown exec %s", execID)
	}

	return container.ExecInspect{ExecID: execID, Running: false, ExitCode: exec.exitCode}, nil
}

func (m *MockClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.files[containerID]
	if !ok {
		return fmt.Errorf("no such container %s", containerID)
	}

	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}

		files[path.Join(dstPath, hdr.Name)] = data
	}
}

func (m *MockClient) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.files[containerID]
	if !ok {
		return nil, container.PathStat{}, fmt.Errorf("no such container %s", containerID)
	}

	if content, ok := files[srcPath]; ok {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		_ = tw.WriteHeader(&tar.Header{Name: path.Base(srcPath), Mode: 0o644, Size: int64(len(content))})
		_, _ = tw.Write(content)
		_ = tw.Close()

		return io.NopCloser(&buf), container.PathStat{Name: path.Base(srcPath), Mode: 0o644}, nil
	}

	for p := range files {
		if strings.HasPrefix(p, srcPath+"/") {
			return io.NopCloser(bytes.NewReader(nil)), container.PathStat{Name: path.Base(srcPath), Mode: os.ModeDir}, nil
		}
	}

	return nil, container.PathStat{}, fmt.Errorf("no such path %s in container %s", srcPath, containerID)
}
