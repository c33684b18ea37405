package bridge_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/sandbox/internal/bridge"
	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/sandbox"
	"github.com/codedeck/sandbox/internal/token"
)

type testBridge struct {
	server  *httptest.Server
	mock    *engine.MockClient
	manager *sandbox.Manager
	tokens  *token.Service
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()

	mock := engine.NewMockClient()
	eng := engine.New(mock)
	manager := sandbox.NewManager(sandbox.NewStore(), eng)
	tokens := token.NewService("test-secret", time.Minute)

	server := httptest.NewServer(bridge.New(tokens, eng, manager))
	t.Cleanup(server.Close)

	return &testBridge{server: server, mock: mock, manager: manager, tokens: tokens}
}

// sandboxWithToken provisions a container through the manager and mints a
// token scoped to it.
func (b *testBridge) sandboxWithToken(t *testing.T) (sandbox.Sandbox, string) {
	t.Helper()

	sb, err := b.manager.Create(context.Background(), "proj-1", "alice", engine.TemplateNode)
	require.NoError(t, err)

	value, err := b.tokens.Issue("alice", sb.ContainerID)
	require.NoError(t, err)

	return sb, value
}

func (b *testBridge) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(b.server.URL, "http") + "/?" + query

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// expectClose reads until the server's close frame arrives and returns it.
func expectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			closeErr, ok := err.(*websocket.CloseError)
			require.True(t, ok, "expected close frame, got %v", err)

			return closeErr
		}
	}
}

func (b *testBridge) terminalPeer(t *testing.T) net.Conn {
	t.Helper()

	select {
	case peer := <-b.mock.TerminalPeers:
		t.Cleanup(func() { peer.Close() })

		return peer
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal attach observed")

		return nil
	}
}

func TestGateRejections(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	other, err := b.manager.Create(context.Background(), "proj-2", "alice", engine.TemplateNode)
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  string
		reason string
	}{
		{
			name:   "missing container",
			query:  "token=" + value,
			reason: "container required",
		},
		{
			name:   "missing token",
			query:  "container=" + sb.ContainerID,
			reason: "token required",
		},
		{
			name:   "garbage token",
			query:  fmt.Sprintf("container=%s&token=not-a-token", sb.ContainerID),
			reason: "invalid token",
		},
		{
			name:   "token for another container",
			query:  fmt.Sprintf("container=%s&token=%s", other.ContainerID, value),
			reason: "container mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := b.dial(t, tt.query)

			closeErr := expectClose(t, conn)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
			assert.Equal(t, tt.reason, closeErr.Text)
		})
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	b := newTestBridge(t)

	expiring := token.NewService("test-secret", time.Millisecond)
	sb, err := b.manager.Create(context.Background(), "proj-1", "alice", engine.TemplateNode)
	require.NoError(t, err)

	value, err := expiring.Issue("alice", sb.ContainerID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))

	closeErr := expectClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "invalid token", closeErr.Text)
}

func TestExpiredTokenIsRejectedAfterEarlierAcceptance(t *testing.T) {
	b := newTestBridge(t)

	shortLived := token.NewService("test-secret", 300*time.Millisecond)
	sb, err := b.manager.Create(context.Background(), "proj-1", "alice", engine.TemplateNode)
	require.NoError(t, err)

	value, err := shortLived.Issue("alice", sb.ContainerID)
	require.NoError(t, err)

	query := fmt.Sprintf("container=%s&token=%s&type=sync", sb.ContainerID, value)

	// Two accepted connections before expiry; the second one hits the
	// verified-token cache. Neither may stretch the token's lifetime.
	for i := 0; i < 2; i++ {
		conn := b.dial(t, query)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

		var reply json.RawMessage
		require.NoError(t, conn.ReadJSON(&reply))
		require.NoError(t, conn.Close())

		time.Sleep(150 * time.Millisecond)
	}

	// Past exp now.
	late := b.dial(t, query)

	closeErr := expectClose(t, late)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "invalid token", closeErr.Text)
}

func TestTerminalPipesBothDirections(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))
	peer := b.terminalPeer(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))

	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ls\n", string(buf[:n]))

	_, err = peer.Write([]byte("app.js\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, "app.js\n", string(data))
}

func TestTerminalTrafficTouchesSandbox(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))
	peer := b.terminalPeer(t)

	before, _ := b.manager.GetByID(sb.ID)

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))

	// The keystroke reaching the container guarantees the activity refresh
	// already ran.
	buf := make([]byte, 8)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := peer.Read(buf)
	require.NoError(t, err)

	after, _ := b.manager.GetByID(sb.ID)
	assert.True(t, after.LastTouchedAt.After(before.LastTouchedAt))
}

func TestTerminalClosesNormallyWhenProcessEnds(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))
	peer := b.terminalPeer(t)

	require.NoError(t, peer.Close())

	closeErr := expectClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "process exited", closeErr.Text)
}

func TestTerminalClientCloseTearsDownProcessStream(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))
	peer := b.terminalPeer(t)

	require.NoError(t, conn.Close())

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err := peer.Read(buf)
	assert.Error(t, err)
}

func TestTerminalAttachFailureClosesWithInternalError(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	b.mock.AttachErr = fmt.Errorf("daemon unavailable")

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s", sb.ContainerID, value))

	closeErr := expectClose(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
	assert.Equal(t, "attach failed", closeErr.Text)
}

func TestSyncWriteAndList(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	b.mock.ExecHandler = func(containerID, command string) (string, int) {
		return "/workspace/src/app.js\n", 0
	}

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s&type=sync", sb.ContainerID, value))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":    "write",
		"path":    "src/app.js",
		"content": "console.log('hi')",
	}))

	var ack struct {
		Type    string `json:"type"`
		Path    string `json:"path"`
		Success bool   `json:"success"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, "src/app.js", ack.Path)
	assert.True(t, ack.Success)

	content, ok := b.mock.FileContent(sb.ContainerID, "/workspace/src/app.js")
	require.True(t, ok)
	assert.Equal(t, "console.log('hi')", string(content))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "list", "path": "."}))

	var files struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&files))
	assert.Equal(t, "files", files.Type)
	assert.Equal(t, "/workspace/src/app.js\n", files.Data)
}

func TestSyncRepliesWithErrorAndStaysOpen(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s&type=sync", sb.ContainerID, value))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var reply struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, "unknown message type", reply.Message)

	// The connection survives bad messages.
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":    "write",
		"path":    "a.txt",
		"content": "still works",
	}))

	var ack struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.True(t, ack.Success)
}

func TestSyncWriteFailureAcksWithoutClosing(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s&type=sync", sb.ContainerID, value))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":    "write",
		"path":    "../outside.txt",
		"content": "nope",
	}))

	var ack struct {
		Type    string `json:"type"`
		Path    string `json:"path"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "ack", ack.Type)
	assert.False(t, ack.Success)
	assert.NotEmpty(t, ack.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "list", "path": "."}))

	var raw json.RawMessage
	require.NoError(t, conn.ReadJSON(&raw))
}

func TestConnectionTouchesSandbox(t *testing.T) {
	b := newTestBridge(t)
	sb, value := b.sandboxWithToken(t)

	before, _ := b.manager.GetByID(sb.ID)

	time.Sleep(5 * time.Millisecond)

	conn := b.dial(t, fmt.Sprintf("container=%s&token=%s&type=sync", sb.ContainerID, value))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	var reply json.RawMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))

	after, _ := b.manager.GetByID(sb.ID)
	assert.True(t, after.LastTouchedAt.After(before.LastTouchedAt))
}
