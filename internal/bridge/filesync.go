package bridge

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/logger"
)

type syncMessage struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

type syncAck struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type syncFiles struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type syncError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// serveSync runs the file-sync sub-protocol: line-delimited JSON requests,
// one reply per request. A failed operation gets an explicit failure reply and
// the connection stays open; only a read error ends the session. All writes
// happen from this single loop so replies never interleave.
func (b *Bridge) serveSync(ctx context.Context, conn *websocket.Conn, containerID string) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg syncMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			zap.L().Warn("unparseable sync message",
				zap.Error(err), logger.WithContainerID(containerID), zap.ByteString("raw", raw))

			if err := conn.WriteJSON(syncError{Type: "error", Message: "invalid message"}); err != nil {
				return
			}

			continue
		}

		var reply any
		switch msg.Type {
		case "write":
			reply = b.handleWrite(ctx, containerID, msg)
		case "list":
			reply = b.handleList(ctx, containerID, msg)
		default:
			zap.L().Warn("unknown sync message type",
				zap.String("type", msg.Type), logger.WithContainerID(containerID))
			reply = syncError{Type: "error", Message: "unknown message type"}
		}

		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (b *Bridge) handleWrite(ctx context.Context, containerID string, msg syncMessage) syncAck {
	if err := b.engine.WriteFile(ctx, containerID, msg.Path, []byte(msg.Content)); err != nil {
		zap.L().Error("sync write failed", zap.Error(err),
			logger.WithContainerID(containerID), zap.String("path", msg.Path))

		return syncAck{Type: "ack", Path: msg.Path, Success: false, Error: "write failed"}
	}

	b.manager.TouchByContainer(containerID)

	return syncAck{Type: "ack", Path: msg.Path, Success: true}
}

func (b *Bridge) handleList(ctx context.Context, containerID string, msg syncMessage) any {
	dir := msg.Path
	if dir == "" {
		dir = "."
	}

	command, err := engine.FindCommand(dir)
	if err != nil {
		return syncError{Type: "error", Message: err.Error()}
	}

	result, err := b.engine.Exec(ctx, containerID, command)
	if err != nil {
		zap.L().Error("sync list failed", zap.Error(err),
			logger.WithContainerID(containerID), zap.String("dir", dir))

		return syncError{Type: "error", Message: "list failed"}
	}

	b.manager.TouchByContainer(containerID)

	return syncFiles{Type: "files", Data: result.Output}
}
