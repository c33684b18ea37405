package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codedeck/sandbox/internal/logger"
)

// terminalTouchInterval rate-limits activity refreshes from terminal input so
// a paste storm does not hammer the record lock.
const terminalTouchInterval = 30 * time.Second

// serveTerminal pipes raw bytes between the websocket and an interactive shell
// in the container. Two goroutines, one per direction, joined by the shared
// stream: closing either side unblocks the other.
func (b *Bridge) serveTerminal(ctx context.Context, conn *websocket.Conn, containerID string) {
	attach, err := b.engine.AttachTerminal(ctx, containerID)
	if err != nil {
		zap.L().Error("terminal attach failed", zap.Error(err), logger.WithContainerID(containerID))
		b.closeWith(conn, websocket.CloseInternalServerErr, "attach failed")

		return
	}

	// The attach stream must be closed exactly once, whichever direction
	// finishes first.
	var once sync.Once
	closeAttach := func() {
		once.Do(func() { attach.Close() })
	}
	defer closeAttach()

	var g errgroup.Group

	g.Go(func() error {
		defer func() {
			// The shell exited or the stream was torn down; either way the
			// client gets a clean close before the socket goes away.
			deadline := time.Now().Add(controlWriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited"), deadline)
			_ = conn.Close()
		}()

		buf := make([]byte, 4096)
		for {
			n, err := attach.Reader.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		// Closing the attach stream unblocks the container-side reader above.
		defer closeAttach()

		var lastTouch time.Time
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			// Keystrokes count as sandbox activity so a busy terminal session
			// is never reaped out from under the user.
			if now := time.Now(); now.Sub(lastTouch) >= terminalTouchInterval {
				lastTouch = now
				b.manager.TouchByContainer(containerID)
			}

			if _, err := attach.Conn.Write(data); err != nil {
				return err
			}
		}
	})

	_ = g.Wait()

	zap.L().Debug("terminal session ended", logger.WithContainerID(containerID))
}
