package evictor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/sandbox"
)

func TestSweepDestroysIdleSandboxes(t *testing.T) {
	manager := sandbox.NewManager(sandbox.NewStore(), engine.New(engine.NewMockClient()))
	ctx := context.Background()

	idle, err := manager.Create(ctx, "project-idle", "user-1", engine.TemplateNode)
	require.NoError(t, err)

	evictor := New(manager, time.Minute, 30*time.Minute)

	// Advance the evictor's clock past the idle TTL instead of sleeping.
	evictor.clock = func() time.Time { return time.Now().Add(31 * time.Minute) }
	evictor.sweep(ctx)

	got, ok := manager.GetByID(idle.ID)
	require.True(t, ok)
	assert.Equal(t, sandbox.StatusDestroyed, got.Status)
}

func TestSweepKeepsRecentlyTouchedSandboxes(t *testing.T) {
	manager := sandbox.NewManager(sandbox.NewStore(), engine.New(engine.NewMockClient()))
	ctx := context.Background()

	active, err := manager.Create(ctx, "project-active", "user-1", engine.TemplateNode)
	require.NoError(t, err)

	evictor := New(manager, time.Minute, 30*time.Minute)

	evictor.clock = func() time.Time { return time.Now().Add(10 * time.Minute) }
	evictor.sweep(ctx)

	got, ok := manager.GetByID(active.ID)
	require.True(t, ok)
	assert.Equal(t, sandbox.StatusRunning, got.Status)
}

func TestSweepSkipsAlreadyDestroyedSandboxes(t *testing.T) {
	mock := engine.NewMockClient()
	manager := sandbox.NewManager(sandbox.NewStore(), engine.New(mock))
	ctx := context.Background()

	sb, err := manager.Create(ctx, "project-1", "user-1", engine.TemplateNode)
	require.NoError(t, err)
	require.NoError(t, manager.Destroy(ctx, sb.ID))

	evictor := New(manager, time.Minute, 30*time.Minute)
	evictor.clock = func() time.Time { return time.Now().Add(time.Hour) }
	evictor.sweep(ctx)

	assert.Len(t, mock.Removed, 1)
}
