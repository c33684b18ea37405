package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/logger"
)

// Manager owns the sandbox lifecycle: one container per project, provisioned
// on first request, reaped on idle, torn down on destroy.
type Manager struct {
	store  *Store
	engine *engine.Engine

	// creates collapses concurrent Create calls per project so a burst of
	// first requests provisions exactly one container. Flight state is
	// released as soon as the call completes.
	creates singleflight.Group

	clock func() time.Time
}

func NewManager(store *Store, eng *engine.Engine) *Manager {
	return &Manager{
		store:  store,
		engine: eng,
		clock:  time.Now,
	}
}

// Create returns the project's existing non-destroyed sandbox unchanged, or
// provisions a new container and registers a fresh record. The record is only
// inserted once the engine reports the container running, so a provisioning
// failure leaves nothing behind.
func (m *Manager) Create(ctx context.Context, projectID, ownerID string, template engine.Template) (Sandbox, error) {
	result, err, _ := m.creates.Do(projectID, func() (interface{}, error) {
		if rec, ok := m.store.getByProject(projectID); ok {
			if data := rec.data(); data.Status != StatusDestroyed {
				return data, nil
			}
		}

		containerID, err := m.engine.CreateContainer(ctx, template)
		if err != nil {
			return Sandbox{}, err
		}

		now := m.clock()
		data := Sandbox{
			ID:            uuid.NewString(),
			ProjectID:     projectID,
			OwnerID:       ownerID,
			ContainerID:   containerID,
			Template:      template,
			Status:        StatusRunning,
			CreatedAt:     now,
			LastTouchedAt: now,
		}
		m.store.insert(data)

		zap.L().Info("sandbox created",
			logger.WithSandboxID(data.ID),
			logger.WithProjectID(projectID),
			logger.WithContainerID(containerID),
			zap.String("template", string(template)),
		)

		return data, nil
	})
	if err != nil {
		return Sandbox{}, err
	}

	return result.(Sandbox), nil
}

// Get is a pure lookup of the project's most recent sandbox.
func (m *Manager) Get(projectID string) (Sandbox, bool) {
	rec, ok := m.store.getByProject(projectID)
	if !ok {
		return Sandbox{}, false
	}

	return rec.data(), true
}

func (m *Manager) GetByID(sandboxID string) (Sandbox, bool) {
	rec, ok := m.store.get(sandboxID)
	if !ok {
		return Sandbox{}, false
	}

	return rec.data(), true
}

func (m *Manager) GetByContainer(containerID string) (Sandbox, bool) {
	rec, ok := m.store.getByContainer(containerID)
	if !ok {
		return Sandbox{}, false
	}

	return rec.data(), true
}

// Touch refreshes LastTouchedAt. Touching a missing or destroyed sandbox is a
// no-op: a touch racing a destroy must not resurrect it.
func (m *Manager) Touch(sandboxID string) {
	rec, ok := m.store.get(sandboxID)
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec._data.Status == StatusDestroyed {
		return
	}

	rec._data.LastTouchedAt = m.clock()
}

// TouchByContainer is Touch keyed by container id; realtime connections only
// know the container they target.
func (m *Manager) TouchByContainer(containerID string) {
	rec, ok := m.store.getByContainer(containerID)
	if !ok {
		return
	}

	m.Touch(rec.data().ID)
}

// Destroy stops and removes the backing container and marks the record
// destroyed. Destroying an already-destroyed or unknown sandbox is a no-op.
// The record lock is held across the engine call so a concurrent destroy
// cannot tear the same container down twice.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	rec, ok := m.store.get(sandboxID)
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec._data.Status == StatusDestroyed {
		return nil
	}

	if err := m.engine.RemoveContainer(ctx, rec._data.ContainerID); err != nil {
		return err
	}

	rec._data.Status = StatusDestroyed

	zap.L().Info("sandbox destroyed",
		logger.WithSandboxID(sandboxID),
		logger.WithContainerID(rec._data.ContainerID),
	)

	return nil
}

// Items snapshots every record; used by the evictor.
func (m *Manager) Items() []Sandbox {
	records := m.store.list()

	items := make([]Sandbox, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.data())
	}

	return items
}
