// Package sandbox holds the durable record of each project's execution
// environment and the lifecycle manager that provisions and tears down the
// backing containers.
package sandbox

import (
	"time"

	"github.com/codedeck/sandbox/internal/engine"
)

type Status string

const (
	StatusCreating  Status = "creating"
	StatusRunning   Status = "running"
	StatusDestroyed Status = "destroyed"
)

// Sandbox is one project's execution environment. Records are never removed
// from the store, only marked destroyed, so history stays inspectable.
type Sandbox struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"projectId"`
	OwnerID     string          `json:"ownerId"`
	ContainerID string          `json:"containerId"`
	Template    engine.Template `json:"template"`
	Status      Status          `json:"status"`

	CreatedAt time.Time `json:"createdAt"`

	// LastTouchedAt moves forward on every control-plane or realtime
	// activity. The evictor reaps sandboxes it considers idle by this field.
	LastTouchedAt time.Time `json:"lastTouchedAt"`
}
