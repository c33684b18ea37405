// Package evictor reaps sandboxes that have gone idle: no control-plane or
// realtime activity has touched them within the TTL.
package evictor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codedeck/sandbox/internal/logger"
	"github.com/codedeck/sandbox/internal/sandbox"
)

type Evictor struct {
	manager  *sandbox.Manager
	interval time.Duration
	idleTTL  time.Duration

	clock func() time.Time
}

func New(manager *sandbox.Manager, interval, idleTTL time.Duration) *Evictor {
	return &Evictor{
		manager:  manager,
		interval: interval,
		idleTTL:  idleTTL,
		clock:    time.Now,
	}
}

func (e *Evictor) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.interval):
			e.sweep(ctx)
		}
	}
}

func (e *Evictor) sweep(ctx context.Context) {
	now := e.clock()

	for _, item := range e.manager.Items() {
		if item.Status != sandbox.StatusRunning {
			continue
		}
		if now.Sub(item.LastTouchedAt) <= e.idleTTL {
			continue
		}

		zap.L().Info("evicting idle sandbox",
			logger.WithSandboxID(item.ID),
			zap.Time("last_touched_at", item.LastTouchedAt),
		)

		if err := e.manager.Destroy(ctx, item.ID); err != nil {
			zap.L().Error("error evicting sandbox", zap.Error(err), logger.WithSandboxID(item.ID))
		}
	}
}
