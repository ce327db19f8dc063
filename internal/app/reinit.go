package app

import (
	"context"

	"github.com/deskpulse/deskpulse/internal/desks"
	"github.com/deskpulse/deskpulse/internal/surface"
	"go.uber.org/zap"
)

// Reset is the client's full reinitialization: back to the desk view, edits
// dropped, desk roster cleared and fetched again. The console clears its
// notices when it sees bus.Reinitialized.
type Reset struct {
	ctx     context.Context
	desks   *desks.Registry
	surface *surface.Surface
	log     *zap.Logger
}

func NewReset(ctx context.Context, registry *desks.Registry, surf *surface.Surface, logger *zap.Logger) *Reset {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reset{ctx: ctx, desks: registry, surface: surf, log: logger}
}

// Reinitialize implements dispatch.Reinitializer.
func (r *Reset) Reinitialize(reason string) {
	r.log.Info("resetting client state", zap.String("reason", reason))
	r.surface.Reset()
	r.desks.Clear()
	r.desks.RefreshAsync(r.ctx)
}
