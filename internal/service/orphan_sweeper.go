package service

import (
	"context"
	"time"

	"github.com/developers-live/live-session/internal/metrics"
	"github.com/developers-live/live-session/internal/repo"
	"go.uber.org/zap"
)

// OrphanSweeper retries teardown of external rooms that outlived their registry entry.
type OrphanSweeper struct {
	repo     repo.SessionRepo
	rooms    RoomProvisioner
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewOrphanSweeper(r repo.SessionRepo, rooms RoomProvisioner, interval, timeout time.Duration, log *zap.Logger) *OrphanSweeper {
	return &OrphanSweeper{repo: r, rooms: rooms, interval: interval, timeout: timeout, log: log}
}

// Start sweeps once immediately and then every interval until ctx is done.
func (w *OrphanSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("Orphan sweeper started", zap.Duration("interval", w.interval))

	w.run(ctx)
	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			w.log.Info("Orphan sweeper stopped")
			return
		}
	}
}

func (w *OrphanSweeper) run(ctx context.Context) {
	started := time.Now()
	deleted, remaining, err := w.Sweep(ctx)
	if err != nil {
		w.log.Error("Orphan sweep failed", zap.Error(err), zap.Duration("duration", time.Since(started)))
		return
	}
	if deleted > 0 || remaining > 0 {
		w.log.Info("Orphan sweep completed",
			zap.Int("deleted", deleted),
			zap.Int("remaining", remaining),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

// Sweep makes one pass over the orphan set. Ids whose deletion fails stay queued.
func (w *OrphanSweeper) Sweep(ctx context.Context) (deleted, remaining int, err error) {
	ids, err := w.repo.Orphans(ctx)
	if err != nil {
		return 0, 0, storeError("list orphans", "", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return deleted, len(ids) - deleted, ctx.Err()
		}

		dctx, cancel := context.WithTimeout(ctx, w.timeout)
		err := w.rooms.Delete(dctx, id)
		cancel()
		if err != nil {
			w.log.Warn("Orphaned external room still not deleted", zap.String("external_room", id), zap.Error(err))
			continue
		}
		if err := w.repo.RemoveOrphan(ctx, id); err != nil {
			return deleted, len(ids) - deleted, storeError("remove orphan", "", err)
		}
		metrics.RecordOrphan("swept")
		deleted++
	}
	return deleted, len(ids) - deleted, nil
}
