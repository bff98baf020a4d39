package persistence

import (
	"context"
	"time"

	"github.com/BaSui01/roundtable/agent/conversation"
	"go.uber.org/zap"
)

// Rehydrate loads every snapshot from src into the conversation store and
// returns how many conversations were restored.
func Rehydrate(ctx context.Context, src SnapshotStore, store *conversation.Store, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	convs, err := src.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, conv := range convs {
		store.Restore(conv)
	}
	logger.Info("conversations rehydrated", zap.Int("count", len(convs)))
	return len(convs), nil
}

// StartCleanup runs Prune on the configured interval until ctx is done.
// It is a no-op when cleanup is disabled.
func StartCleanup(ctx context.Context, src SnapshotStore, cfg CleanupConfig, now func() time.Time, logger *zap.Logger) {
	if !cfg.Enabled || cfg.Interval <= 0 || cfg.TerminalRetention <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := src.Prune(ctx, now().Add(-cfg.TerminalRetention))
				if err != nil {
					logger.Warn("snapshot cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("snapshots pruned", zap.Int("count", n))
				}
			}
		}
	}()
}
