package room

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReaper sweeps stale rooms every interval until ctx is done.
// onReap, when set, receives each non-empty batch of removed codes.
func (r *Registry) RunReaper(ctx context.Context, interval, maxAge time.Duration, onReap func(codes []string)) {
	if interval <= 0 {
		r.logger.Warn("room_reaper_disabled", zap.Duration("interval", interval))
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if codes := r.ReapStale(maxAge); len(codes) > 0 && onReap != nil {
				onReap(codes)
			}
		}
	}
}
