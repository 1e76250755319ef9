package tailer

import (
	"context"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
	"go.uber.org/zap"
)

// HeartbeatSender is an interface for sending heartbeats
type HeartbeatSender interface {
	SubmitHeartbeat(ctx context.Context, hb models.Heartbeat) error
}

// Heartbeater announces liveness on a fixed period, independent of file
// activity
type Heartbeater struct {
	interval time.Duration
	sender   HeartbeatSender
	build    func() models.Heartbeat
	ledger   *Ledger
	logger   *zap.Logger
}

// NewHeartbeater creates a heartbeat loop. build is called for every beat to
// capture fresh counters. ledger may be nil.
func NewHeartbeater(interval time.Duration, sender HeartbeatSender, build func() models.Heartbeat, ledger *Ledger, logger *zap.Logger) *Heartbeater {
	return &Heartbeater{
		interval: interval,
		sender:   sender,
		build:    build,
		ledger:   ledger,
		logger:   logger,
	}
}

// Start sends a heartbeat immediately and then once per interval until ctx is
// cancelled
func (h *Heartbeater) Start(ctx context.Context) error {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			if h.ledger != nil {
				if n := h.ledger.Prune(now); n > 0 {
					h.logger.Debug("Pruned dedup ledger", zap.Int("removed", n), zap.Int("remaining", h.ledger.Len()))
				}
			}
			h.beat(ctx)
		}
	}
}

// beat sends one heartbeat. Failures are logged and otherwise ignored.
func (h *Heartbeater) beat(ctx context.Context) {
	hb := h.build()
	if err := h.sender.SubmitHeartbeat(ctx, hb); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("Heartbeat failed", zap.Error(err))
		return
	}

	h.logger.Debug("Heartbeat sent",
		zap.Uint64("messages_processed", hb.Stats.MessagesProcessed),
		zap.Uint64("intel_sent", hb.Stats.IntelSent),
		zap.Int("watched_files", hb.Stats.WatchedFiles))
}
