package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/observability"
	"github.com/spec-kit/patient-inbox/internal/service"
)

// Inbox is the slice of the conversation manager the scheduler drives.
type Inbox interface {
	IDs() []string
	AutoCloseSettings(ctx context.Context) (domain.AutoCloseSettings, error)
	Wake(ctx context.Context, id string) (bool, error)
	NotifyClosingSoon(ctx context.Context, id string, settings domain.AutoCloseSettings) (bool, error)
	AutoClose(ctx context.Context, id string, settings domain.AutoCloseSettings) (bool, error)
	Counts(ctx context.Context) service.Counts
}

// SweepResult summarizes one scheduler tick.
type SweepResult struct {
	Checked int
	Closed  []string
	Woken   []string
	Warned  []string
	Failed  []string
}

// AutoCloseScheduler periodically wakes expired snoozes, warns about threads
// entering their last day and closes idle ones.
type AutoCloseScheduler struct {
	inbox    Inbox
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewAutoCloseScheduler builds the scheduler.
func NewAutoCloseScheduler(inbox Inbox, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *AutoCloseScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoCloseScheduler{
		inbox:    inbox,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
// It blocks; call it from its own goroutine.
func (s *AutoCloseScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auto-close scheduler started", zap.Duration("interval", s.interval))
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-close scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Settings are read once per pass; a conversation
// that fails is logged and picked up again on the next pass.
func (s *AutoCloseScheduler) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	settings, err := s.inbox.AutoCloseSettings(ctx)
	if err != nil {
		s.logger.Error("auto-close sweep skipped: settings unavailable", zap.Error(err))
		return result
	}

	for _, id := range s.inbox.IDs() {
		if ctx.Err() != nil {
			break
		}
		result.Checked++

		woken, err := s.inbox.Wake(ctx, id)
		if err != nil {
			s.fail(&result, id, "wake", err)
			continue
		}
		if woken {
			// A thread that just woke gets a full tick as open before it can close.
			result.Woken = append(result.Woken, id)
			continue
		}

		warned, err := s.inbox.NotifyClosingSoon(ctx, id, settings)
		if err != nil {
			s.fail(&result, id, "closing_soon", err)
			continue
		}
		if warned {
			result.Warned = append(result.Warned, id)
		}

		closed, err := s.inbox.AutoClose(ctx, id, settings)
		if err != nil {
			s.fail(&result, id, "auto_close", err)
			continue
		}
		if closed {
			result.Closed = append(result.Closed, id)
		}
	}

	open := s.inbox.Counts(ctx).Open
	s.metrics.RecordSweep(open, len(result.Closed), len(result.Woken))
	if len(result.Closed)+len(result.Woken)+len(result.Warned)+len(result.Failed) > 0 {
		s.logger.Info("auto-close sweep completed",
			zap.String("days", settings.String()),
			zap.Int("checked", result.Checked),
			zap.Int("closed", len(result.Closed)),
			zap.Int("woken", len(result.Woken)),
			zap.Int("warned", len(result.Warned)),
			zap.Int("failed", len(result.Failed)),
			zap.Int("open", open),
		)
	}
	return result
}

func (s *AutoCloseScheduler) fail(result *SweepResult, id, step string, err error) {
	result.Failed = append(result.Failed, id)
	s.logger.Warn("auto-close sweep step failed",
		zap.String("conversation_id", id),
		zap.String("step", step),
		zap.Error(err),
	)
}
