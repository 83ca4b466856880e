package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

// StaleMonitor reports messages left in sending by a crashed worker. It only
// observes; nothing is requeued.
type StaleMonitor struct {
	repo       repository.OutboundMessageRepository
	staleAfter time.Duration
	interval   time.Duration
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewStaleMonitor(repo repository.OutboundMessageRepository, staleAfter, interval time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *StaleMonitor {
	return &StaleMonitor{
		repo:       repo,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

func (m *StaleMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.logger.Error(err, "Stale message check failed")
			}
		}
	}
}

func (m *StaleMonitor) Check(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.staleAfter)

	n, err := m.repo.CountStaleSending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale messages: %w", err)
	}

	m.metrics.StaleSendingGauge.Set(float64(n))
	if n > 0 {
		m.logger.Warn("Messages stuck in sending", "count", n, "older_than", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}
