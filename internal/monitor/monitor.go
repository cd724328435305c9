// Package monitor runs the periodic queue sweeps: timeout promotion via the
// aggregator, retention purges, and queue-depth gauge refreshes.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"go-subband-ingest/internal/aggregator"
	"go-subband-ingest/internal/metrics"
	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
	"go-subband-ingest/pkg/utils"
)

type Monitor struct {
	agg   *aggregator.Aggregator
	store *store.Store
	cfg   model.Config
	log   *logrus.Entry
}

func New(agg *aggregator.Aggregator, st *store.Store, cfg model.Config, log *logrus.Logger) *Monitor {
	return &Monitor{
		agg:   agg,
		store: st,
		cfg:   cfg,
		log:   log.WithField("component", "monitor"),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	m.agg.Sweep()

	if purged, err := m.store.PurgeTerminalBefore(time.Now().Add(-m.cfg.Retention)); err != nil {
		m.log.WithError(err).Warn("retention purge failed")
	} else if purged > 0 {
		m.log.WithField("groups", purged).Info("purged terminal groups past retention")
	}

	counts, err := m.store.CountByState()
	if err != nil {
		m.log.WithError(err).Warn("cannot count queue states")
		return
	}
	metrics.SetQueueDepth(counts)
	status := m.log.WithFields(logrus.Fields{
		"collecting":  counts[model.StateCollecting],
		"pending":     counts[model.StatePending],
		"in_progress": counts[model.StateInProgress],
		"completed":   counts[model.StateCompleted],
		"failed":      counts[model.StateFailed],
	})
	if backlog, err := utils.DirSize(m.cfg.InputDir); err == nil {
		status = status.WithField("input_backlog_bytes", backlog)
	}
	status.Debug("queue status")
}
