// Package dispatch runs the bounded worker pool that hands ready groups to
// the conversion tool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go-subband-ingest/internal/convert"
	"go-subband-ingest/internal/metrics"
	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

// Pool claims pending groups one at a time per worker, invokes the
// converter with a wall-clock budget, and writes the outcome back. Mutual
// exclusion per group comes entirely from the store's conditional claim:
// the pool holds no shared in-memory state.
type Pool struct {
	store *store.Store
	conv  convert.Converter
	cfg   model.Config
	log   *logrus.Entry

	freeBytes func(path string) (uint64, error)
}

func New(st *store.Store, conv convert.Converter, cfg model.Config, log *logrus.Logger) *Pool {
	return &Pool{
		store:     st,
		conv:      conv,
		cfg:       cfg,
		log:       log.WithField("component", "dispatch"),
		freeBytes: diskFree,
	}
}

// Run starts the configured number of workers and blocks until ctx is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error { return p.worker(ctx) })
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context) error {
	token := uuid.NewString()
	log := p.log.WithField("worker", token[:8])

	for {
		if p.lowDisk(log) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		claimed, err := p.store.Claim(token, time.Now())
		if err != nil {
			if errors.Is(err, model.ErrStoreFatal) {
				return err
			}
			log.WithError(err).Warn("claim failed")
		}

		if claimed == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.process(ctx, claimed, log)

		// bail out promptly once shutdown begins
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// lowDisk reports whether the output filesystem is below the configured
// free-space floor. Claims pause rather than fail: groups stay pending and
// the backlog drains once space is freed.
func (p *Pool) lowDisk(log *logrus.Entry) bool {
	if p.cfg.DiskMinFreeGB <= 0 {
		return false
	}
	free, err := p.freeBytes(p.cfg.OutputDir)
	if err != nil {
		log.WithError(err).Warn("cannot check output disk space")
		return false
	}
	if free < uint64(p.cfg.DiskMinFreeGB)*gigabyte {
		log.WithFields(logrus.Fields{
			"free_gb": free / gigabyte,
			"min_gb":  p.cfg.DiskMinFreeGB,
		}).Warn("output disk space low, pausing claims")
		return true
	}
	return false
}

// process runs one conversion attempt and applies the transition table.
func (p *Pool) process(ctx context.Context, g *model.Group, log *logrus.Entry) {
	outputPath := filepath.Join(p.cfg.OutputDir, g.Key+".ms")
	paths := g.MemberPaths()

	log = log.WithFields(logrus.Fields{
		"group":   g.Key,
		"members": len(paths),
		"attempt": g.AttemptCount + 1,
	})
	log.Info("converting group")

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConvertTimeout)
	defer cancel()

	started := time.Now()
	err := p.conv.Convert(cctx, paths, outputPath)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		if serr := p.store.MarkCompleted(g.Key, outputPath, time.Now()); serr != nil {
			log.WithError(serr).Error("cannot persist completion")
			return
		}
		metrics.ObserveConversion("completed", elapsed)
		log.WithField("elapsed", elapsed.Round(time.Second)).Info("group converted")

	case model.RetryableConversion(err) && g.AttemptCount < p.cfg.MaxRetries:
		attempts := g.AttemptCount + 1
		next := time.Now().Add(retryDelay(attempts, p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay))
		if serr := p.store.ReleaseForRetry(g.Key, attempts, err.Error(), next, time.Now()); serr != nil {
			log.WithError(serr).Error("cannot release group for retry")
			return
		}
		metrics.ObserveConversion("retried", elapsed)
		log.WithError(err).WithFields(logrus.Fields{
			"retry_at": next.Format(time.RFC3339),
			"attempts": fmt.Sprintf("%d/%d", attempts, p.cfg.MaxRetries),
		}).Warn("conversion failed, will retry")

	default:
		reason := err.Error()
		if model.RetryableConversion(err) {
			reason = fmt.Sprintf("retries exhausted after %d attempts: %v", g.AttemptCount, err)
		}
		if serr := p.store.MarkFailed(g.Key, reason, time.Now()); serr != nil {
			log.WithError(serr).Error("cannot persist failure")
			return
		}
		metrics.ObserveConversion("failed", elapsed)
		log.WithError(err).Error("group failed permanently")
	}
}
