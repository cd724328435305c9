// Package recovery reconciles the durable store with the real filesystem at
// startup, before the watcher and dispatcher begin.
package recovery

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
	"go-subband-ingest/internal/watcher"
	"go-subband-ingest/pkg/utils"
)

type Manager struct {
	store  *store.Store
	parser *watcher.Parser
	cfg    model.Config
	log    *logrus.Entry
}

func New(st *store.Store, parser *watcher.Parser, cfg model.Config, log *logrus.Logger) *Manager {
	return &Manager{
		store:  st,
		parser: parser,
		cfg:    cfg,
		log:    log.WithField("component", "recovery"),
	}
}

// Run resumes interrupted groups. InProgress rows either already produced
// their output (crash landed between Convert returning and the state write)
// or get their lock released and go back to Pending with one attempt
// charged, so repeated crashes cannot retry forever. Collecting rows are
// rebuilt from the files actually on disk.
func (m *Manager) Run() error {
	if err := m.resumeInProgress(); err != nil {
		return err
	}
	return m.rebuildCollecting()
}

func (m *Manager) resumeInProgress() error {
	interrupted, err := m.store.ListByState(model.StateInProgress)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, g := range interrupted {
		log := m.log.WithField("group", g.Key)

		outputPath := g.OutputPath
		if outputPath == "" {
			outputPath = filepath.Join(m.cfg.OutputDir, g.Key+".ms")
		}

		switch {
		case utils.NonEmptyPath(outputPath):
			if err := m.store.MarkCompleted(g.Key, outputPath, now); err != nil {
				return err
			}
			log.Info("interrupted group already converted, marked completed")

		case g.AttemptCount >= m.cfg.MaxRetries:
			if err := m.store.MarkFailed(g.Key, "retries exhausted during crash recovery", now); err != nil {
				return err
			}
			log.Warn("interrupted group out of retries, marked failed")

		default:
			if err := m.store.ReleaseForRetry(g.Key, g.AttemptCount+1,
				"interrupted by restart", now, now); err != nil {
				return err
			}
			log.WithField("attempts", g.AttemptCount+1).Info("interrupted group requeued")
		}
	}
	return nil
}

// rebuildCollecting re-derives each collecting group's member map from the
// files present in the input directory, dropping paths that vanished while
// the daemon was down. This makes re-reading the same directory idempotent.
func (m *Manager) rebuildCollecting() error {
	collecting, err := m.store.ListByState(model.StateCollecting)
	if err != nil {
		return err
	}
	if len(collecting) == 0 {
		return nil
	}

	onDisk, err := m.scanInputDir()
	if err != nil {
		return err
	}

	for _, g := range collecting {
		members := onDisk[g.Key]
		if members == nil {
			members = make(map[int]model.Member)
		}

		g.Members = members
		g.LastUpdateAt = time.Now().UTC()
		if err := m.store.Upsert(g); err != nil {
			return err
		}
		m.log.WithFields(logrus.Fields{
			"group":   g.Key,
			"members": len(members),
		}).Info("rebuilt collecting group from disk")
	}
	return nil
}

func (m *Manager) scanInputDir() (map[string]map[int]model.Member, error) {
	entries, err := os.ReadDir(m.cfg.InputDir)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[int]model.Member)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(m.cfg.InputDir, e.Name())
		key, idx, err := m.parser.Parse(path)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if out[key] == nil {
			out[key] = make(map[int]model.Member)
		}
		out[key][idx] = model.Member{
			GroupKey:  key,
			Index:     idx,
			Path:      path,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			ArrivedAt: time.Now().UTC(),
		}
	}
	return out, nil
}
