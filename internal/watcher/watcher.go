package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"go-subband-ingest/internal/model"
)

// Sink receives arrival events. The aggregator is the only implementation
// in the daemon; tests substitute their own.
type Sink interface {
	Offer(model.Member)
}

// Watcher observes the input directory for new subband files and emits one
// arrival event per distinct path. It runs single-threaded so events reach
// the aggregator in arrival order.
type Watcher struct {
	dir          string
	parser       *Parser
	sink         Sink
	pollInterval time.Duration
	log          *logrus.Entry

	seen map[string]struct{}
}

func New(dir string, parser *Parser, sink Sink, pollInterval time.Duration, log *logrus.Logger) *Watcher {
	return &Watcher{
		dir:          dir,
		parser:       parser,
		sink:         sink,
		pollInterval: pollInterval,
		log:          log.WithField("component", "watcher"),
		seen:         make(map[string]struct{}),
	}
}

// Run watches until ctx is cancelled. It starts with a full directory scan
// so files that arrived while the daemon was down are picked up, then
// consumes fsnotify events with a periodic rescan as fallback for
// filesystems (NFS and friends) that do not deliver inotify events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	w.scan()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				w.ingest(ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("fsnotify error")
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan walks the directory once, ingesting anything not yet seen. Sorted
// order keeps replays deterministic.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.WithError(err).Warn("cannot read input directory")
		return
	}

	names := make([]string, 0, len(entries))
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
			present[filepath.Join(w.dir, e.Name())] = struct{}{}
		}
	}
	sort.Strings(names)

	// forget paths that left the directory, so the set stays bounded over a
	// long run and a re-created file counts as a fresh arrival
	for path := range w.seen {
		if _, ok := present[path]; !ok {
			delete(w.seen, path)
		}
	}

	for _, name := range names {
		w.ingest(filepath.Join(w.dir, name))
	}
}

// ingest parses and forwards a single path, at most once per distinct path.
func (w *Watcher) ingest(path string) {
	if _, done := w.seen[path]; done {
		return
	}

	key, idx, err := w.parser.Parse(path)
	if err != nil {
		if errors.Is(err, model.ErrMalformedInput) {
			w.log.WithField("path", path).Debug("skipping non-subband file")
			w.seen[path] = struct{}{}
			return
		}
		w.log.WithError(err).WithField("path", path).Warn("cannot parse filename")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		w.log.WithError(err).WithField("path", path).Warn("cannot stat arrival")
		return
	}
	if info.Size() == 0 {
		// writer may still be flushing; the next scan retries
		return
	}

	w.seen[path] = struct{}{}
	w.sink.Offer(model.Member{
		GroupKey:  key,
		Index:     idx,
		Path:      path,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		ArrivedAt: time.Now().UTC(),
	})
}
