package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-subband-ingest/internal/model"
)

type captureSink struct {
	members []model.Member
}

func (c *captureSink) Offer(m model.Member) { c.members = append(c.members, m) }

func newTestWatcher(t *testing.T, dir string) (*Watcher, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	parser := NewParser("hdf5", 5*time.Minute, 16)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(dir, parser, sink, time.Second, log), sink
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanPicksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2025-01-01T00:12:00_sb00.hdf5", "data")
	writeFile(t, dir, "2025-01-01T00:12:00_sb01.hdf5", "data")
	writeFile(t, dir, "README.md", "not a subband")

	w, sink := newTestWatcher(t, dir)
	w.scan()

	require.Len(t, sink.members, 2)
	assert.Equal(t, 0, sink.members[0].Index)
	assert.Equal(t, 1, sink.members[1].Index)
	assert.Equal(t, "2025-01-01T00:10:00", sink.members[0].GroupKey)
}

func TestIngestEmitsOncePerPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "2025-01-01T00:12:00_sb03.hdf5", "data")

	w, sink := newTestWatcher(t, dir)
	w.ingest(path)
	w.ingest(path)
	w.scan()

	assert.Len(t, sink.members, 1, "duplicate notifications collapse to one arrival")
}

func TestIngestDefersEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "2025-01-01T00:12:00_sb03.hdf5", "")

	w, sink := newTestWatcher(t, dir)
	w.ingest(path)
	assert.Empty(t, sink.members, "zero-byte file is still being written")

	// writer finished; the next scan delivers it
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	w.scan()
	require.Len(t, sink.members, 1)
	assert.Equal(t, int64(4), sink.members[0].SizeBytes)
}

func TestScanPrunesVanishedPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "2025-01-01T00:12:00_sb03.hdf5", "data")

	w, sink := newTestWatcher(t, dir)
	w.scan()
	require.Len(t, sink.members, 1)
	require.Contains(t, w.seen, path)

	// consumed and removed: the set lets go of the path
	require.NoError(t, os.Remove(path))
	w.scan()
	assert.NotContains(t, w.seen, path)

	// the same name reappearing is a fresh arrival
	writeFile(t, dir, "2025-01-01T00:12:00_sb03.hdf5", "resent")
	w.scan()
	assert.Len(t, sink.members, 2)
}

func TestIngestSkipsMalformedQuietly(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "random.hdf5", "data")

	w, sink := newTestWatcher(t, dir)
	w.ingest(path)
	w.scan()

	assert.Empty(t, sink.members)
}
