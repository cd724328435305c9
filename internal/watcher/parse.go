package watcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"go-subband-ingest/internal/model"
)

const keyLayout = "2006-01-02T15:04:05"

// namePattern matches subband filenames of the form
// 2025-01-01T00:12:00_sb05.hdf5 (extension configurable).
func namePattern(ext string) *regexp.Regexp {
	return regexp.MustCompile(
		`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})_sb(\d{2})\.` + regexp.QuoteMeta(ext) + `$`)
}

// Parser extracts (groupKey, memberIndex) from subband file paths,
// bucketing the filename timestamp to a fixed window so that all subbands
// of one observation epoch share a group key.
type Parser struct {
	pattern  *regexp.Regexp
	bucket   time.Duration
	expected int
}

func NewParser(ext string, bucket time.Duration, expected int) *Parser {
	return &Parser{pattern: namePattern(ext), bucket: bucket, expected: expected}
}

// Parse returns the group key and subband index for a path, or
// model.ErrMalformedInput when the name does not follow the convention.
func (p *Parser) Parse(path string) (string, int, error) {
	m := p.pattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", 0, fmt.Errorf("%w: %s", model.ErrMalformedInput, filepath.Base(path))
	}

	ts, err := time.Parse(keyLayout, m[1])
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad timestamp in %s: %v", model.ErrMalformedInput, filepath.Base(path), err)
	}

	var idx int
	fmt.Sscanf(m[2], "%d", &idx)
	if idx >= p.expected {
		return "", 0, fmt.Errorf("%w: subband index %d out of range [0,%d)",
			model.ErrMalformedInput, idx, p.expected)
	}

	return p.BucketKey(ts), idx, nil
}

// BucketKey rounds a timestamp down to the bucket window and formats it as
// a group key.
func (p *Parser) BucketKey(ts time.Time) string {
	return ts.Truncate(p.bucket).Format(keyLayout)
}
