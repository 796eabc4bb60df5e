// Package archive exports completed analyses as gzipped JSON documents to
// S3 or a local directory.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"prepos/internal/agents"
	"prepos/internal/config"
	"prepos/internal/logging"
)

const contentType = "application/gzip"

// Archiver writes one object per completed analysis
type Archiver struct {
	storage Storage
	prefix  string
	now     func() time.Time
	logger  *zap.Logger
}

// NewArchiver creates an archiver writing under prefix
func NewArchiver(storage Storage, prefix string, l *zap.Logger) *Archiver {
	return &Archiver{
		storage: storage,
		prefix:  prefix,
		now:     time.Now,
		logger:  logging.Named(l, "archive"),
	}
}

// FromConfig picks S3 when a bucket is set, else the local path. It
// returns nil when archiving is disabled.
func FromConfig(ctx context.Context, cfg config.ArchiveConfig, l *zap.Logger) (*Archiver, error) {
	switch {
	case cfg.Bucket != "":
		s, err := NewS3Storage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewArchiver(s, cfg.Prefix, l), nil
	case cfg.LocalPath != "":
		s, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return NewArchiver(s, cfg.Prefix, l), nil
	default:
		return nil, nil
	}
}

// Key returns the object key for an attempt archived at t
func (a *Archiver) Key(attemptID string, t time.Time) string {
	return path.Join(a.prefix, attemptID, t.UTC().Format("20060102T150405Z")+".json.gz")
}

// Archive uploads the analysis of attemptID
func (a *Archiver) Archive(ctx context.Context, attemptID string, analysis *agents.Analysis) error {
	doc := struct {
		AttemptID  string           `json:"attemptId"`
		ArchivedAt time.Time        `json:"archivedAt"`
		Analysis   *agents.Analysis `json:"analysis"`
	}{attemptID, a.now().UTC(), analysis}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress analysis: %w", err)
	}

	key := a.Key(attemptID, doc.ArchivedAt)
	size := buf.Len()
	if err := a.storage.Upload(ctx, key, &buf, contentType); err != nil {
		return err
	}
	a.logger.Info("analysis archived", zap.String("attempt_id", attemptID), zap.String("key", key), zap.Int("bytes", size))
	return nil
}
