// Package uploads keeps request-scoped copies of uploaded documents on disk.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"docinsight/internal/logger"
	"docinsight/internal/models"
)

const (
	DefaultTempFileTTL             = time.Hour
	DefaultTempFileCleanupInterval = 10 * time.Minute
)

// Store writes uploads under one directory and sweeps files left behind.
type Store struct {
	dir string
	ttl time.Duration
	log *logger.Logger
	now func() time.Time
}

// NewStore creates dir if needed.
func NewStore(dir string, ttl time.Duration, log *logger.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("upload dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{dir: dir, ttl: ttl, log: log.WithComponent("uploads"), now: time.Now}, nil
}

// Dir returns the directory uploads are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies src to a new uuid-named file carrying the format's extension.
func (s *Store) Save(src io.Reader, format models.Format) (string, error) {
	path := filepath.Join(s.dir, uuid.NewString()+format.Ext())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

// Remove deletes a saved upload. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StartTempFileCleaner sweeps stale uploads every interval until ctx ends.
func (s *Store) StartTempFileCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := s.Sweep(); err != nil {
				s.log.Error().Err(err).Msg("cleanup temp files")
			} else if removed > 0 {
				s.log.Info().Int("removed", removed).Msg("removed stale uploads")
			}
		}
	}
}

// Sweep removes regular files older than the store's TTL and reports how many went.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("remove temp file failed")
			continue
		}
		removed++
	}
	return removed, nil
}
