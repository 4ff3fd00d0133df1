package launch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GeneratedFileSweeper deletes generated config files older than MaxAge from
// Dir. Staged artifacts are never touched. A zero MaxAge disables sweeping.
type GeneratedFileSweeper struct {
	Dir    string
	MaxAge time.Duration
	Now    func() time.Time // Optional, defaults to time.Now
}

func (s *GeneratedFileSweeper) Sweep() (int, error) {
	if s.MaxAge <= 0 {
		return 0, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().Add(-s.MaxAge)

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", s.Dir, err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isGeneratedName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func isGeneratedName(name string) bool {
	if !strings.HasPrefix(name, GeneratedFilePrefix) {
		return false
	}
	for _, suffix := range []string{"-resources.xml", "-preboot.txt", "-hazelcast.xml"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
