package segment

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/shardwave/shardwave/pkg/apierrors"
)

// manifest is the config.json a segment directory carries (spec.md §6).
// It records only the segment's id, max_version and point count. Payloads
// live in the kvstore the segment was constructed with, which persists
// independently (bbolt's own file is already crash-safe via its own
// commit); vectors and HNSW graphs are held in memory and Flush does not
// write them.
type manifest struct {
	ID         uint64 `json:"id"`
	MaxVersion uint64 `json:"max_version"`
	PointCount int    `json:"point_count"`
}

// Flush writes the segment's manifest to dir/config.json using a
// write-then-rename so a crash mid-write leaves either the previous
// manifest or the fully written new one (spec.md §6), matching the
// teacher's convention of never leaving a half-written state file on
// disk (warren's BoltStore itself relies on bbolt's own atomic commit;
// this manifest extends the same guarantee to the segment's own
// metadata file).
func (s *Segment) Flush(dir string) error {
	s.mu.RLock()
	m := manifest{ID: s.ID, MaxVersion: s.MaxVersion(), PointCount: s.tracker.LiveCount()}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apierrors.Wrap(apierrors.ErrService, "marshal segment manifest", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierrors.Wrap(apierrors.ErrService, "create segment directory", err)
	}

	final := filepath.Join(dir, "config.json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierrors.Wrap(apierrors.ErrService, "write segment manifest", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return apierrors.Wrap(apierrors.ErrService, "rename segment manifest", err)
	}
	return nil
}

// LoadManifest reads a previously flushed config.json, returning the
// recorded max_version and point_count for recovery bookkeeping.
func LoadManifest(dir string) (maxVersion uint64, pointCount int, err error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return 0, 0, apierrors.Wrap(apierrors.ErrService, "read segment manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, 0, apierrors.Wrap(apierrors.ErrValidation, "parse segment manifest", err)
	}
	return m.MaxVersion, m.PointCount, nil
}
