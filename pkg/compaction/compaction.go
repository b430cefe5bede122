// pkg/compaction/compaction.go
//
// Compactor reclaims WAL segments that are fully covered by the latest
// snapshot: every record's version at or below the snapshot watermark,
// not the active segment, and non-empty. It is idempotent —
// a segment already removed is simply absent from the next listing, so
// re-running converges to the same end state — the same "is this old
// enough to discard" shape used for per-key version GC, lifted to
// per-segment GC.
package compaction

import (
	"os"

	"stratacore/internal/log"
	"stratacore/pkg/manifest"
	"stratacore/pkg/wal"
)

// Result reports what a compaction pass did.
type Result struct {
	Considered []uint64
	Removed    []uint64
}

// Run lists every segment under walDir, consults manifestPath for the
// watermark and active segment, and removes every covered candidate.
// With no snapshot on the manifest, compaction is a no-op (there is
// nothing yet to measure coverage against).
func Run(walDir, manifestPath string) (Result, error) {
	logger := log.WithComponent("compaction")

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return Result{}, err
	}
	if !m.HasSnapshot {
		logger.Debug().Msg("compaction skipped: no snapshot on the manifest yet")
		return Result{}, nil
	}

	segNos, err := wal.ListSegments(walDir)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, segNo := range segNos {
		result.Considered = append(result.Considered, segNo)
		if segNo == m.ActiveSegmentNo {
			continue
		}

		path := wal.SegmentPath(walDir, segNo)
		records, err := wal.ReplaySegment(path)
		if err != nil {
			return result, err
		}
		if len(records) == 0 {
			continue // rule (c): empty segments are not removal candidates
		}
		if !coveredByWatermark(records, m.SnapshotWatermark) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return result, err
		}
		result.Removed = append(result.Removed, segNo)
		logger.Info().Uint64("segment", segNo).Msg("wal segment compacted")
	}

	return result, nil
}

// coveredByWatermark reports whether every record's version is at or
// below watermark, using the monotonic commit version as the
// measure of age rather than transaction id.
func coveredByWatermark(records []wal.Record, watermark uint64) bool {
	for _, r := range records {
		switch r.Type {
		case wal.RecWrite, wal.RecDelete, wal.RecVectorUpsert:
			if r.Version > watermark {
				return false
			}
		case wal.RecCheckpoint:
			if r.Version > watermark {
				return false
			}
		}
	}
	return true
}
