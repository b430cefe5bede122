// pkg/wal/wal.go
//
// WAL manages the active segment and durability policy: Strict syncs
// every CommitTxn, Batched syncs every N commits or T milliseconds
// (whichever comes first), None never syncs. Segment rolling and
// listing are exposed for the manifest/compaction layers, which decide
// *when* to roll or reclaim; WAL itself only knows how.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stratacore/internal/log"
)

// DurabilityMode selects the fsync policy applied on commit.
type DurabilityMode int

const (
	Strict DurabilityMode = iota
	Batched
	None
)

func (m DurabilityMode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Batched:
		return "batched"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// DurabilityPolicy configures Batched(N, Tms); N and Interval are
// ignored for Strict and None.
type DurabilityPolicy struct {
	Mode     DurabilityMode
	N        int
	Interval time.Duration
}

func StrictPolicy() DurabilityPolicy { return DurabilityPolicy{Mode: Strict} }
func NonePolicy() DurabilityPolicy   { return DurabilityPolicy{Mode: None} }
func BatchedPolicy(n int, interval time.Duration) DurabilityPolicy {
	return DurabilityPolicy{Mode: Batched, N: n, Interval: interval}
}

const segmentFilePattern = "wal-%020d.seg"

// SegmentPath returns the conventional path for segment number n under dir.
func SegmentPath(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf(segmentFilePattern, n))
}

// ListSegments returns every segment number present under dir, sorted
// ascending. Non-matching files are ignored.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var nums []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".seg") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg")
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// RollThreshold is the default segment size, in bytes, at which
// ShouldRoll reports the active segment due for rolling. WAL does not
// roll on its own: the active segment keeps growing past the threshold
// until a caller invokes Roll.
const RollThreshold = 64 * 1024 * 1024

// WAL owns the active segment and the durability policy. Replaying
// prior segments on startup is the recovery coordinator's job, not
// WAL's: WAL only ever appends to or rolls the active segment.
type WAL struct {
	mu         sync.Mutex
	dir        string
	dbID       uuid.UUID
	policy     DurabilityPolicy
	active     *Segment
	logger     zerolog.Logger
	pendingOps int
	lastSync   time.Time
}

// Open creates dir if needed and opens (or creates) the active segment
// at activeSegNo.
func Open(dir string, dbID uuid.UUID, activeSegNo uint64, policy DurabilityPolicy) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := SegmentPath(dir, activeSegNo)

	var seg *Segment
	if _, err := os.Stat(path); err == nil {
		seg, _, err = OpenSegment(path)
		if err != nil {
			return nil, err
		}
	} else {
		seg, err = CreateSegment(path, SegmentHeader{DatabaseID: dbID, SegmentNo: activeSegNo, CreatedAt: time.Now()})
		if err != nil {
			return nil, err
		}
	}

	return &WAL{
		dir:      dir,
		dbID:     dbID,
		policy:   policy,
		active:   seg,
		logger:   log.WithComponent("wal"),
		lastSync: time.Now(),
	}, nil
}

// ActiveSegmentNo returns the segment number currently being written.
func (w *WAL) ActiveSegmentNo() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.SegmentNo()
}

// Append writes rec to the active segment. isCommit controls whether
// the durability policy's fsync rule applies to this write.
func (w *WAL) Append(rec Record, isCommit bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.active.Append(rec); err != nil {
		w.logger.Error().Err(err).Str("type", rec.Type.String()).Msg("wal append failed")
		return err
	}

	if !isCommit {
		return nil
	}
	return w.applyDurability()
}

// applyDurability runs the configured fsync policy after a commit
// record has been appended. Caller holds w.mu.
func (w *WAL) applyDurability() error {
	switch w.policy.Mode {
	case Strict:
		return w.syncLocked()
	case None:
		return nil
	case Batched:
		w.pendingOps++
		if w.pendingOps >= w.policy.N || time.Since(w.lastSync) >= w.policy.Interval {
			return w.syncLocked()
		}
		return nil
	default:
		return w.syncLocked()
	}
}

func (w *WAL) syncLocked() error {
	if err := w.active.Sync(); err != nil {
		return err
	}
	w.pendingOps = 0
	w.lastSync = time.Now()
	return nil
}

// Flush forces an fsync regardless of the batching policy, e.g. before
// a checkpoint or close.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// ShouldRoll reports whether the active segment has crossed the roll
// threshold and a new one should be started.
func (w *WAL) ShouldRoll(threshold int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.Size() >= threshold
}

// Roll closes the active segment and starts a new one numbered
// newSegNo, returning the just-closed segment's number.
func (w *WAL) Roll(newSegNo uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.syncLocked(); err != nil {
		return 0, err
	}
	closedNo := w.active.SegmentNo()
	if err := w.active.Close(); err != nil {
		return 0, err
	}

	path := SegmentPath(w.dir, newSegNo)
	seg, err := CreateSegment(path, SegmentHeader{DatabaseID: w.dbID, SegmentNo: newSegNo, CreatedAt: time.Now()})
	if err != nil {
		return 0, err
	}
	w.active = seg
	w.logger.Info().Uint64("closed_segment", closedNo).Uint64("new_segment", newSegNo).Msg("wal segment rolled")
	return closedNo, nil
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.syncLocked(); err != nil {
		w.active.Close()
		return err
	}
	return w.active.Close()
}

// ReplaySegment opens a segment for replay (used by recovery, not by
// live writers) and returns its decoded records without holding it
// open for further appends. Like OpenSegment, it truncates a partial
// tail record off the file.
func ReplaySegment(path string) ([]Record, error) {
	seg, records, err := OpenSegment(path)
	if err != nil {
		return nil, err
	}
	seg.Close()
	return records, nil
}
