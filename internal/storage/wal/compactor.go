package wal

import (
	"errors"
	"fmt"
	"os"
)

// DefaultRetainSegments is the minimum number of trailing segments a
// Compactor keeps regardless of checkpoint progress.
const DefaultRetainSegments = 2

// Compactor deletes WAL segments once they fall entirely below a
// checkpointed offset (§4.7: "older segments may be deleted after the
// control file is durable"). This is snapshot-relative truncation only;
// general WAL compaction is an explicit non-goal.
type Compactor struct {
	dir            string
	maxFileSize    int64
	retainSegments int
}

func NewCompactor(dir string, maxFileSize int64, retainSegments int) *Compactor {
	if retainSegments <= 0 {
		retainSegments = DefaultRetainSegments
	}
	return &Compactor{dir: dir, maxFileSize: maxFileSize, retainSegments: retainSegments}
}

// Compact removes every finalized segment whose entire byte range is
// below checkpointOffset, always keeping at least retainSegments of the
// newest segments untouched.
func (c *Compactor) Compact(checkpointOffset uint64) error {
	segs, err := listSegments(c.dir)
	if err != nil {
		return err
	}
	if len(segs) <= c.retainSegments {
		return nil
	}

	checkpointSeq := checkpointOffset / uint64(c.maxFileSize)

	candidates := segs[:len(segs)-c.retainSegments]
	var errs []error
	for _, seg := range candidates {
		if seg.seq >= checkpointSeq {
			continue
		}
		if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", seg.path, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TotalSize sums the on-disk size of every segment file.
func (c *Compactor) TotalSize() (int64, error) {
	segs, err := listSegments(c.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, seg := range segs {
		info, err := os.Stat(seg.path)
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// FileCount returns the number of segment files currently on disk.
func (c *Compactor) FileCount() (int, error) {
	segs, err := listSegments(c.dir)
	if err != nil {
		return 0, err
	}
	return len(segs), nil
}
