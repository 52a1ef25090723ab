package lsm

import (
	"bytes"
	"container/heap"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mozdb/kvengine/internal/kvstore"
)

// CompactionConfig tunes when and how the Level Manager picks compaction
// jobs (spec §4.6).
type CompactionConfig struct {
	L0CompactionTrigger int     // K0: L0 run count that triggers a compaction
	LevelSizeRatio      int64   // M: size growth factor between levels
	BaseLevelSize       int64   // B0: L1's size budget in bytes
	TargetOutputSize    int64   // S_out: bound on a single output run's size
	BloomFilterFPR      float64 // false-positive rate for output runs' filters
}

// DefaultCompactionConfig returns the engine's default leveled-compaction
// tuning.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		L0CompactionTrigger: 4,
		LevelSizeRatio:      10,
		BaseLevelSize:       4 * 1024 * 1024,
		TargetOutputSize:    16 * 1024 * 1024,
		BloomFilterFPR:      0.01,
	}
}

// levelBudget returns the size budget B_L = B0 * M^(L-1) for level L >= 1.
func (c CompactionConfig) levelBudget(level int) int64 {
	budget := c.BaseLevelSize
	for i := 1; i < level; i++ {
		budget *= c.LevelSizeRatio
	}
	return budget
}

// CompactionJob describes one leveled-compaction step: merge inputs from
// SourceLevel (plus any overlapping runs already resident at OutputLevel)
// into new runs published at OutputLevel.
type CompactionJob struct {
	SourceLevel int
	OutputLevel int
	Inputs      []*SSTable
}

// Compactor picks and executes leveled-compaction jobs (spec §4.6). It
// carries no durable state of its own; the Store owns the levels map and
// manifest and applies the job's result after Run returns.
type Compactor struct {
	dataDir string
	config  CompactionConfig
	nextSeq *uint64
	bufPool *kvstore.MemoryPools
}

// NewCompactor creates a compactor writing new runs under dataDir. nextSeq
// is a counter shared with (and owned by) the Store, used to assign output
// file sequence numbers. bufPool, if non-nil, is used to reuse per-entry
// serialization buffers across output writes instead of allocating one per
// entry.
func NewCompactor(dataDir string, config CompactionConfig, nextSeq *uint64, bufPool *kvstore.MemoryPools) *Compactor {
	return &Compactor{dataDir: dataDir, config: config, nextSeq: nextSeq, bufPool: bufPool}
}

// PickJob inspects the current level set and returns the highest-priority
// compaction job, if any. L0 is checked first against its run-count
// trigger K0; L1+ are checked against their size budget B_L (spec §4.6
// "Trigger").
func (c *Compactor) PickJob(levels map[int][]*SSTable) (CompactionJob, bool) {
	if len(levels[0]) >= c.config.L0CompactionTrigger {
		return CompactionJob{
			SourceLevel: 0,
			OutputLevel: 1,
			Inputs:      append([]*SSTable(nil), levels[0]...),
		}, true
	}

	maxLevel := 0
	for lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	for lvl := 1; lvl <= maxLevel; lvl++ {
		var total int64
		for _, run := range levels[lvl] {
			total += run.Metadata().FileSize
		}
		if total > c.config.levelBudget(lvl) && len(levels[lvl]) > 0 {
			oldest := levels[lvl][0]
			overlap := overlappingRuns(oldest, levels[lvl+1])
			return CompactionJob{
				SourceLevel: lvl,
				OutputLevel: lvl + 1,
				Inputs:      append([]*SSTable{oldest}, overlap...),
			}, true
		}
	}

	return CompactionJob{}, false
}

// overlappingRuns returns the runs in candidates whose key range intersects
// run's [MinKey, MaxKey].
func overlappingRuns(run *SSTable, candidates []*SSTable) []*SSTable {
	meta := run.Metadata()
	var out []*SSTable
	for _, cand := range candidates {
		cm := cand.Metadata()
		if keyRangesOverlap(meta.MinKey, meta.MaxKey, cm.MinKey, cm.MaxKey) {
			out = append(out, cand)
		}
	}
	return out
}

func keyRangesOverlap(min1, max1, min2, max2 []byte) bool {
	return bytes.Compare(max1, min2) >= 0 && bytes.Compare(max2, min1) >= 0
}

// mergeCursor pairs an iterator with the entry it last produced, for use in
// the k-way merge heap.
type mergeCursor struct {
	it      *SSTableIterator
	current SSTableEntry
}

// mergeHeap orders cursors by key ascending, then by sequence descending so
// the newest version of a duplicated key surfaces first.
type mergeHeap []*mergeCursor

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].current.Key, h[j].current.Key)
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].current.Sequence > h[j].current.Sequence
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeCursor)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeIterator performs a k-way merge across a set of sorted-run
// iterators in key order (spec §4.6 "Merge algorithm").
type mergeIterator struct {
	h       mergeHeap
	current SSTableEntry
	err     error
}

func newMergeIterator(iterators []*SSTableIterator) *mergeIterator {
	m := &mergeIterator{}
	for _, it := range iterators {
		if it.Next() {
			heap.Push(&m.h, &mergeCursor{it: it, current: it.Current()})
		} else if it.Err() != nil {
			m.err = it.Err()
		}
	}
	heap.Init(&m.h)
	return m
}

// Next advances to the next entry in merged key order, including duplicate
// keys from different inputs (the caller is responsible for collapsing
// those by recency).
func (m *mergeIterator) Next() bool {
	if m.err != nil || m.h.Len() == 0 {
		return false
	}
	top := heap.Pop(&m.h).(*mergeCursor)
	m.current = top.current

	if top.it.Next() {
		top.current = top.it.Current()
		heap.Push(&m.h, top)
	} else if top.it.Err() != nil {
		m.err = top.it.Err()
	}
	return true
}

func (m *mergeIterator) Current() SSTableEntry { return m.current }
func (m *mergeIterator) Err() error             { return m.err }

// Run executes job: a k-way merge of job.Inputs in key order, keeping only
// the highest-sequence version of each key, dropping tombstones when
// bottomLevel is true (spec §4.6 "Merge algorithm"). It returns the newly
// written, already-synced output runs and the input runs they supersede.
func (c *Compactor) Run(job CompactionJob, bottomLevel bool) ([]*SSTable, []*SSTable, error) {
	iterators := make([]*SSTableIterator, len(job.Inputs))
	var g errgroup.Group
	for i, run := range job.Inputs {
		i, run := i, run
		g.Go(func() error {
			iterators[i] = run.Iter()
			return nil
		})
	}
	_ = g.Wait() // Iter() never errors; concurrency matters only at larger fan-in.

	merged := newMergeIterator(iterators)

	var outputs []*SSTable
	var writer *SSTableWriter
	var writerID string
	var writerSize int64

	openWriter := func() error {
		id := fmt.Sprintf("L%d-%d", job.OutputLevel, atomic.AddUint64(c.nextSeq, 1))
		path := filepath.Join(c.dataDir, fmt.Sprintf("%s.sst", id))
		w, err := NewSSTableWriterWithPool(path, estimateEntryCount(job.Inputs), c.config.BloomFilterFPR, c.bufPool)
		if err != nil {
			return fmt.Errorf("open compaction output writer: %w", err)
		}
		writer, writerID, writerSize = w, id, 0
		return nil
	}

	closeWriter := func() error {
		if writer == nil {
			return nil
		}
		path := writer.file.Name()
		if _, err := writer.Finish(job.OutputLevel); err != nil {
			return fmt.Errorf("finish compaction output: %w", err)
		}
		run, err := OpenSSTable(writerID, path, job.OutputLevel)
		if err != nil {
			return fmt.Errorf("reopen compaction output: %w", err)
		}
		outputs = append(outputs, run)
		writer, writerSize = nil, 0
		return nil
	}

	var lastKey []byte
	haveLast := false

	for merged.Next() {
		entry := merged.Current()
		if haveLast && bytes.Equal(entry.Key, lastKey) {
			continue // a stale version of a key already emitted
		}
		lastKey = append(lastKey[:0], entry.Key...)
		haveLast = true

		if bottomLevel && entry.Tombstone {
			continue // space reclaimed: no surviving reader can see this key
		}

		if writer == nil {
			if err := openWriter(); err != nil {
				return nil, nil, err
			}
		}
		if err := writer.Add(entry); err != nil {
			return nil, nil, fmt.Errorf("write compaction output entry: %w", err)
		}
		writerSize += int64(len(entry.Key) + len(entry.Value) + 32)

		if writerSize >= c.config.TargetOutputSize {
			if err := closeWriter(); err != nil {
				return nil, nil, err
			}
		}
	}
	if merged.Err() != nil {
		return nil, nil, fmt.Errorf("merge compaction inputs: %w", merged.Err())
	}
	if err := closeWriter(); err != nil {
		return nil, nil, err
	}

	return outputs, job.Inputs, nil
}

func estimateEntryCount(inputs []*SSTable) uint64 {
	var total uint64
	for _, r := range inputs {
		total += r.Metadata().NumEntries
	}
	if total == 0 {
		total = 1000
	}
	return total
}
