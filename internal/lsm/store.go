package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mozdb/kvengine/internal/kvstore"
	"github.com/mozdb/kvengine/internal/pool"
)

// StoreConfig configures a Store instance.
type StoreConfig struct {
	DataDir          string
	MemTableConfig   kvstore.MemTableConfig
	WALConfig        kvstore.WALConfig
	CompactionConfig CompactionConfig
	Workers          int // compaction pool worker count
	QueueSize        int // compaction job queue depth
}

// DefaultStoreConfig returns sensible defaults rooted at dataDir.
func DefaultStoreConfig(dataDir string) StoreConfig {
	return StoreConfig{
		DataDir:          dataDir,
		MemTableConfig:   kvstore.DefaultMemTableConfig(),
		WALConfig:        kvstore.WALConfig{DataDir: dataDir, FlushTimeout: kvstore.DefaultWALConfig().FlushTimeout, MaxFileSize: kvstore.DefaultWALConfig().MaxFileSize},
		CompactionConfig: DefaultCompactionConfig(),
		Workers:          2,
		QueueSize:        32,
	}
}

// Store orchestrates put/get/delete/scan across the active MemTable and
// all on-disk sorted runs, and schedules flushes and compactions onto a
// background job queue (spec §4.7, §9).
type Store struct {
	mu sync.RWMutex

	dataDir        string
	memTableConfig kvstore.MemTableConfig

	wal      *kvstore.WAL
	memTable *kvstore.MemTable
	// flushingMemTable is the just-retired MemTable while RunFlush is
	// writing it out as a new L0 run: readable by Get/Scan until the run
	// is published, so a write that already returned stays visible to
	// every read ordered after it (spec §4.5, §4.7, §5, §8
	// "Read-your-writes").
	flushingMemTable *kvstore.MemTable

	levels   map[int][]*SSTable
	manifest *Manifest

	compactor   *Compactor
	jobs        *pool.CompactionPool
	memOpt      *kvstore.MemoryOptimizer
	bufPool     *kvstore.MemoryPools
	nextSeq     uint64
	nextFileSeq uint64

	closed bool
}

// Open creates or reopens a Store rooted at config.DataDir: loads the
// manifest, opens every sorted run it references, replays the WAL into a
// fresh MemTable, and starts the background compaction pool.
func Open(config StoreConfig) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("lsm: store requires a data directory")
	}
	if err := os.MkdirAll(config.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	walConfig := config.WALConfig
	walConfig.DataDir = config.DataDir
	wal, err := kvstore.NewWAL(walConfig)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	memTable := kvstore.NewMemTable(config.MemTableConfig)
	recovery := kvstore.NewRecoveryManager(wal, memTable)
	maxSeq, err := recovery.RecoverFromWAL()
	if err != nil {
		wal.Close()
		return nil, fmt.Errorf("recover WAL: %w", err)
	}

	manifest, err := LoadManifest(config.DataDir)
	if err != nil {
		wal.Close()
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	levels := make(map[int][]*SSTable)
	var maxFileSeq uint64
	for _, run := range manifest.Runs {
		path := filepath.Join(config.DataDir, run.FileName)
		sst, err := OpenSSTable(run.ID, path, run.Level)
		if err != nil {
			wal.Close()
			return nil, fmt.Errorf("open sorted run %s: %w", run.FileName, err)
		}
		levels[run.Level] = append(levels[run.Level], sst)
		if seq := fileSeqFromID(run.ID); seq > maxFileSeq {
			maxFileSeq = seq
		}
		// Resume sequence numbering above every entry already on disk, not
		// only above the WAL's, so writes after a reopen still shadow them.
		it := sst.Iter()
		for it.Next() {
			if seq := it.Current().Sequence; seq > maxSeq {
				maxSeq = seq
			}
		}
		if err := it.Err(); err != nil {
			wal.Close()
			return nil, fmt.Errorf("read sorted run %s: %w", run.FileName, err)
		}
	}
	for level := range levels {
		if level == 0 {
			continue // L0 keeps the manifest's flush order, which Get probes newest-first
		}
		sortRunsByMinKey(levels[level])
	}

	memOpt := kvstore.NewMemoryOptimizer(kvstore.DefaultMemoryPoolConfig())

	s := &Store{
		dataDir:        config.DataDir,
		memTableConfig: config.MemTableConfig,
		wal:            wal,
		memTable:       memTable,
		levels:         levels,
		manifest:       manifest,
		memOpt:         memOpt,
		bufPool:        memOpt.GetPools(),
		nextSeq:        maxSeq,
		nextFileSeq:    maxFileSeq,
	}
	s.compactor = NewCompactor(config.DataDir, config.CompactionConfig, &s.nextFileSeq, s.bufPool)
	s.jobs = pool.NewCompactionPool(s, config.Workers, config.QueueSize)
	if err := s.jobs.Start(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("start compaction pool: %w", err)
	}

	return s, nil
}

// fileSeqFromID extracts the trailing numeric sequence from a sorted run
// id of the form "L<level>-<seq>".
func fileSeqFromID(id string) uint64 {
	idx := bytes.LastIndexByte([]byte(id), '-')
	if idx < 0 {
		return 0
	}
	var seq uint64
	_, _ = fmt.Sscanf(id[idx+1:], "%d", &seq)
	return seq
}

func sortRunsByMinKey(runs []*SSTable) {
	sort.Slice(runs, func(i, j int) bool {
		return bytes.Compare(runs[i].Metadata().MinKey, runs[j].Metadata().MinKey) < 0
	})
}

// Put durably appends a write-ahead log record and applies it to the
// active MemTable, under the write lock so sequence assignment, the WAL
// append, and the MemTable insert are atomic relative to other writers
// (spec §4.7).
func (s *Store) Put(key, value []byte) error {
	return s.apply(key, value, kvstore.OpTypePut)
}

// Delete appends a tombstone for key.
func (s *Store) Delete(key []byte) error {
	return s.apply(key, nil, kvstore.OpTypeDelete)
}

func (s *Store) apply(key, value []byte, op kvstore.OpType) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	seq := atomic.AddUint64(&s.nextSeq, 1)
	if err := s.wal.Append(seq, op, key, value); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("append WAL: %w", err)
	}

	if op == kvstore.OpTypeDelete {
		s.memTable.Delete(key, seq)
	} else {
		s.memTable.Put(key, value, seq)
	}

	shouldFlush := s.memTable.ShouldFlush()
	s.mu.Unlock()

	if shouldFlush {
		s.submitJob(pool.FlushJob, 0)
	}
	return nil
}

// submitJob posts a background job, blocking and retrying with backoff
// while the queue is full instead of silently dropping the trigger: a
// flush (or the compaction it chains into) that falls behind must make the
// write path wait, never lose the signal outright (spec §7 "Capacity
// back-pressure": "when flushes cannot keep up, put blocks"). It gives up
// only once the pool itself has stopped accepting work, which happens on
// Close.
func (s *Store) submitJob(kind pool.JobKind, level int) {
	backoff := time.Millisecond
	const maxBackoff = 50 * time.Millisecond
	for {
		if err := s.jobs.Submit(kind, level); err == nil {
			return
		}
		if !s.jobs.IsRunning() {
			return
		}
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// Get returns the most recent value for key: active MemTable, flushing
// MemTable (if any), then each level from L0 downward, bloom-checked and
// sparse-index-guided (spec §4.7).
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	if entry, ok := s.memTable.Get(key); ok {
		if entry.Deleted {
			return nil, ErrNotFound
		}
		return entry.Value, nil
	}
	if s.flushingMemTable != nil {
		if entry, ok := s.flushingMemTable.Get(key); ok {
			if entry.Deleted {
				return nil, ErrNotFound
			}
			return entry.Value, nil
		}
	}

	maxLevel := 0
	for lvl := range s.levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	for lvl := 0; lvl <= maxLevel; lvl++ {
		runs := s.levels[lvl]
		if lvl == 0 {
			for i := len(runs) - 1; i >= 0; i-- {
				entry, found, err := runs[i].Get(key)
				if err != nil {
					return nil, err
				}
				if found {
					if entry.Tombstone {
						return nil, ErrNotFound
					}
					return entry.Value, nil
				}
			}
			continue
		}
		for _, run := range runs {
			if !run.ContainsKey(key) {
				continue
			}
			entry, found, err := run.Get(key)
			if err != nil {
				return nil, err
			}
			if found {
				if entry.Tombstone {
					return nil, ErrNotFound
				}
				return entry.Value, nil
			}
			break // L1+: at most one run can contain the key
		}
	}

	return nil, ErrNotFound
}

// Scan returns every live key/value pair with key in [lo, hi] (nil bounds
// are open), merged by recency across the active MemTable, the flushing
// MemTable (if any), and all sorted runs. The run-set snapshot is taken
// under a single RLock so the scan observes a consistent view even if
// compaction runs concurrently afterward.
func (s *Store) Scan(lo, hi []byte) ([]SSTableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	best := make(map[string]SSTableEntry)
	consider := func(e SSTableEntry) {
		k := string(e.Key)
		if existing, ok := best[k]; !ok || e.Sequence > existing.Sequence {
			best[k] = e
		}
	}

	for _, me := range s.memTable.Range(lo, hi) {
		consider(SSTableEntry{Key: me.Key, Value: me.Value, Tombstone: me.Deleted, Sequence: me.Sequence})
	}
	if s.flushingMemTable != nil {
		for _, me := range s.flushingMemTable.Range(lo, hi) {
			consider(SSTableEntry{Key: me.Key, Value: me.Value, Tombstone: me.Deleted, Sequence: me.Sequence})
		}
	}

	for _, runs := range s.levels {
		for _, run := range runs {
			if !rangesOverlap(lo, hi, run.Metadata().MinKey, run.Metadata().MaxKey) {
				continue
			}
			it := run.Scan(lo, hi)
			for it.Next() {
				consider(it.Current())
			}
			if it.Err() != nil {
				return nil, it.Err()
			}
		}
	}

	out := make([]SSTableEntry, 0, len(best))
	for _, e := range best {
		if !e.Tombstone {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

func rangesOverlap(lo, hi, minKey, maxKey []byte) bool {
	if hi != nil && bytes.Compare(minKey, hi) > 0 {
		return false
	}
	if lo != nil && bytes.Compare(maxKey, lo) < 0 {
		return false
	}
	return true
}

// RunFlush implements pool.CompactionTarget. It rotates the WAL, swaps in
// a fresh MemTable, keeping the retired one reachable by Get/Scan as the
// flushing MemTable, writes it to a new L0 sorted run, publishes the
// manifest, and only then deletes the retired WAL segment and retires the
// flushing MemTable pointer.
func (s *Store) RunFlush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.memTable.IsEmpty() {
		s.mu.Unlock()
		return nil
	}

	retired := s.memTable
	oldSegment, err := s.wal.Rotate()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rotate WAL: %w", err)
	}
	s.memTable = kvstore.NewMemTable(s.memTableConfig)
	s.flushingMemTable = retired
	s.mu.Unlock()

	id := fmt.Sprintf("L0-%d", atomic.AddUint64(&s.nextFileSeq, 1))
	path := filepath.Join(s.dataDir, id+".sst")
	entries := retired.All()

	writer, err := NewSSTableWriterWithPool(path, uint64(len(entries)), DefaultCompactionConfig().BloomFilterFPR, s.bufPool)
	if err != nil {
		return fmt.Errorf("open flush writer: %w", err)
	}
	for _, e := range entries {
		if err := writer.Add(SSTableEntry{Key: e.Key, Value: e.Value, Tombstone: e.Deleted, Sequence: e.Sequence}); err != nil {
			_ = writer.Abort()
			return fmt.Errorf("write flush entry: %w", err)
		}
	}
	meta, err := writer.Finish(0)
	if err != nil {
		return fmt.Errorf("finish flush: %w", err)
	}
	run, err := OpenSSTable(id, path, 0)
	if err != nil {
		return fmt.Errorf("reopen flushed run: %w", err)
	}

	s.mu.Lock()
	s.levels[0] = append(s.levels[0], run)
	s.manifest.Runs = append(s.manifest.Runs, ManifestRun{
		Level: 0, ID: id, FileName: id + ".sst",
		MinKey: meta.MinKey, MaxKey: meta.MaxKey, NumEntries: meta.NumEntries,
	})
	err = s.manifest.Save(s.dataDir)
	if err == nil {
		// The data is now reachable via levels[0]; stop shadowing it
		// through the flushing MemTable under the same lock that just
		// made it visible there, so Get/Scan never see neither copy.
		s.flushingMemTable = nil
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish manifest after flush: %w", err)
	}

	retired.MarkFlushed()
	if err := s.wal.RemoveSegment(oldSegment); err != nil {
		return fmt.Errorf("remove retired WAL segment: %w", err)
	}

	s.submitJob(pool.CompactJob, 0)
	return nil
}

// RunCompaction implements pool.CompactionTarget: picks the
// highest-priority compaction job across all levels (PickJob checks L0
// first; level is not consulted), runs the k-way merge, and publishes the
// result. It does nothing when no level is over its trigger or budget.
func (s *Store) RunCompaction(level int) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	levelsSnapshot := make(map[int][]*SSTable, len(s.levels))
	for lvl, runs := range s.levels {
		levelsSnapshot[lvl] = append([]*SSTable(nil), runs...)
	}
	s.mu.RUnlock()

	job, ok := s.compactor.PickJob(levelsSnapshot)
	if !ok {
		return nil
	}

	bottomLevel := s.isBottomLevel(job.OutputLevel, levelsSnapshot)
	outputs, obsolete, err := s.compactor.Run(job, bottomLevel)
	if err != nil {
		return fmt.Errorf("compact L%d->L%d: %w", job.SourceLevel, job.OutputLevel, err)
	}

	s.mu.Lock()
	s.levels[job.SourceLevel] = removeRuns(s.levels[job.SourceLevel], obsolete)
	s.levels[job.OutputLevel] = removeRuns(s.levels[job.OutputLevel], obsolete)
	s.levels[job.OutputLevel] = append(s.levels[job.OutputLevel], outputs...)
	sortRunsByMinKey(s.levels[job.OutputLevel])

	s.manifest.Runs = removeManifestRuns(s.manifest.Runs, obsolete)
	for _, out := range outputs {
		meta := out.Metadata()
		s.manifest.Runs = append(s.manifest.Runs, ManifestRun{
			Level: job.OutputLevel, ID: out.ID, FileName: filepath.Base(out.FilePath),
			MinKey: meta.MinKey, MaxKey: meta.MaxKey, NumEntries: meta.NumEntries,
		})
	}
	err = s.manifest.Save(s.dataDir)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish manifest after compaction: %w", err)
	}

	for _, run := range obsolete {
		if err := run.Remove(); err != nil {
			return fmt.Errorf("remove retired sorted run: %w", err)
		}
	}

	s.submitJob(pool.CompactJob, job.OutputLevel)
	return nil
}

func (s *Store) isBottomLevel(level int, levels map[int][]*SSTable) bool {
	for lvl, runs := range levels {
		if lvl > level && len(runs) > 0 {
			return false
		}
	}
	return true
}

func removeRuns(runs []*SSTable, toRemove []*SSTable) []*SSTable {
	remove := make(map[string]bool, len(toRemove))
	for _, r := range toRemove {
		remove[r.ID] = true
	}
	out := make([]*SSTable, 0, len(runs))
	for _, r := range runs {
		if !remove[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func removeManifestRuns(runs []ManifestRun, toRemove []*SSTable) []ManifestRun {
	remove := make(map[string]bool, len(toRemove))
	for _, r := range toRemove {
		remove[r.ID] = true
	}
	out := make([]ManifestRun, 0, len(runs))
	for _, r := range runs {
		if !remove[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// Close stops the compaction pool, flushes any remaining MemTable data,
// and closes the WAL and every open sorted run.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.jobs.Stop(); err != nil {
		return fmt.Errorf("stop compaction pool: %w", err)
	}
	if err := s.RunFlush(); err != nil {
		return fmt.Errorf("final flush on close: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	s.memOpt.Close()

	if err := s.wal.Close(); err != nil {
		return fmt.Errorf("close WAL: %w", err)
	}
	for _, runs := range s.levels {
		for _, run := range runs {
			if err := run.Close(); err != nil {
				return fmt.Errorf("close sorted run %s: %w", run.ID, err)
			}
		}
	}
	return nil
}
