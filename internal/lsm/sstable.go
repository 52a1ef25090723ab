package lsm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mozdb/kvengine/internal/kvstore"
)

// SSTableVersion is the on-disk format version written into every run's
// footer. Readers refuse any other version with a fatal error (spec §6:
// "format-compatibility bits").
const SSTableVersion = 2

// sstableMagic tags the footer so a truncated or unrelated file is rejected
// early rather than misparsed.
var sstableMagic = [4]byte{'M', 'Z', 'S', 'T'}

// footerSize is the fixed-width trailer every sorted run ends with:
// magic(4) + version(4) + bloomOffset(8) + bloomLength(8) + indexOffset(8) +
// indexLength(8) + minKeyOffset(8) + minKeyLength(4) + maxKeyOffset(8) +
// maxKeyLength(4) + entryCount(8).
const footerSize = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 8 + 4 + 8

// SSTableEntry is a single record in a sorted run: a byte key/value pair
// (or tombstone) tagged with the sequence number that produced it.
type SSTableEntry struct {
	Key      []byte
	Value    []byte
	Tombstone bool
	Sequence uint64
}

// SSTableMetadata summarises a sorted run without requiring a full open.
type SSTableMetadata struct {
	Version    uint32
	Level      int
	NumEntries uint64
	FileSize   int64
	MinKey     []byte
	MaxKey     []byte
}

// SSTable is an immutable on-disk sorted run: entry blocks, followed by a
// bloom filter, a sparse index, and a fixed footer (spec §4.3).
type SSTable struct {
	mu sync.RWMutex

	ID       string
	Level    int
	FilePath string

	file *os.File

	metadata    SSTableMetadata
	bloom       *BloomFilter
	sparseIndex *SparseIndex

	entriesEnd int64 // byte offset where the entry-blocks section ends
	closed     bool
}

// SSTableWriter builds a new sorted run from a lazy stream of entries with
// strictly increasing keys (spec §4.3 writer contract). Duplicate keys must
// already be collapsed upstream (by MemTable flush ordering or compaction's
// merge).
type SSTableWriter struct {
	file   *os.File
	writer *bufio.Writer

	offset  int64
	count   uint64
	minKey  []byte
	maxKey  []byte
	bloom   *BloomFilter
	sparse  *SparseIndex

	lastKey []byte
	any     bool

	bufPool *kvstore.MemoryPools
}

// NewSSTableWriter creates a writer for a new sorted run at path, sized for
// expectedEntries with the given target false-positive rate.
func NewSSTableWriter(path string, expectedEntries uint64, falsePositiveRate float64) (*SSTableWriter, error) {
	return NewSSTableWriterWithPool(path, expectedEntries, falsePositiveRate, nil)
}

// NewSSTableWriterWithPool is NewSSTableWriter with an explicit buffer pool
// for per-entry serialization scratch space, reused across Add calls
// instead of allocating a fresh []byte for every entry.
func NewSSTableWriterWithPool(path string, expectedEntries uint64, falsePositiveRate float64, bufPool *kvstore.MemoryPools) (*SSTableWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create sorted run directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sorted run file: %w", err)
	}

	return &SSTableWriter{
		file:    f,
		writer:  bufio.NewWriter(f),
		bloom:   NewBloomFilter(expectedEntries, falsePositiveRate),
		sparse:  NewSparseIndex(),
		bufPool: bufPool,
	}, nil
}

// Add appends one entry. Keys must arrive in strictly increasing order.
func (w *SSTableWriter) Add(entry SSTableEntry) error {
	if w.any && bytes.Compare(entry.Key, w.lastKey) <= 0 {
		return fmt.Errorf("sorted run writer: out-of-order key %q after %q", entry.Key, w.lastKey)
	}

	var scratch []byte
	if w.bufPool != nil {
		scratch = w.bufPool.GetBuffer()
	}
	buf := serializeSSTableEntry(scratch, entry)

	w.sparse.Observe(entry.Key, w.offset)
	if _, err := w.writer.Write(buf); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	w.bloom.Add(entry.Key)

	w.offset += int64(len(buf))
	w.count++
	if !w.any {
		w.minKey = append([]byte(nil), entry.Key...)
	}
	w.maxKey = append([]byte(nil), entry.Key...)
	w.lastKey = w.maxKey
	w.any = true

	if w.bufPool != nil {
		w.bufPool.PutBuffer(buf)
	}

	return nil
}

// Finish serialises the bloom filter, sparse index and footer, syncs the
// file to durable storage and returns metadata describing the finished run.
func (w *SSTableWriter) Finish(level int) (SSTableMetadata, error) {
	bloomBytes, err := w.bloom.Serialize()
	if err != nil {
		return SSTableMetadata{}, fmt.Errorf("serialize bloom filter: %w", err)
	}
	bloomOffset := w.offset
	if _, err := w.writer.Write(bloomBytes); err != nil {
		return SSTableMetadata{}, fmt.Errorf("write bloom filter: %w", err)
	}
	w.offset += int64(len(bloomBytes))

	indexBytes := w.sparse.Serialize()
	indexOffset := w.offset
	if _, err := w.writer.Write(indexBytes); err != nil {
		return SSTableMetadata{}, fmt.Errorf("write sparse index: %w", err)
	}
	w.offset += int64(len(indexBytes))

	minKeyOffset := w.offset
	if _, err := w.writer.Write(w.minKey); err != nil {
		return SSTableMetadata{}, fmt.Errorf("write min key: %w", err)
	}
	w.offset += int64(len(w.minKey))

	maxKeyOffset := w.offset
	if _, err := w.writer.Write(w.maxKey); err != nil {
		return SSTableMetadata{}, fmt.Errorf("write max key: %w", err)
	}
	w.offset += int64(len(w.maxKey))

	footer := make([]byte, footerSize)
	off := 0
	copy(footer[off:], sstableMagic[:])
	off += 4
	binary.LittleEndian.PutUint32(footer[off:], SSTableVersion)
	off += 4
	binary.LittleEndian.PutUint64(footer[off:], uint64(bloomOffset))
	off += 8
	binary.LittleEndian.PutUint64(footer[off:], uint64(len(bloomBytes)))
	off += 8
	binary.LittleEndian.PutUint64(footer[off:], uint64(indexOffset))
	off += 8
	binary.LittleEndian.PutUint64(footer[off:], uint64(len(indexBytes)))
	off += 8
	binary.LittleEndian.PutUint64(footer[off:], uint64(minKeyOffset))
	off += 8
	binary.LittleEndian.PutUint32(footer[off:], uint32(len(w.minKey)))
	off += 4
	binary.LittleEndian.PutUint64(footer[off:], uint64(maxKeyOffset))
	off += 8
	binary.LittleEndian.PutUint32(footer[off:], uint32(len(w.maxKey)))
	off += 4
	binary.LittleEndian.PutUint64(footer[off:], w.count)

	if _, err := w.writer.Write(footer); err != nil {
		return SSTableMetadata{}, fmt.Errorf("write footer: %w", err)
	}
	w.offset += int64(len(footer))

	if err := w.writer.Flush(); err != nil {
		return SSTableMetadata{}, fmt.Errorf("flush sorted run: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return SSTableMetadata{}, fmt.Errorf("sync sorted run: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return SSTableMetadata{}, fmt.Errorf("close sorted run: %w", err)
	}

	return SSTableMetadata{
		Version:    SSTableVersion,
		Level:      level,
		NumEntries: w.count,
		FileSize:   w.offset,
		MinKey:     w.minKey,
		MaxKey:     w.maxKey,
	}, nil
}

// Abort discards a partially written run (used when a writer fails before
// Finish) and removes the file.
func (w *SSTableWriter) Abort() error {
	_ = w.file.Close()
	return os.Remove(w.file.Name())
}

// serializeSSTableEntry frames one entry into scratch (grown as needed) and
// returns the written slice. scratch may be nil, in which case a fresh
// buffer is allocated.
func serializeSSTableEntry(scratch []byte, e SSTableEntry) []byte {
	tombstoneByte := byte(0)
	if e.Tombstone {
		tombstoneByte = 1
	}

	size := 8 + 4 + len(e.Key) + 1 + 4 + len(e.Value) + 4
	buf := scratch[:0]
	if cap(buf) < size {
		buf = make([]byte, 0, size)
	}
	buf = buf[:size]
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], e.Sequence)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Key)))
	off += 4
	copy(buf[off:], e.Key)
	off += len(e.Key)
	buf[off] = tombstoneByte
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Value)))
	off += 4
	copy(buf[off:], e.Value)
	off += len(e.Value)

	checksum := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], checksum)

	return buf
}

// readSSTableEntry reads one entry starting at the reader's current
// position, validating its checksum.
func readSSTableEntry(r io.Reader) (SSTableEntry, int, error) {
	var head [12]byte // sequence(8) + keyLen(4)
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return SSTableEntry{}, 0, err
	}
	seq := binary.LittleEndian.Uint64(head[0:8])
	keyLen := binary.LittleEndian.Uint32(head[8:12])

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return SSTableEntry{}, 0, fmt.Errorf("read entry key: %w", err)
	}

	var tombAndLen [5]byte // tombstone(1) + valueLen(4)
	if _, err := io.ReadFull(r, tombAndLen[:]); err != nil {
		return SSTableEntry{}, 0, fmt.Errorf("read entry value header: %w", err)
	}
	tombstone := tombAndLen[0] != 0
	valueLen := binary.LittleEndian.Uint32(tombAndLen[1:5])

	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return SSTableEntry{}, 0, fmt.Errorf("read entry value: %w", err)
	}

	var checksumBuf [4]byte
	if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
		return SSTableEntry{}, 0, fmt.Errorf("read entry checksum: %w", err)
	}
	wantChecksum := binary.LittleEndian.Uint32(checksumBuf[:])

	total := 12 + int(keyLen) + 5 + int(valueLen)
	recomputed := serializeSSTableEntry(nil, SSTableEntry{Key: key, Value: value, Tombstone: tombstone, Sequence: seq})
	gotChecksum := binary.LittleEndian.Uint32(recomputed[len(recomputed)-4:])
	if gotChecksum != wantChecksum {
		return SSTableEntry{}, 0, fmt.Errorf("%w: entry checksum mismatch", ErrCorruption)
	}

	return SSTableEntry{Key: key, Value: value, Tombstone: tombstone, Sequence: seq}, total + 4, nil
}

// OpenSSTable opens an existing, finalised sorted run for reading.
func OpenSSTable(id, path string, level int) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sorted run: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat sorted run: %w", err)
	}
	if info.Size() < footerSize {
		f.Close()
		return nil, fmt.Errorf("%w: sorted run too small to contain a footer", ErrCorruption)
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, info.Size()-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("read footer: %w", err)
	}

	if !bytes.Equal(footer[0:4], sstableMagic[:]) {
		f.Close()
		return nil, fmt.Errorf("%w: bad sorted run magic", ErrCorruption)
	}
	version := binary.LittleEndian.Uint32(footer[4:8])
	if version != SSTableVersion {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported sorted run format version %d", ErrCorruption, version)
	}

	off := 8
	bloomOffset := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	bloomLength := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	indexOffset := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	indexLength := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	minKeyOffset := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	minKeyLength := binary.LittleEndian.Uint32(footer[off:])
	off += 4
	maxKeyOffset := int64(binary.LittleEndian.Uint64(footer[off:]))
	off += 8
	maxKeyLength := binary.LittleEndian.Uint32(footer[off:])
	off += 4
	entryCount := binary.LittleEndian.Uint64(footer[off:])

	bloomBytes := make([]byte, bloomLength)
	if _, err := f.ReadAt(bloomBytes, bloomOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("read bloom filter: %w", err)
	}
	bloom, err := DeserializeBloomFilter(bloomBytes, 0.01)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode bloom filter: %w", err)
	}

	indexBytes := make([]byte, indexLength)
	if _, err := f.ReadAt(indexBytes, indexOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("read sparse index: %w", err)
	}
	sparse, err := DeserializeSparseIndex(indexBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode sparse index: %w", err)
	}

	minKey := make([]byte, minKeyLength)
	if _, err := f.ReadAt(minKey, minKeyOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("read min key: %w", err)
	}
	maxKey := make([]byte, maxKeyLength)
	if _, err := f.ReadAt(maxKey, maxKeyOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("read max key: %w", err)
	}

	return &SSTable{
		ID:       id,
		Level:    level,
		FilePath: path,
		file:     f,
		metadata: SSTableMetadata{
			Version:    version,
			Level:      level,
			NumEntries: entryCount,
			FileSize:   info.Size(),
			MinKey:     minKey,
			MaxKey:     maxKey,
		},
		bloom:       bloom,
		sparseIndex: sparse,
		entriesEnd:  bloomOffset,
	}, nil
}

// ContainsKey reports whether key falls within this run's recorded
// [MinKey, MaxKey] range. It is a cheap range check, not a membership test.
func (s *SSTable) ContainsKey(key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Compare(key, s.metadata.MinKey) >= 0 && bytes.Compare(key, s.metadata.MaxKey) <= 0
}

// Get looks up key: bloom check, then sparse-index locate, then a linear
// scan of the identified block (spec §4.3 reader contract).
func (s *SSTable) Get(key []byte) (SSTableEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return SSTableEntry{}, false, ErrClosed
	}
	if !s.bloom.MightContain(key) {
		return SSTableEntry{}, false, nil
	}
	if !s.ContainsKey(key) {
		return SSTableEntry{}, false, nil
	}

	start, ok := s.sparseIndex.Locate(key)
	if !ok {
		start = 0
	}
	end := s.entriesEnd

	sr := io.NewSectionReader(s.file, start, end-start)
	for {
		entry, _, err := readSSTableEntry(sr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return SSTableEntry{}, false, err
		}
		cmp := bytes.Compare(entry.Key, key)
		if cmp == 0 {
			return entry, true, nil
		}
		if cmp > 0 {
			break
		}
	}

	return SSTableEntry{}, false, nil
}

// SSTableIterator yields entries from a sorted run in key order over a
// bounded byte range. It is lazy and restartable: each call to Scan/Iter
// returns a fresh cursor.
type SSTableIterator struct {
	sr       *io.SectionReader
	current  SSTableEntry
	hi       []byte
	err      error
	done     bool
	lastSize int
}

// Iter returns a full ordered iterator over the run, used by compaction.
func (s *SSTable) Iter() *SSTableIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &SSTableIterator{sr: io.NewSectionReader(s.file, 0, s.entriesEnd)}
}

// Scan returns a lazy ordered iterator over entries with keys in [lo, hi].
// nil bounds mean open-ended. Finite and restartable.
func (s *SSTable) Scan(lo, hi []byte) *SSTableIterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := s.sparseIndex.Range(lo, hi, s.entriesEnd)
	it := &SSTableIterator{sr: io.NewSectionReader(s.file, start, end-start), hi: hi}

	// Anchors are block-granular, so the first block may begin before lo;
	// advance until we reach lo.
	if lo != nil {
		for it.Next() {
			if bytes.Compare(it.Current().Key, lo) >= 0 {
				it.rewindOne()
				break
			}
		}
		if it.err != nil {
			return it
		}
	}
	return it
}

// rewindOne re-seeks the section reader back by the size of the
// most-recently-read entry so Next returns it again. Used internally by
// Scan to re-align after probing for the lower bound.
func (it *SSTableIterator) rewindOne() {
	if it.lastSize > 0 {
		cur, _ := it.sr.Seek(0, io.SeekCurrent)
		_, _ = it.sr.Seek(cur-int64(it.lastSize), io.SeekStart)
	}
	it.done = false
}

// lastSize tracks the byte length of the entry last read by Next, needed
// by rewindOne.
func (it *SSTableIterator) setLastSize(n int) { it.lastSize = n }

// HasNext reports false once Next has reached the end of the stream or an
// error. A true result does not guarantee that another entry remains: the
// end is only detected by a Next call that returns false.
func (it *SSTableIterator) HasNext() bool {
	return !it.done
}

// Next advances the iterator. Returns false at end of stream or on error
// (check Err()).
func (it *SSTableIterator) Next() bool {
	if it.done {
		return false
	}
	entry, n, err := readSSTableEntry(it.sr)
	if err == io.EOF {
		it.done = true
		return false
	}
	if err != nil {
		it.err = err
		it.done = true
		return false
	}
	if it.hi != nil && bytes.Compare(entry.Key, it.hi) > 0 {
		it.done = true
		return false
	}
	it.current = entry
	it.setLastSize(n)
	return true
}

// Current returns the entry last produced by Next.
func (it *SSTableIterator) Current() SSTableEntry {
	return it.current
}

// Err returns any error encountered during iteration.
func (it *SSTableIterator) Err() error {
	return it.err
}

// Metadata returns a copy of the run's metadata.
func (s *SSTable) Metadata() SSTableMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Close releases the run's file handle. The on-disk file is left intact;
// deletion only happens after the compactor publishes a new manifest
// snapshot (spec §4.6 publication).
func (s *SSTable) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// Remove closes (if needed) and deletes the run's file from disk. Called
// only by the compactor after a retired run's manifest entry has been
// superseded.
func (s *SSTable) Remove() error {
	_ = s.Close()
	return os.Remove(s.FilePath)
}
