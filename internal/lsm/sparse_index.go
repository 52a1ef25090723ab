package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// sparseIndexInterval is the default number of entries between anchors
// (spec: "every S entries, default S = 16").
const sparseIndexInterval = 16

// sparseIndexAnchor maps the first key of a block to the block's byte
// offset within the entry-blocks section of a sorted run.
type sparseIndexAnchor struct {
	key    []byte
	offset int64
}

// SparseIndex partitions a sorted run's entries into blocks of
// sparseIndexInterval entries each, recording only the first key of every
// block. It trades point-lookup precision (an anchor hit still requires a
// linear scan of up to S entries) for O(n/S) memory residency.
type SparseIndex struct {
	anchors  []sparseIndexAnchor
	interval int
	// pending tracks how many entries have been appended since the last anchor.
	pending int
}

// NewSparseIndex creates an empty sparse index with the default anchor
// interval.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{interval: sparseIndexInterval}
}

// NewSparseIndexWithInterval creates an empty sparse index with a custom
// anchor interval, primarily for testing block-boundary behaviour.
func NewSparseIndexWithInterval(interval int) *SparseIndex {
	if interval <= 0 {
		interval = sparseIndexInterval
	}
	return &SparseIndex{interval: interval}
}

// Observe is called by the sorted-run writer once per entry, in key order,
// with the byte offset at which that entry begins. It emits a new anchor
// every `interval` entries, always including the very first entry.
func (si *SparseIndex) Observe(key []byte, offset int64) {
	if si.pending == 0 {
		anchor := make([]byte, len(key))
		copy(anchor, key)
		si.anchors = append(si.anchors, sparseIndexAnchor{key: anchor, offset: offset})
	}
	si.pending++
	if si.pending >= si.interval {
		si.pending = 0
	}
}

// Locate returns the byte offset of the block whose key range may contain
// key: the greatest anchor whose key <= key. The second return value is
// false when key precedes the first anchor (definitely absent).
func (si *SparseIndex) Locate(key []byte) (int64, bool) {
	if len(si.anchors) == 0 {
		return 0, false
	}

	// sort.Search finds the first anchor with key > target; the anchor we
	// want is the one immediately before it.
	idx := sort.Search(len(si.anchors), func(i int) bool {
		return bytes.Compare(si.anchors[i].key, key) > 0
	})
	if idx == 0 {
		return 0, false
	}
	return si.anchors[idx-1].offset, true
}

// Range returns the half-open block-offset range [startOffset, endOffset)
// covering all blocks that may contain keys in [lo, hi]. endOffset is the
// offset of the first block known to start strictly after hi, or
// dataSectionEnd if no such block exists. A nil lo/hi means unbounded.
func (si *SparseIndex) Range(lo, hi []byte, dataSectionEnd int64) (int64, int64) {
	if len(si.anchors) == 0 {
		return 0, dataSectionEnd
	}

	start := int64(0)
	if lo != nil {
		if off, ok := si.Locate(lo); ok {
			start = off
		}
	}

	end := dataSectionEnd
	if hi != nil {
		idx := sort.Search(len(si.anchors), func(i int) bool {
			return bytes.Compare(si.anchors[i].key, hi) > 0
		})
		if idx < len(si.anchors) {
			end = si.anchors[idx].offset
		}
	}

	return start, end
}

// Len reports the number of anchors (O(n/S) by construction).
func (si *SparseIndex) Len() int {
	return len(si.anchors)
}

// Serialize encodes the anchor list for the sorted-run footer section.
// Layout: uint32 count, then per anchor: uint32 key length, key bytes,
// int64 offset.
func (si *SparseIndex) Serialize() []byte {
	var buf bytes.Buffer

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(si.anchors)))
	buf.Write(countBuf[:])

	for _, a := range si.anchors {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(a.key)))
		buf.Write(lenBuf[:])
		buf.Write(a.key)

		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], uint64(a.offset))
		buf.Write(offBuf[:])
	}

	return buf.Bytes()
}

// DeserializeSparseIndex decodes an anchor list previously produced by
// Serialize.
func DeserializeSparseIndex(data []byte) (*SparseIndex, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid sparse index data: too short")
	}

	count := binary.LittleEndian.Uint32(data[0:4])
	offset := 4

	anchors := make([]sparseIndexAnchor, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("invalid sparse index data: truncated key length")
		}
		keyLen := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		if offset+keyLen+8 > len(data) {
			return nil, fmt.Errorf("invalid sparse index data: truncated entry")
		}
		key := make([]byte, keyLen)
		copy(key, data[offset:offset+keyLen])
		offset += keyLen

		anchorOffset := int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8

		anchors = append(anchors, sparseIndexAnchor{key: key, offset: anchorOffset})
	}

	return &SparseIndex{anchors: anchors, interval: sparseIndexInterval}, nil
}
