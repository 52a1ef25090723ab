package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	bloomlib "github.com/bits-and-blooms/bloom/v3"
)

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// BloomFilter is a thin wrapper around bits-and-blooms/bloom/v3 that fixes
// the sizing policy (optimal m/k from expected capacity and target false
// positive rate) and adds the run-footer serialisation format used by
// sstable.go.
type BloomFilter struct {
	filter *bloomlib.BloomFilter

	numItems          uint64
	falsePositiveRate float64
	expectedItems     uint64
}

// NewBloomFilter creates a new Bloom filter with the specified expected number of items
// and false positive rate. Sizing follows the standard formulas
// m = -n*ln(p)/(ln 2)^2, k = (m/n)*ln 2, delegated to the library's
// NewWithEstimates.
func NewBloomFilter(expectedItems uint64, falsePositiveRate float64) *BloomFilter {
	if expectedItems == 0 {
		expectedItems = 1000 // Default fallback
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01 // Default 1%
	}

	return &BloomFilter{
		filter:            bloomlib.NewWithEstimates(uint(expectedItems), falsePositiveRate),
		falsePositiveRate: falsePositiveRate,
		expectedItems:     expectedItems,
	}
}

// Add adds an item to the bloom filter. Must be called exactly once per
// unique key at run-build time.
func (bf *BloomFilter) Add(data []byte) {
	if len(data) == 0 {
		return
	}
	bf.filter.Add(data)
	bf.numItems++
}

// MightContain tests whether an item might be in the set.
// False means definitely absent; true means possibly present.
func (bf *BloomFilter) MightContain(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return bf.filter.Test(data)
}

// EstimatedFalsePositiveRate calculates the current false positive rate
// based on the number of items added relative to the configured capacity.
func (bf *BloomFilter) EstimatedFalsePositiveRate() float64 {
	if bf.numItems == 0 {
		return 0.0
	}
	m := float64(bf.filter.Cap())
	k := float64(bf.filter.K())
	probBitIsZero := math.Pow(1.0-1.0/m, k*float64(bf.numItems))
	return math.Pow(1.0-probBitIsZero, k)
}

// Clear resets the bloom filter to empty.
func (bf *BloomFilter) Clear() {
	bf.filter.ClearAll()
	bf.numItems = 0
}

// Count returns the number of items added to the filter.
func (bf *BloomFilter) Count() uint64 {
	return bf.numItems
}

// Size returns the size of the bit array in bits.
func (bf *BloomFilter) Size() uint64 {
	return uint64(bf.filter.Cap())
}

// NumHashFunctions returns the number of hash functions used.
func (bf *BloomFilter) NumHashFunctions() int {
	return int(bf.filter.K())
}

// ExpectedFalsePositiveRate returns the configured false positive rate.
func (bf *BloomFilter) ExpectedFalsePositiveRate() float64 {
	return bf.falsePositiveRate
}

// MemoryUsage returns an estimate of memory usage in bytes.
func (bf *BloomFilter) MemoryUsage() uint64 {
	return bf.filter.Cap()/8 + 64
}

// Union merges another bloom filter into this one. Both filters must have
// been built with the same capacity and false positive rate.
func (bf *BloomFilter) Union(other *BloomFilter) error {
	if err := bf.filter.Merge(other.filter); err != nil {
		return fmt.Errorf("merge bloom filters: %w", err)
	}
	bf.numItems += other.numItems
	return nil
}

// GetStats returns statistics about the bloom filter.
func (bf *BloomFilter) GetStats() BloomFilterStats {
	return BloomFilterStats{
		Size:             bf.Size(),
		NumHashFunctions: bf.NumHashFunctions(),
		NumItems:         bf.numItems,
		ExpectedItems:    bf.expectedItems,
		ExpectedFPR:      bf.falsePositiveRate,
		EstimatedFPR:     bf.EstimatedFalsePositiveRate(),
		MemoryUsage:      bf.MemoryUsage(),
		LoadFactor:       float64(bf.numItems) / float64(bf.expectedItems),
	}
}

// BloomFilterStats holds statistics about a bloom filter
type BloomFilterStats struct {
	Size             uint64  // Size of bit array in bits
	NumHashFunctions int     // Number of hash functions
	NumItems         uint64  // Number of items added
	ExpectedItems    uint64  // Expected number of items
	ExpectedFPR      float64 // Expected false positive rate
	EstimatedFPR     float64 // Current estimated false positive rate
	MemoryUsage      uint64  // Memory usage in bytes
	LoadFactor       float64 // Current load factor (numItems / expectedItems)
}

// Serialize serializes the bloom filter to bytes for persistence as part of
// a sorted run's footer section (spec §4.3: bloom filter serialisation block).
func (bf *BloomFilter) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	for _, v := range []uint64{bf.numItems, bf.expectedItems} {
		if err := writeUint64(&buf, v); err != nil {
			return nil, fmt.Errorf("write bloom metadata: %w", err)
		}
	}

	if _, err := bf.filter.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write bloom filter bits: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeBloomFilter creates a bloom filter from serialized bytes.
func DeserializeBloomFilter(data []byte, falsePositiveRate float64) (*BloomFilter, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("invalid serialized bloom filter data")
	}

	r := bytes.NewReader(data)
	numItems, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read bloom numItems: %w", err)
	}
	expectedItems, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read bloom expectedItems: %w", err)
	}

	filter := &bloomlib.BloomFilter{}
	if _, err := filter.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("read bloom filter bits: %w", err)
	}

	return &BloomFilter{
		filter:            filter,
		numItems:          numItems,
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}, nil
}
