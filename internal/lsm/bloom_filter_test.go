package lsm

import "testing"

func TestBloomFilterAddAndContain(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)

	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		bf.Add(k)
	}

	for _, k := range keys {
		if !bf.MightContain(k) {
			t.Errorf("expected MightContain(%s) to be true", k)
		}
	}

	if bf.Count() != uint64(len(keys)) {
		t.Errorf("expected count %d, got %d", len(keys), bf.Count())
	}
}

func TestBloomFilterEmptyKeyIgnored(t *testing.T) {
	bf := NewBloomFilter(10, 0.01)
	bf.Add(nil)
	if bf.Count() != 0 {
		t.Errorf("expected empty key to be ignored, count = %d", bf.Count())
	}
	if bf.MightContain(nil) {
		t.Error("expected MightContain(nil) to be false")
	}
}

func TestBloomFilterClear(t *testing.T) {
	bf := NewBloomFilter(10, 0.01)
	bf.Add([]byte("x"))
	bf.Clear()
	if bf.Count() != 0 {
		t.Errorf("expected count 0 after Clear, got %d", bf.Count())
	}
}

func TestBloomFilterSerializeRoundTrip(t *testing.T) {
	bf := NewBloomFilter(50, 0.01)
	for i := 0; i < 20; i++ {
		bf.Add([]byte{byte(i)})
	}

	data, err := bf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := DeserializeBloomFilter(data, bf.ExpectedFalsePositiveRate())
	if err != nil {
		t.Fatalf("DeserializeBloomFilter: %v", err)
	}

	if restored.Count() != bf.Count() {
		t.Errorf("expected count %d, got %d", bf.Count(), restored.Count())
	}

	for i := 0; i < 20; i++ {
		if !restored.MightContain([]byte{byte(i)}) {
			t.Errorf("expected restored filter to contain item %d", i)
		}
	}
}

func TestBloomFilterUnion(t *testing.T) {
	a := NewBloomFilter(100, 0.01)
	a.Add([]byte("a1"))
	b := NewBloomFilter(100, 0.01)
	b.Add([]byte("b1"))

	if err := a.Union(b); err != nil {
		t.Fatalf("Union: %v", err)
	}

	if !a.MightContain([]byte("a1")) || !a.MightContain([]byte("b1")) {
		t.Error("expected union to contain both items")
	}
	if a.Count() != 2 {
		t.Errorf("expected count 2 after union, got %d", a.Count())
	}
}
