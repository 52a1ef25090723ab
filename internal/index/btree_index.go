package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BTreeIndexConfig holds configuration for the B+ tree index.
type BTreeIndexConfig struct {
	Order int // maximum children per internal node; max m-1 keys per node
}

// DefaultBTreeIndexConfig returns sensible defaults for the B+ tree index.
func DefaultBTreeIndexConfig() BTreeIndexConfig {
	return BTreeIndexConfig{
		Order: 64,
	}
}

// BTreeNode is a node in the B+ tree. Internal nodes route by Keys/Children
// only; leaves hold the actual Entries and are linked via Next for ordered
// range scans without tree traversal.
type BTreeNode struct {
	Keys     []string
	Entries  []IndexEntry // leaf only, parallel to Keys
	Children []*BTreeNode // internal only, len(Children) == len(Keys)+1
	IsLeaf   bool
	Next     *BTreeNode // leaf only: ordered leaf-chain successor
}

// BTreeIndex implements a genuine multi-way B+ tree: order m, minimum
// ⌈m/2⌉ occupancy at every node except the root, leaves linked in key
// order for range scans, and no parent pointers — the descent path lives
// on the call stack and splits/merges propagate back up through return
// values (spec §3, §4 "B+ tree").
type BTreeIndex struct {
	root   *BTreeNode
	config BTreeIndexConfig
	count  int64
	mu     sync.RWMutex
}

// NewBTreeIndex creates a new, empty B+ tree index.
func NewBTreeIndex(config BTreeIndexConfig) (*BTreeIndex, error) {
	if config.Order < 3 {
		return nil, fmt.Errorf("b+ tree order must be at least 3")
	}

	return &BTreeIndex{
		root:   &BTreeNode{IsLeaf: true},
		config: config,
	}, nil
}

func (bt *BTreeIndex) maxKeys() int { return bt.config.Order - 1 }
func (bt *BTreeIndex) minKeys() int {
	m := (bt.config.Order + 1) / 2 // ceil(order/2)
	if m < 1 {
		m = 1
	}
	return m - 1
}

// Insert adds or updates an entry in the tree.
func (bt *BTreeIndex) Insert(key string, entry IndexEntry) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	isNew, promoted, sibling, split := bt.insert(bt.root, key, entry)
	if split {
		bt.root = &BTreeNode{
			Keys:     []string{promoted},
			Children: []*BTreeNode{bt.root, sibling},
		}
	}
	if isNew {
		bt.count++
	}
	return nil
}

// insert descends to the right leaf, inserts or updates in place, and
// propagates a split back up as (promotedKey, newRightSibling) when a node
// overflows. isNew reports whether this was a fresh key (for count).
func (bt *BTreeIndex) insert(n *BTreeNode, key string, entry IndexEntry) (isNew bool, promoted string, sibling *BTreeNode, split bool) {
	if n.IsLeaf {
		idx := sort.SearchStrings(n.Keys, key)
		if idx < len(n.Keys) && n.Keys[idx] == key {
			n.Entries[idx] = entry
			return false, "", nil, false
		}

		n.Keys = insertString(n.Keys, idx, key)
		n.Entries = insertEntry(n.Entries, idx, entry)

		if len(n.Keys) <= bt.maxKeys() {
			return true, "", nil, false
		}
		p, s := bt.splitLeaf(n)
		return true, p, s, true
	}

	childIdx := bt.childIndex(n, key)
	isNew, childPromoted, childSibling, childSplit := bt.insert(n.Children[childIdx], key, entry)
	if !childSplit {
		return isNew, "", nil, false
	}

	n.Keys = insertString(n.Keys, childIdx, childPromoted)
	n.Children = insertNode(n.Children, childIdx+1, childSibling)

	if len(n.Keys) <= bt.maxKeys() {
		return isNew, "", nil, false
	}
	p, s := bt.splitInternal(n)
	return isNew, p, s, true
}

// childIndex returns which child of internal node n the search for key
// should descend into: equal keys route to the right subtree, matching
// the convention that a separator is a copy of its right subtree's
// smallest key.
func (bt *BTreeIndex) childIndex(n *BTreeNode, key string) int {
	idx := sort.SearchStrings(n.Keys, key)
	if idx < len(n.Keys) && n.Keys[idx] == key {
		return idx + 1
	}
	return idx
}

// splitLeaf splits an overflowing leaf in half, links it into the leaf
// chain, and returns the separator key promoted to the parent (a copy of
// the new right leaf's first key, per B+ tree convention).
func (bt *BTreeIndex) splitLeaf(n *BTreeNode) (string, *BTreeNode) {
	mid := len(n.Keys) / 2

	right := &BTreeNode{
		IsLeaf:  true,
		Keys:    append([]string(nil), n.Keys[mid:]...),
		Entries: append([]IndexEntry(nil), n.Entries[mid:]...),
		Next:    n.Next,
	}
	n.Keys = n.Keys[:mid]
	n.Entries = n.Entries[:mid]
	n.Next = right

	return right.Keys[0], right
}

// splitInternal splits an overflowing internal node, pushing its middle
// key up to the parent (it is not duplicated, unlike a leaf split).
func (bt *BTreeIndex) splitInternal(n *BTreeNode) (string, *BTreeNode) {
	mid := len(n.Keys) / 2
	promoted := n.Keys[mid]

	right := &BTreeNode{
		Keys:     append([]string(nil), n.Keys[mid+1:]...),
		Children: append([]*BTreeNode(nil), n.Children[mid+1:]...),
	}
	n.Keys = n.Keys[:mid]
	n.Children = n.Children[:mid+1]

	return promoted, right
}

// Delete removes an entry, rebalancing underflowing nodes by borrowing
// from a sibling or merging (spec: minimum ⌈m/2⌉ occupancy except root).
func (bt *BTreeIndex) Delete(key string) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	found, _, err := bt.delete(bt.root, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key not found: %s", key)
	}

	if !bt.root.IsLeaf && len(bt.root.Keys) == 0 {
		bt.root = bt.root.Children[0]
	}

	bt.count--
	return nil
}

// delete removes key from the subtree rooted at n, returning whether n
// itself is now underflowing (ignored for the root, which has no minimum).
func (bt *BTreeIndex) delete(n *BTreeNode, key string) (found bool, underflow bool, err error) {
	if n.IsLeaf {
		idx := sort.SearchStrings(n.Keys, key)
		if idx >= len(n.Keys) || n.Keys[idx] != key {
			return false, false, fmt.Errorf("key not found: %s", key)
		}
		n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
		n.Entries = append(n.Entries[:idx], n.Entries[idx+1:]...)
		return true, len(n.Keys) < bt.minKeys(), nil
	}

	childIdx := bt.childIndex(n, key)
	found, childUnderflow, err := bt.delete(n.Children[childIdx], key)
	if err != nil {
		return false, false, err
	}
	if !childUnderflow {
		return found, false, nil
	}

	bt.fixUnderflow(n, childIdx)
	return found, len(n.Keys) < bt.minKeys(), nil
}

// fixUnderflow repairs an underflowing child at n.Children[idx] by
// borrowing a key from an adjacent sibling, or merging with one if neither
// sibling has a key to spare.
func (bt *BTreeIndex) fixUnderflow(n *BTreeNode, idx int) {
	child := n.Children[idx]

	if idx > 0 && len(n.Children[idx-1].Keys) > bt.minKeys() {
		bt.borrowFromLeft(n, idx)
		return
	}
	if idx < len(n.Children)-1 && len(n.Children[idx+1].Keys) > bt.minKeys() {
		bt.borrowFromRight(n, idx)
		return
	}

	if idx > 0 {
		bt.mergeChildren(n, idx-1)
	} else {
		bt.mergeChildren(n, idx)
	}
	_ = child
}

func (bt *BTreeIndex) borrowFromLeft(n *BTreeNode, idx int) {
	left := n.Children[idx-1]
	child := n.Children[idx]

	if child.IsLeaf {
		lastIdx := len(left.Keys) - 1
		child.Keys = insertString(child.Keys, 0, left.Keys[lastIdx])
		child.Entries = insertEntry(child.Entries, 0, left.Entries[lastIdx])
		left.Keys = left.Keys[:lastIdx]
		left.Entries = left.Entries[:lastIdx]
		n.Keys[idx-1] = child.Keys[0]
		return
	}

	lastKeyIdx := len(left.Keys) - 1
	lastChildIdx := len(left.Children) - 1
	child.Keys = insertString(child.Keys, 0, n.Keys[idx-1])
	child.Children = insertNode(child.Children, 0, left.Children[lastChildIdx])
	n.Keys[idx-1] = left.Keys[lastKeyIdx]
	left.Keys = left.Keys[:lastKeyIdx]
	left.Children = left.Children[:lastChildIdx]
}

func (bt *BTreeIndex) borrowFromRight(n *BTreeNode, idx int) {
	child := n.Children[idx]
	right := n.Children[idx+1]

	if child.IsLeaf {
		child.Keys = append(child.Keys, right.Keys[0])
		child.Entries = append(child.Entries, right.Entries[0])
		right.Keys = right.Keys[1:]
		right.Entries = right.Entries[1:]
		n.Keys[idx] = right.Keys[0]
		return
	}

	child.Keys = append(child.Keys, n.Keys[idx])
	child.Children = append(child.Children, right.Children[0])
	n.Keys[idx] = right.Keys[0]
	right.Keys = right.Keys[1:]
	right.Children = right.Children[1:]
}

// mergeChildren folds n.Children[idx+1] into n.Children[idx] and removes
// the now-redundant separator n.Keys[idx].
func (bt *BTreeIndex) mergeChildren(n *BTreeNode, idx int) {
	left := n.Children[idx]
	right := n.Children[idx+1]

	if left.IsLeaf {
		left.Keys = append(left.Keys, right.Keys...)
		left.Entries = append(left.Entries, right.Entries...)
		left.Next = right.Next
	} else {
		left.Keys = append(left.Keys, n.Keys[idx])
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}

	n.Keys = append(n.Keys[:idx], n.Keys[idx+1:]...)
	n.Children = append(n.Children[:idx+1], n.Children[idx+2:]...)
}

// Get retrieves an entry by exact key.
func (bt *BTreeIndex) Get(key string) (IndexEntry, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	n := bt.root
	for !n.IsLeaf {
		n = n.Children[bt.childIndex(n, key)]
	}
	idx := sort.SearchStrings(n.Keys, key)
	if idx >= len(n.Keys) || n.Keys[idx] != key {
		return IndexEntry{}, fmt.Errorf("key not found: %s", key)
	}
	return n.Entries[idx], nil
}

// Exists checks if a key exists in the index.
func (bt *BTreeIndex) Exists(key string) bool {
	_, err := bt.Get(key)
	return err == nil
}

// BatchInsert adds multiple entries, sorted ascending first for
// locality-friendly insertion order.
func (bt *BTreeIndex) BatchInsert(entries map[string]IndexEntry) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := bt.Insert(key, entries[key]); err != nil {
			return fmt.Errorf("failed to insert key %s: %w", key, err)
		}
	}
	return nil
}

// BatchDelete removes multiple entries.
func (bt *BTreeIndex) BatchDelete(keys []string) error {
	sortedKeys := make([]string, len(keys))
	copy(sortedKeys, keys)
	sort.Sort(sort.Reverse(sort.StringSlice(sortedKeys)))

	for _, key := range sortedKeys {
		if err := bt.Delete(key); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
	}
	return nil
}

// firstLeaf descends to the leftmost leaf, the start of the leaf chain.
func (bt *BTreeIndex) firstLeaf() *BTreeNode {
	n := bt.root
	for !n.IsLeaf {
		n = n.Children[0]
	}
	return n
}

// Keys returns all keys in sorted order by walking the leaf chain.
func (bt *BTreeIndex) Keys() []string {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var keys []string
	for n := bt.firstLeaf(); n != nil; n = n.Next {
		keys = append(keys, n.Keys...)
	}
	return keys
}

// Range returns entries with keys in [start, end], walking the leaf chain
// from the leaf containing start.
func (bt *BTreeIndex) Range(start, end string) ([]IndexEntry, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	n := bt.root
	for !n.IsLeaf {
		n = n.Children[bt.childIndex(n, start)]
	}

	var entries []IndexEntry
	for ; n != nil; n = n.Next {
		for i, k := range n.Keys {
			if k < start {
				continue
			}
			if k > end {
				return entries, nil
			}
			entries = append(entries, n.Entries[i])
		}
	}
	return entries, nil
}

// Prefix returns entries whose key has the given prefix.
func (bt *BTreeIndex) Prefix(prefix string) ([]IndexEntry, error) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	n := bt.root
	for !n.IsLeaf {
		n = n.Children[bt.childIndex(n, prefix)]
	}

	var entries []IndexEntry
	for ; n != nil; n = n.Next {
		for i, k := range n.Keys {
			if k < prefix && !strings.HasPrefix(k, prefix) {
				continue
			}
			if !strings.HasPrefix(k, prefix) {
				return entries, nil
			}
			entries = append(entries, n.Entries[i])
		}
	}
	return entries, nil
}

// Size returns the number of entries in the index.
func (bt *BTreeIndex) Size() int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.count
}

// MemoryUsage estimates memory usage in bytes by walking the leaf chain.
func (bt *BTreeIndex) MemoryUsage() int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	size := int64(128)
	for n := bt.firstLeaf(); n != nil; n = n.Next {
		size += int64(len(n.Keys)) * 64
		for _, k := range n.Keys {
			size += int64(len(k))
		}
	}
	return size
}

// Validate walks the leaf chain and checks global key ordering and the
// reported count; it does not re-verify per-node occupancy invariants
// (those are enforced structurally by Insert/Delete, not by this check).
func (bt *BTreeIndex) Validate() error {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var prev string
	haveKey := false
	var total int64

	for n := bt.firstLeaf(); n != nil; n = n.Next {
		for _, k := range n.Keys {
			if haveKey && prev >= k {
				return fmt.Errorf("keys not sorted: %s >= %s", prev, k)
			}
			prev = k
			haveKey = true
			total++
		}
	}

	if total != bt.count {
		return fmt.Errorf("count mismatch: expected %d, found %d", bt.count, total)
	}
	return nil
}

// Rebuild discards the tree and reinserts entries from scratch, used at
// startup to reconstruct the index from a full scan of the store (spec §6).
func (bt *BTreeIndex) Rebuild(entries map[string]IndexEntry) error {
	bt.mu.Lock()
	bt.root = &BTreeNode{IsLeaf: true}
	bt.count = 0
	bt.mu.Unlock()

	return bt.BatchInsert(entries)
}

// Save persists the index to a file. Left unimplemented: the B+ tree is
// rebuilt from a full scan of the storage engine on every startup and is never
// itself durable (spec §3).
func (bt *BTreeIndex) Save(filename string) error {
	return fmt.Errorf("b+ tree index is not independently persisted")
}

// Load restores the index from a file. See Save.
func (bt *BTreeIndex) Load(filename string) error {
	return fmt.Errorf("b+ tree index is not independently persisted")
}

// Close releases the tree.
func (bt *BTreeIndex) Close() error {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.root = nil
	bt.count = 0
	return nil
}

func insertString(s []string, idx int, v string) []string {
	s = append(s, "")
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertEntry(s []IndexEntry, idx int, v IndexEntry) []IndexEntry {
	s = append(s, IndexEntry{})
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func insertNode(s []*BTreeNode, idx int, v *BTreeNode) []*BTreeNode {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}
