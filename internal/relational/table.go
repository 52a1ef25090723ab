// Package relational implements a thin row/column layer over the LSM key
// value core: a table serializes each row and stores it under its primary
// key as the LSM key, and keeps a B+ tree index of primary keys for
// ordered scans independent of the LSM's own run hierarchy.
package relational

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mozdb/kvengine/internal/index"
	"github.com/mozdb/kvengine/internal/lsm"
)

// Row is a mapping from column name to typed value.
type Row map[string]any

// Column describes one column of a table schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema describes a table's columns and its primary key.
type Schema struct {
	Columns    []Column
	PrimaryKey string
}

func (s Schema) column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Table maps typed rows onto an lsm.Store, enforcing primary-key
// uniqueness and null constraints before any write reaches the LSM.
type Table struct {
	mu     sync.RWMutex
	store  *lsm.Store
	schema Schema
	idx    *index.IndexManager
}

// Open validates schema, then rebuilds the table's B+ tree index by
// replaying a full scan of the store — the engine's scan(none, none)
// contract for index reconstruction at startup, since the B+ tree itself
// is never persisted.
func Open(store *lsm.Store, schema Schema) (*Table, error) {
	if _, ok := schema.column(schema.PrimaryKey); !ok {
		return nil, fmt.Errorf("primary key column %q not declared in schema", schema.PrimaryKey)
	}
	if pk, _ := schema.column(schema.PrimaryKey); pk.Nullable {
		return nil, fmt.Errorf("primary key column %q must not be nullable", schema.PrimaryKey)
	}

	idx, err := index.NewIndexManager(index.IndexTypeBTree)
	if err != nil {
		return nil, fmt.Errorf("create table index: %w", err)
	}

	t := &Table{store: store, schema: schema, idx: idx}
	if err := t.rebuildIndex(); err != nil {
		return nil, fmt.Errorf("rebuild table index: %w", err)
	}
	return t, nil
}

func (t *Table) rebuildIndex() error {
	entries, err := t.store.Scan(nil, nil)
	if err != nil {
		return err
	}

	rebuilt := make(map[string]index.IndexEntry, len(entries))
	for _, e := range entries {
		row, err := decodeRow(e.Value)
		if err != nil {
			return fmt.Errorf("decode row at key %q: %w", e.Key, err)
		}
		pk := fmt.Sprintf("%v", row[t.schema.PrimaryKey])
		rebuilt[pk] = index.IndexEntry{Key: pk, Size: int32(len(e.Value))}
	}

	return t.idx.Rebuild(rebuilt)
}

// Insert validates row against the schema — every declared column present
// (or explicitly null only if nullable), primary key present and unique —
// encodes it, and writes it to the LSM under the primary key's bytes.
func (t *Table) Insert(row Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.validate(row); err != nil {
		return err
	}

	pk := fmt.Sprintf("%v", row[t.schema.PrimaryKey])
	if t.idx.Exists(pk) {
		return fmt.Errorf("duplicate primary key: %s", pk)
	}

	encoded, err := encodeRow(t.schema, row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}

	if err := t.store.Put([]byte(pk), encoded); err != nil {
		return fmt.Errorf("put row: %w", err)
	}

	return t.idx.Insert(pk, index.IndexEntry{Key: pk, Size: int32(len(encoded))})
}

func (t *Table) validate(row Row) error {
	for _, col := range t.schema.Columns {
		val, present := row[col.Name]
		isNull := !present || val == nil
		if isNull {
			if !col.Nullable {
				return fmt.Errorf("column %q: null into non-nullable column", col.Name)
			}
			continue
		}
	}
	for name := range row {
		if _, ok := t.schema.column(name); !ok {
			return fmt.Errorf("unknown column: %s", name)
		}
	}
	if v, ok := row[t.schema.PrimaryKey]; !ok || v == nil {
		return fmt.Errorf("missing primary key: %s", t.schema.PrimaryKey)
	}
	return nil
}

// Get fetches a row by primary key.
func (t *Table) Get(pk any) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	key := fmt.Sprintf("%v", pk)
	data, err := t.store.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return decodeRow(data)
}

// Delete removes a row by primary key from both the LSM and the index.
func (t *Table) Delete(pk any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := fmt.Sprintf("%v", pk)
	if err := t.store.Delete([]byte(key)); err != nil {
		return err
	}
	if t.idx.Exists(key) {
		return t.idx.Delete(key)
	}
	return nil
}

// Scan returns rows whose primary key falls in [lo, hi], ordered by
// primary key, using the B+ tree's leaf chain rather than re-merging the
// LSM's sorted runs.
func (t *Table) Scan(lo, hi any) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	loStr := ""
	if lo != nil {
		loStr = fmt.Sprintf("%v", lo)
	}
	hiStr := "\xff\xff\xff\xff\xff\xff\xff\xff"
	if hi != nil {
		hiStr = fmt.Sprintf("%v", hi)
	}

	entries, err := t.idx.Range(loStr, hiStr)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		data, err := t.store.Get([]byte(e.Key))
		if err != nil {
			continue // deleted between index rebuild and scan; skip
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("decode row at key %q: %w", e.Key, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Close releases the table's index.
func (t *Table) Close() error {
	return t.idx.Close()
}
