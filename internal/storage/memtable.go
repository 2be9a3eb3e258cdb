package storage

import (
	"sync"

	"rsc.io/omap"
)

// DefaultMemTableSize is the byte-size threshold at which a memtable is
// considered full and a flush is triggered. Chosen over the smaller
// default found elsewhere in the original source, matching the
// production default of the engine that owns it.
const DefaultMemTableSize = 256 * 1024 * 1024

// entry is a memtable value slot: either a live value or a tombstone
// marking a deletion that compaction will eventually drop.
type entry struct {
	value     []byte
	tombstone bool
}

func sizeOf(key string, e entry) int64 {
	return int64(len(key) + len(e.value) + 1)
}

// MemTable is a sorted in-memory key-value map supporting tombstones and
// range iteration, with a running byte-size count used to decide when to
// flush.
type MemTable struct {
	mu        sync.RWMutex
	data      omap.Map[string, entry]
	size      int64
	threshold int64
}

// NewMemTable returns an empty MemTable that reports full once its byte
// size reaches threshold. threshold <= 0 selects DefaultMemTableSize.
func NewMemTable(threshold int64) *MemTable {
	if threshold <= 0 {
		threshold = DefaultMemTableSize
	}
	return &MemTable{threshold: threshold}
}

// Put inserts or replaces key's value. It reports whether the table's size
// is now at or above its threshold.
func (m *MemTable) Put(key string, value []byte) (full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data.Get(key); ok {
		m.size -= sizeOf(key, old)
	}
	e := entry{value: value}
	m.data.Set(key, e)
	m.size += sizeOf(key, e)
	return m.size >= m.threshold
}

// Delete inserts a tombstone for key. It reports whether the table is now
// at or above its size threshold.
func (m *MemTable) Delete(key string) (full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data.Get(key); ok {
		m.size -= sizeOf(key, old)
	}
	e := entry{tombstone: true}
	m.data.Set(key, e)
	m.size += sizeOf(key, e)
	return m.size >= m.threshold
}

// lookupResult distinguishes "no entry at all" from "entry present but
// deleted" so callers can decide whether to keep searching older layers.
type lookupResult int

const (
	lookupMiss lookupResult = iota
	lookupFound
	lookupDeleted
)

// Get looks up key, reporting whether it is present and, if present,
// whether it is a tombstone.
func (m *MemTable) Get(key string) ([]byte, lookupResult) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data.Get(key)
	if !ok {
		return nil, lookupMiss
	}
	if e.tombstone {
		return nil, lookupDeleted
	}
	return e.value, lookupFound
}

// Size returns the current tracked byte size.
func (m *MemTable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Len returns the number of keys (including tombstones) held.
func (m *MemTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for range m.data.All() {
		n++
	}
	return n
}

// kv is a decoded memtable entry paired with its key, used by range and
// full-table iteration.
type kv struct {
	key   string
	entry entry
}

// Range returns the inclusive-range [start, end] entries in sorted order,
// including tombstones (callers decide whether to suppress them).
func (m *MemTable) Range(start, end string) []kv {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kv
	for k, e := range m.data.Scan(start, end) {
		out = append(out, kv{k, e})
	}
	return out
}

// All returns every entry in sorted key order, including tombstones. Used
// when flushing a memtable to an SSTable.
func (m *MemTable) All() []kv {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kv
	for k, e := range m.data.All() {
		out = append(out, kv{k, e})
	}
	return out
}
