package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Options configures an Engine. The zero value selects the documented
// production defaults.
type Options struct {
	MemTableSize     int64         // bytes; <=0 selects DefaultMemTableSize
	WALBatchSize     int           // <=0 selects DefaultWALBatchSize
	WALFlushInterval time.Duration // <=0 selects DefaultWALFlushInterval
	CacheCapacity    int           // <=0 selects DefaultCacheCapacity
	CompactionEvery  time.Duration // <=0 selects DefaultCompactionInterval
	CompactionArity  int           // <=0 selects DefaultCompactionArity
}

func (o Options) withDefaults() Options {
	if o.MemTableSize <= 0 {
		o.MemTableSize = DefaultMemTableSize
	}
	if o.WALBatchSize <= 0 {
		o.WALBatchSize = DefaultWALBatchSize
	}
	if o.WALFlushInterval <= 0 {
		o.WALFlushInterval = DefaultWALFlushInterval
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.CompactionEvery <= 0 {
		o.CompactionEvery = DefaultCompactionInterval
	}
	if o.CompactionArity <= 0 {
		o.CompactionArity = DefaultCompactionArity
	}
	return o
}

// Engine is the LSM storage engine: it owns a WAL, an active and an
// optional flushing memtable, an ordered list of SSTables (oldest first),
// an LRU cache, and a bounded background worker pool that performs flush
// and compaction.
type Engine struct {
	dir  string
	lg   *slog.Logger
	opts Options

	wal   *WAL
	cache *Cache
	pool  *workerPool

	memMu    sync.Mutex // guards active/flushing swap and flushInProgress
	active   *MemTable
	flushing *MemTable
	flushingCond *sync.Cond

	tableMu  sync.RWMutex // guards sstables
	sstables []*SSTable // oldest first
	nextID   int64

	closed bool
	closeMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Open opens or creates an engine rooted at dir: it loads existing
// SSTables, replays the WAL into a fresh active memtable, and starts the
// background flush/compaction worker pool.
func Open(dir string, lg *slog.Logger, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if lg == nil {
		lg = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: open engine dir: %w", err)
	}

	removeIncompleteSSTables(dir, lg)

	tables, err := loadSSTables(dir, lg)
	if err != nil {
		return nil, err
	}

	wal, err := OpenWAL(filepath.Join(dir, "wal.log"), lg, WALOptions{
		BatchSize:     opts.WALBatchSize,
		FlushInterval: opts.WALFlushInterval,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:      dir,
		lg:       lg,
		opts:     opts,
		wal:      wal,
		cache:    NewCache(opts.CacheCapacity),
		active:   NewMemTable(opts.MemTableSize),
		sstables: tables,
		stopCh:   make(chan struct{}),
	}
	e.flushingCond = sync.NewCond(&e.memMu)
	e.pool = newWorkerPool(2)

	records, err := wal.Replay()
	if err != nil {
		wal.Close()
		return nil, err
	}
	for _, r := range records {
		switch r.Op {
		case OpPut:
			e.active.Put(string(r.Key), r.Value)
		case OpDelete:
			e.active.Delete(string(r.Key))
		}
	}
	lg.Info("engine recovered", "dir", dir, "sstables", len(tables), "wal_records", len(records))

	e.wg.Add(1)
	go e.compactionLoop()

	return e, nil
}

func removeIncompleteSSTables(dir string, lg *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	bases := map[string]map[string]bool{}
	for _, ent := range entries {
		name := ent.Name()
		for _, ext := range []string{".data", ".index", ".bloom"} {
			if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
				base := name[:len(name)-len(ext)]
				if bases[base] == nil {
					bases[base] = map[string]bool{}
				}
				bases[base][ext] = true
			}
		}
	}
	for base, exts := range bases {
		if len(exts) != 3 {
			lg.Warn("removing incomplete sstable", "base", base)
			RemoveIncompleteSSTable(filepath.Join(dir, base))
		}
	}
}

func loadSSTables(dir string, lg *slog.Logger) ([]*SSTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list dir: %w", err)
	}
	seen := map[string]bool{}
	var bases []string
	for _, ent := range entries {
		name := ent.Name()
		const ext = ".data"
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			base := name[:len(name)-len(ext)]
			if !seen[base] {
				seen[base] = true
				bases = append(bases, base)
			}
		}
	}
	sort.Strings(bases)

	var tables []*SSTable
	for _, base := range bases {
		t, err := OpenSSTable(filepath.Join(dir, base), lg)
		if err != nil {
			lg.Warn("skipping unreadable sstable", "base", base, "err", err)
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// Put writes key=value: appends to the WAL, inserts into the active
// memtable, updates the cache, and triggers a non-blocking flush if the
// active memtable is now full.
func (e *Engine) Put(key string, value []byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.wal.Append(OpPut, []byte(key), value); err != nil {
		return err
	}
	e.cache.Put(key, value)
	full := e.putActive(key, value)
	if full {
		e.triggerFlush()
	}
	return nil
}

// PutBatch writes every item as a single WAL batch and under one memtable
// acquisition, so they share a single group commit.
func (e *Engine) PutBatch(keys []string, values [][]byte) error {
	if e.isClosed() {
		return ErrClosed
	}
	ops := make([]Op, len(keys))
	kb := make([][]byte, len(keys))
	for i := range keys {
		ops[i] = OpPut
		kb[i] = []byte(keys[i])
	}
	if err := e.wal.AppendBatch(ops, kb, values); err != nil {
		return err
	}
	full := false
	e.memMu.Lock()
	for i := range keys {
		if e.active.Put(keys[i], values[i]) {
			full = true
		}
		e.cache.Put(keys[i], values[i])
	}
	e.memMu.Unlock()
	if full {
		e.triggerFlush()
	}
	return nil
}

// Delete appends a DELETE record to the WAL, inserts a tombstone into the
// active memtable, and invalidates the cache entry.
func (e *Engine) Delete(key string) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.wal.Append(OpDelete, []byte(key), nil); err != nil {
		return err
	}
	e.cache.Invalidate(key)
	full := e.deleteActive(key)
	if full {
		e.triggerFlush()
	}
	return nil
}

func (e *Engine) putActive(key string, value []byte) bool {
	e.memMu.Lock()
	defer e.memMu.Unlock()
	return e.active.Put(key, value)
}

func (e *Engine) deleteActive(key string) bool {
	e.memMu.Lock()
	defer e.memMu.Unlock()
	return e.active.Delete(key)
}

// Get searches, in order, the active memtable, the flushing memtable, the
// LRU cache, and the SSTables newest to oldest (each gated by its bloom
// filter); a tombstone seen at any layer short-circuits to absent.
func (e *Engine) Get(key string) ([]byte, bool) {
	e.memMu.Lock()
	active, flushing := e.active, e.flushing
	e.memMu.Unlock()

	if v, r := active.Get(key); r == lookupFound {
		return v, true
	} else if r == lookupDeleted {
		return nil, false
	}

	if flushing != nil {
		if v, r := flushing.Get(key); r == lookupFound {
			return v, true
		} else if r == lookupDeleted {
			return nil, false
		}
	}

	if v, ok := e.cache.Get(key); ok {
		return v, true
	}

	e.tableMu.RLock()
	tables := e.sstables
	e.tableMu.RUnlock()

	for i := len(tables) - 1; i >= 0; i-- {
		v, r, err := tables[i].Get(key)
		if err != nil {
			e.lg.Warn("sstable get failed", "err", err)
			continue
		}
		switch r {
		case lookupFound:
			e.cache.Put(key, v)
			return v, true
		case lookupDeleted:
			return nil, false
		}
	}
	return nil, false
}

// RangeScan merges range iteration over both memtables and all SSTables;
// for duplicate keys the highest-priority layer wins (active > flushing >
// newest-to-oldest SSTable); tombstones suppress output.
func (e *Engine) RangeScan(start, end string) []KV {
	e.memMu.Lock()
	active, flushing := e.active, e.flushing
	e.memMu.Unlock()

	merged := map[string]entry{}
	order := []string{}
	apply := func(k string, v entry) {
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] = v
	}

	e.tableMu.RLock()
	tables := e.sstables
	e.tableMu.RUnlock()

	// Oldest to newest so later layers overwrite earlier ones in `merged`.
	for _, t := range tables {
		items, err := t.rangeScanRaw(start, end)
		if err != nil {
			e.lg.Warn("sstable range scan failed", "err", err)
			continue
		}
		for _, it := range items {
			apply(it.key, it.entry)
		}
	}
	if flushing != nil {
		for _, it := range flushing.Range(start, end) {
			apply(it.key, it.entry)
		}
	}
	for _, it := range active.Range(start, end) {
		apply(it.key, it.entry)
	}

	sort.Strings(order)
	var out []KV
	for _, k := range order {
		e := merged[k]
		if e.tombstone {
			continue
		}
		out = append(out, KV{Key: k, Value: e.value})
	}
	return out
}

// KV is a single key-value pair returned by RangeScan.
type KV struct {
	Key   string
	Value []byte
}

func (e *Engine) isClosed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// triggerFlush implements the dual-memtable flush protocol: if a flush is
// already in progress the caller waits (backpressure); otherwise active
// becomes flushing, a fresh empty active is installed, and the flush is
// submitted to the worker pool.
func (e *Engine) triggerFlush() {
	e.memMu.Lock()
	for e.flushing != nil {
		e.flushingCond.Wait()
	}
	toFlush := e.active
	e.flushing = toFlush
	e.active = NewMemTable(e.opts.MemTableSize)
	e.memMu.Unlock()

	e.pool.Submit(func() { e.doFlush(toFlush) })
}

func (e *Engine) doFlush(mt *MemTable) {
	items := mt.All()
	e.nextID++
	base := filepath.Join(e.dir, fmt.Sprintf("sstable_%020d", time.Now().UnixNano()+e.nextID))
	table, err := CreateSSTable(base, items, e.lg)
	if err != nil {
		e.lg.Error("flush failed", "err", err)
		// Put the unflushed entries back into the active memtable (a newer
		// write to the same key there wins) so they stay readable and the
		// next flush trigger writes them out; clear the in-progress marker
		// so writers are not wedged forever.
		e.memMu.Lock()
		for _, it := range items {
			if _, r := e.active.Get(it.key); r != lookupMiss {
				continue
			}
			if it.entry.tombstone {
				e.active.Delete(it.key)
			} else {
				e.active.Put(it.key, it.entry.value)
			}
		}
		e.flushing = nil
		e.flushingCond.Broadcast()
		e.memMu.Unlock()
		return
	}

	e.tableMu.Lock()
	e.sstables = append(e.sstables, table)
	e.tableMu.Unlock()

	e.memMu.Lock()
	e.flushing = nil
	e.flushingCond.Broadcast()
	e.memMu.Unlock()

	e.lg.Info("flush complete", "base", base, "keys", len(items))
}

// Stats is a snapshot of engine-level observability counters.
type Stats struct {
	ActiveMemTableBytes   int64
	FlushingMemTableBytes int64
	FlushInProgress       bool
	SSTableCount          int
	TotalKeys             int
	Cache                 CacheStats
}

// Stats returns a snapshot of memtable sizes, the flush-in-progress flag,
// SSTable count, total keys, and cache stats.
func (e *Engine) Stats() Stats {
	e.memMu.Lock()
	active, flushing := e.active, e.flushing
	e.memMu.Unlock()

	e.tableMu.RLock()
	tables := append([]*SSTable(nil), e.sstables...)
	e.tableMu.RUnlock()

	total := active.Len()
	var flushingBytes int64
	if flushing != nil {
		total += flushing.Len()
		flushingBytes = flushing.Size()
	}
	for _, t := range tables {
		total += len(t.index)
	}

	return Stats{
		ActiveMemTableBytes:   active.Size(),
		FlushingMemTableBytes: flushingBytes,
		FlushInProgress:       flushing != nil,
		SSTableCount:          len(tables),
		TotalKeys:             total,
		Cache:                 e.cache.Stats(),
	}
}

// Close stops the compaction worker, drains any flushing memtable, flushes
// the active memtable if non-empty, and syncs and closes the WAL. SSTables
// hold no open file handles between reads, so there is nothing to close
// for them. It is idempotent.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	e.memMu.Lock()
	for e.flushing != nil {
		e.flushingCond.Wait()
	}
	active := e.active
	e.memMu.Unlock()

	if active.Len() > 0 {
		e.doFlush(active)
	}

	e.pool.Close()

	if err := e.wal.Sync(); err != nil {
		e.lg.Warn("close: wal sync failed", "err", err)
	}
	return e.wal.Close()
}
