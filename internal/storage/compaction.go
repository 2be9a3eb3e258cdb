package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCompactionInterval is how often the background worker checks
// whether compaction is due.
const DefaultCompactionInterval = 10 * time.Second

// DefaultCompactionArity is the SSTable count that triggers a compaction
// pass.
const DefaultCompactionArity = 3

// workerPool is a small bounded pool used for both flush and compaction
// tasks, adapted from the teacher's semaphore-bounded in-memory task
// queue.
type workerPool struct {
	sem  chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit runs fn on a pool goroutine once a slot is free. It blocks the
// caller only long enough to acquire a slot, not for fn's duration.
func (p *workerPool) Submit(fn func()) {
	p.wg.Add(1)
	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		fn()
	}()
}

// Close waits for all submitted tasks to finish.
func (p *workerPool) Close() {
	p.wg.Wait()
}

// compactionLoop periodically checks whether the SSTable count has
// reached the compaction arity and, if so, runs one compaction pass. It
// exits when the engine's stopCh is closed.
func (e *Engine) compactionLoop() {
	defer e.wg.Done()
	t := time.NewTicker(e.opts.CompactionEvery)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.maybeCompact()
		}
	}
}

func (e *Engine) maybeCompact() {
	e.tableMu.RLock()
	snapshot := append([]*SSTable(nil), e.sstables...)
	e.tableMu.RUnlock()

	if len(snapshot) < e.opts.CompactionArity {
		return
	}
	e.pool.Submit(func() { e.compact(snapshot) })
}

// compact reads the snapshotted tables in parallel, merges them into a
// single sorted map (newest snapshot entry wins on key collision,
// tombstones dropped since compaction is total), writes one new SSTable,
// atomically swaps the engine's SSTable list, and deletes the superseded
// files. It never holds a lock during I/O; readers see either the pre- or
// post-compaction list.
func (e *Engine) compact(snapshot []*SSTable) {
	merged := make([]map[string]entry, len(snapshot))

	g := new(errgroup.Group)
	for i, t := range snapshot {
		i, t := i, t
		g.Go(func() error {
			items, err := t.AllEntries()
			if err != nil {
				return fmt.Errorf("compaction read %s: %w", t.base, err)
			}
			m := make(map[string]entry, len(items))
			for _, it := range items {
				m[it.key] = it.entry
			}
			merged[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.lg.Warn("compaction aborted, retrying later", "err", err)
		return
	}

	out := map[string]entry{}
	for _, m := range merged {
		for k, v := range m {
			out[k] = v // later (newer) snapshot index overwrites
		}
	}

	var items []kv
	for k, v := range out {
		if v.tombstone {
			continue
		}
		items = append(items, kv{key: k, entry: v})
	}

	base := filepath.Join(e.dir, fmt.Sprintf("compacted_%020d", time.Now().UnixNano()))
	newTable, err := CreateSSTable(base, items, e.lg)
	if err != nil {
		e.lg.Warn("compaction write failed, output discarded", "err", err)
		return
	}

	e.tableMu.Lock()
	// Keep any tables appended after the snapshot was taken (e.g. a flush
	// that landed mid-compaction).
	var kept []*SSTable
	snapSet := make(map[*SSTable]bool, len(snapshot))
	for _, t := range snapshot {
		snapSet[t] = true
	}
	for _, t := range e.sstables {
		if !snapSet[t] {
			kept = append(kept, t)
		}
	}
	e.sstables = append([]*SSTable{newTable}, kept...)
	e.tableMu.Unlock()

	for _, t := range snapshot {
		t.Remove()
	}
	e.lg.Info("compaction complete", "base", base, "tables_merged", len(snapshot), "keys", len(items))
}
