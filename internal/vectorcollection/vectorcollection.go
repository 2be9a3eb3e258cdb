// Package vectorcollection wraps a document collection with an HNSW
// vector index, implementing insert/search/build operations over
// embedding vectors attached to documents (§4.9).
package vectorcollection

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/veloxdb/veloxdb/internal/document"
	"github.com/veloxdb/veloxdb/internal/storage"
	"github.com/veloxdb/veloxdb/internal/vectorindex"
)

// snapshotEvery is how many inserted vectors trigger a background HNSW
// snapshot save, per §4.9.
const snapshotEvery = 1000

// Result is one search hit: a document and its similarity to the query.
type Result struct {
	DocID      string
	Similarity float64
	Document   document.Document
}

// VectorCollection pairs a document.Collection with an HNSW index over
// one fixed vector dimensionality, established by the first insert.
type VectorCollection struct {
	db, name string
	store    *storage.Engine
	coll     *document.Collection
	lg       *slog.Logger
	snapPath string

	mu     sync.RWMutex
	index  *vectorindex.HNSW
	metric vectorindex.Metric
	m, ef  int
	dim    int

	inserted atomic.Int64
}

// New wraps an existing collection with a fresh (empty) HNSW index.
// Dimensionality is established lazily by the first Insert/InsertBatch
// call.
func New(store *storage.Engine, coll *document.Collection, db, name string, metric vectorindex.Metric, m, ef int, snapPath string, lg *slog.Logger) (*VectorCollection, error) {
	idx, err := vectorindex.New(metric, m, ef)
	if err != nil {
		return nil, err
	}
	return &VectorCollection{
		db:       db,
		name:     name,
		store:    store,
		coll:     coll,
		lg:       lg,
		snapPath: snapPath,
		index:    idx,
		metric:   metric,
		m:        m,
		ef:       ef,
	}, nil
}

// Open restores a VectorCollection across a process restart (§4.8
// Persistence, §4.9): it loads the HNSW graph from snapPath's snapshot if
// one exists and holds as many live vectors as the engine stores for
// (db, name), and otherwise rebuilds the graph by rescanning every vector
// key already stored for (db, name) — the "missing or invalid snapshot"
// fallback §4.8 requires. A loaded snapshot keeps its own metric and HNSW
// parameters and metric/m/ef are ignored; a rebuild uses metric/m/ef.
func Open(store *storage.Engine, coll *document.Collection, db, name string, metric vectorindex.Metric, m, ef int, snapPath string, lg *slog.Logger) (*VectorCollection, error) {
	if snapPath != "" {
		idx, err := vectorindex.Load(snapPath)
		if err == nil {
			stored := len(store.RangeScan(document.VectorKeyPrefix(db, name), document.VectorKeyRangeEnd(db, name)))
			if idx.Len() != stored {
				err = fmt.Errorf("snapshot holds %d vectors, engine holds %d", idx.Len(), stored)
			}
		}
		if err == nil {
			vc := &VectorCollection{
				db:       db,
				name:     name,
				store:    store,
				coll:     coll,
				lg:       lg,
				snapPath: snapPath,
				index:    idx,
				metric:   idx.Metric(),
				m:        idx.M(),
				ef:       idx.EfConstruction(),
				dim:      idx.Dim(),
			}
			return vc, nil
		}
		if !errors.Is(err, os.ErrNotExist) && lg != nil {
			lg.Warn("hnsw snapshot load failed, rebuilding from engine scan", "path", snapPath, "error", err)
		}
	}

	vc, err := New(store, coll, db, name, metric, m, ef, snapPath, lg)
	if err != nil {
		return nil, err
	}
	if _, err := vc.BuildIndex(m, ef); err != nil {
		return nil, fmt.Errorf("vectorcollection: rebuild from engine scan: %w", err)
	}
	return vc, nil
}

func (vc *VectorCollection) checkDimension(vec vectorindex.Vector) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.dim == 0 {
		vc.dim = len(vec)
		return nil
	}
	if len(vec) != vc.dim {
		return &document.ValidationError{
			Field:  "vector",
			Reason: fmt.Sprintf("expected dimension %d, got %d", vc.dim, len(vec)),
		}
	}
	return nil
}

// Insert stores data as a document, attaches vec to it, and adds it to
// the HNSW index.
func (vc *VectorCollection) Insert(data document.Document, vec vectorindex.Vector) (document.Document, error) {
	if err := vc.checkDimension(vec); err != nil {
		return nil, err
	}
	doc, err := vc.coll.Insert(data)
	if err != nil {
		return nil, err
	}
	if err := vc.store.Put(document.VectorKey(vc.db, vc.name, doc.ID()), vec.Encode()); err != nil {
		return nil, fmt.Errorf("vectorcollection: store vector: %w", err)
	}

	vc.mu.Lock()
	vc.index.Insert(doc.ID(), vec)
	vc.mu.Unlock()

	if vc.inserted.Add(1)%snapshotEvery == 0 {
		go vc.snapshotAsync()
	}
	return doc, nil
}

// InsertBatch validates every vector's dimension, writes the documents in
// one engine batch and their vectors in a second, and batch-adds to the
// HNSW index.
// Returns one error per item (nil on success), matching the per-item
// success/failure contract of §4.9.
func (vc *VectorCollection) InsertBatch(items []document.Document, vecs []vectorindex.Vector) ([]document.Document, []error) {
	errs := make([]error, len(items))
	validData := make([]document.Document, 0, len(items))
	validVecs := make([]vectorindex.Vector, 0, len(items))
	validIdx := make([]int, 0, len(items))

	for i, v := range vecs {
		if err := vc.checkDimension(v); err != nil {
			errs[i] = err
			continue
		}
		validData = append(validData, items[i])
		validVecs = append(validVecs, v)
		validIdx = append(validIdx, i)
	}

	docs, err := vc.coll.InsertMany(validData)
	if err != nil {
		for _, i := range validIdx {
			errs[i] = err
		}
		return nil, errs
	}

	keys := make([]string, len(docs))
	values := make([][]byte, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		keys[i] = document.VectorKey(vc.db, vc.name, doc.ID())
		values[i] = validVecs[i].Encode()
		ids[i] = doc.ID()
	}
	if err := vc.store.PutBatch(keys, values); err != nil {
		for _, i := range validIdx {
			errs[i] = err
		}
		return nil, errs
	}

	vc.mu.Lock()
	vc.index.InsertBatch(ids, validVecs)
	vc.mu.Unlock()

	vc.inserted.Add(int64(len(docs)))

	out := make([]document.Document, len(items))
	for j, i := range validIdx {
		out[i] = docs[j]
	}
	return out, errs
}

// Delete removes the document (and its vector key) and logically
// deletes it from the HNSW index.
func (vc *VectorCollection) Delete(docID string) error {
	if err := vc.coll.Delete(docID); err != nil {
		return err
	}
	vc.mu.Lock()
	vc.index.Delete(docID)
	vc.mu.Unlock()
	return nil
}

// Search validates the query dimension, runs the HNSW search, fetches
// matching documents, and optionally applies a metadata filter,
// returning results ordered by descending similarity.
func (vc *VectorCollection) Search(query vectorindex.Vector, k int, filter document.Filter) ([]Result, error) {
	vc.mu.RLock()
	if vc.dim != 0 && len(query) != vc.dim {
		vc.mu.RUnlock()
		return nil, &document.ValidationError{
			Field:  "vector",
			Reason: fmt.Sprintf("expected dimension %d, got %d", vc.dim, len(query)),
		}
	}
	neighbors := vc.index.Search(query, k)
	idx := vc.index
	vc.mu.RUnlock()

	out := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		doc, ok, err := vc.coll.FindByID(n.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filter != nil {
			matched, err := document.Match(doc, filter)
			if err != nil {
				return nil, err
			}
			if !matched {
				continue
			}
		}
		out = append(out, Result{
			DocID:      n.ID,
			Similarity: idx.Similarity(n.Distance),
			Document:   doc,
		})
	}
	return out, nil
}

// BuildIndex drops the current in-memory index and rebuilds it from
// every vector currently stored in the engine, optionally with new M /
// ef_construction parameters (0 keeps the current value). Returns the
// number of vectors indexed.
func (vc *VectorCollection) BuildIndex(m, ef int) (int, error) {
	vc.mu.Lock()
	if m <= 0 {
		m = vc.m
	}
	if ef <= 0 {
		ef = vc.ef
	}
	metric := vc.metric
	vc.mu.Unlock()

	rows := vc.store.RangeScan(document.VectorKeyPrefix(vc.db, vc.name), document.VectorKeyRangeEnd(vc.db, vc.name))
	type pair struct {
		id  string
		vec vectorindex.Vector
	}
	pairs := make([]pair, 0, len(rows))
	prefixLen := len(document.VectorKeyPrefix(vc.db, vc.name))
	for _, row := range rows {
		vec, err := vectorindex.DecodeVector(row.Value)
		if err != nil {
			return 0, fmt.Errorf("vectorcollection: decode vector %q: %w", row.Key, err)
		}
		pairs = append(pairs, pair{id: row.Key[prefixLen:], vec: vec})
	}

	rebuilt, err := vectorindex.Rebuild(metric, m, ef, func(yield func(id string, vec vectorindex.Vector) bool) {
		for _, p := range pairs {
			if !yield(p.id, p.vec) {
				return
			}
		}
	})
	if err != nil {
		return 0, err
	}

	vc.mu.Lock()
	vc.index = rebuilt
	vc.m, vc.ef = m, ef
	if len(pairs) > 0 {
		vc.dim = len(pairs[0].vec)
	}
	vc.mu.Unlock()

	if vc.snapPath != "" {
		if err := rebuilt.Save(vc.snapPath, vc.lg); err != nil && vc.lg != nil {
			vc.lg.Warn("hnsw snapshot save failed after rebuild", "error", err)
		}
	}
	return len(pairs), nil
}

func (vc *VectorCollection) snapshotAsync() {
	if vc.snapPath == "" {
		return
	}
	vc.mu.RLock()
	idx := vc.index
	vc.mu.RUnlock()
	if err := idx.Save(vc.snapPath, vc.lg); err != nil && vc.lg != nil {
		vc.lg.Warn("hnsw periodic snapshot failed", "error", err)
	}
}

// Len returns the number of live vectors in the index.
func (vc *VectorCollection) Len() int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.index.Len()
}
