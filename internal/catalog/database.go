// Package catalog implements the Database/Catalog component: naming and
// lifecycle for databases and the collections within them, backed by a
// `_meta` JSON blob per database (§3, §4 item 10).
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/veloxdb/veloxdb/internal/changestream"
	"github.com/veloxdb/veloxdb/internal/document"
	"github.com/veloxdb/veloxdb/internal/storage"
	"github.com/veloxdb/veloxdb/internal/vectorcollection"
	"github.com/veloxdb/veloxdb/internal/vectorindex"
)

// vectorMeta records the configuration of a vector collection, persisted
// so it survives a reopen.
type vectorMeta struct {
	Metric vectorindex.Metric `json:"metric"`
	M      int                `json:"m"`
	Ef     int                `json:"ef_construction"`
}

// collectionMeta records one collection's durable configuration: its
// indexed fields and, if it is a vector collection, its vector metric
// and HNSW build parameters.
type collectionMeta struct {
	Name          string      `json:"name"`
	IndexedFields []string    `json:"indexed_fields"`
	Vector        *vectorMeta `json:"vector,omitempty"`
}

// meta is the JSON blob stored at document.MetaKey(name).
type meta struct {
	Collections map[string]*collectionMeta `json:"collections"`
}

// Database is one named database: a lazily-populated set of document
// and vector collections sharing the catalog's storage engine and
// change stream.
type Database struct {
	name    string
	store   *storage.Engine
	stream  *changestream.Stream
	lg      *slog.Logger
	snapDir string

	mu    sync.Mutex
	meta  meta
	colls map[string]*document.Collection
	vecs  map[string]*vectorcollection.VectorCollection
}

func openDatabase(name string, store *storage.Engine, stream *changestream.Stream, lg *slog.Logger, snapDir string) (*Database, error) {
	if snapDir != "" {
		if err := os.MkdirAll(snapDir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create snapshot directory %s: %w", snapDir, err)
		}
	}
	d := &Database{
		name:    name,
		store:   store,
		stream:  stream,
		lg:      lg,
		snapDir: snapDir,
		colls:   make(map[string]*document.Collection),
		vecs:    make(map[string]*vectorcollection.VectorCollection),
	}
	raw, ok := store.Get(document.MetaKey(name))
	if !ok {
		d.meta = meta{Collections: make(map[string]*collectionMeta)}
		if err := d.persistMeta(); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err := json.Unmarshal(raw, &d.meta); err != nil {
		return nil, fmt.Errorf("catalog: decode database %q metadata: %w", name, err)
	}
	if d.meta.Collections == nil {
		d.meta.Collections = make(map[string]*collectionMeta)
	}
	return d, nil
}

func (d *Database) persistMeta() error {
	data, err := json.Marshal(d.meta)
	if err != nil {
		return fmt.Errorf("catalog: encode database %q metadata: %w", d.name, err)
	}
	return d.store.Put(document.MetaKey(d.name), data)
}

// Name returns the database's name.
func (d *Database) Name() string { return d.name }

// Collection returns the named document collection, creating it (and
// recording it in the database's metadata) on first use. Reopening an
// existing collection rebuilds its secondary indexes and doc count by
// scanning the collection's key range, per §3's "lazily repopulated by
// scanning" rule.
func (d *Database) Collection(name string) (*document.Collection, error) {
	if err := document.ValidateName(name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.collectionLocked(name)
}

// CreateIndex builds a secondary index on field for the named collection
// and records it in the database's metadata so it is rebuilt on reopen.
func (d *Database) CreateIndex(collection, field string) error {
	c, err := d.Collection(collection)
	if err != nil {
		return err
	}
	if err := c.CreateIndex(field); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	cm := d.meta.Collections[collection]
	for _, f := range cm.IndexedFields {
		if f == field {
			return nil
		}
	}
	cm.IndexedFields = append(cm.IndexedFields, field)
	return d.persistMeta()
}

// VectorCollection returns the named vector collection, creating it (and
// the underlying document collection) on first use. A collection's
// vector metric and HNSW parameters are fixed on first creation; later
// calls ignore their metric/m/ef arguments and return the existing
// instance, matching §4.9's "fixed on first write" dimensionality rule
// extended to index configuration.
func (d *Database) VectorCollection(name string, metric vectorindex.Metric, m, ef int) (*vectorcollection.VectorCollection, error) {
	if err := document.ValidateName(name); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if vc, ok := d.vecs[name]; ok {
		return vc, nil
	}

	doc, err := d.collectionLocked(name)
	if err != nil {
		return nil, err
	}

	cm := d.meta.Collections[name]
	if cm.Vector == nil {
		cm.Vector = &vectorMeta{Metric: metric, M: m, Ef: ef}
		if err := d.persistMeta(); err != nil {
			return nil, err
		}
	} else {
		metric, m, ef = cm.Vector.Metric, cm.Vector.M, cm.Vector.Ef
	}

	vc, err := vectorcollection.Open(d.store, doc, d.name, name, metric, m, ef, d.snapshotPath(name), d.lg)
	if err != nil {
		return nil, err
	}
	d.vecs[name] = vc
	return vc, nil
}

// collectionLocked is Collection's body, callable while d.mu is already
// held (VectorCollection needs both the document collection and its own
// lock in one critical section to avoid racing collection creation).
func (d *Database) collectionLocked(name string) (*document.Collection, error) {
	if c, ok := d.colls[name]; ok {
		return c, nil
	}
	cm, existed := d.meta.Collections[name]
	if !existed {
		cm = &collectionMeta{Name: name}
		d.meta.Collections[name] = cm
		if err := d.persistMeta(); err != nil {
			return nil, err
		}
	}
	rows := d.store.RangeScan(document.DocKeyPrefix(d.name, name), document.DocKeyRangeEnd(d.name, name))
	c := document.NewCollection(d.store, d.name, name, document.NewIDGenerator(), d.stream, len(rows))
	for _, field := range cm.IndexedFields {
		if err := c.CreateIndex(field); err != nil {
			return nil, err
		}
	}
	d.colls[name] = c
	return c, nil
}

func (d *Database) snapshotPath(collection string) string {
	if d.snapDir == "" {
		return ""
	}
	return filepath.Join(d.snapDir, fmt.Sprintf("vector_index_%s.snapshot", collection))
}

// ListCollections returns the names of every collection recorded in the
// database's metadata, sorted.
func (d *Database) ListCollections() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.meta.Collections))
	for name := range d.meta.Collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DropCollection removes a collection's documents, indexes, and vectors
// from storage and from the database's metadata, and emits a
// DROP_COLLECTION change event.
func (d *Database) DropCollection(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.meta.Collections[name]; !ok {
		return &document.ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", name)}
	}

	cm := d.meta.Collections[name]
	ranges := [][2]string{
		{document.DocKeyPrefix(d.name, name), document.DocKeyRangeEnd(d.name, name)},
		{document.VectorKeyPrefix(d.name, name), document.VectorKeyRangeEnd(d.name, name)},
	}
	for _, field := range cm.IndexedFields {
		prefix := document.IndexKeyPrefix(d.name, name, field)
		ranges = append(ranges, [2]string{prefix, prefix + "\xff"})
	}
	for _, r := range ranges {
		for _, row := range d.store.RangeScan(r[0], r[1]) {
			if err := d.store.Delete(row.Key); err != nil {
				return fmt.Errorf("catalog: drop collection %q: %w", name, err)
			}
		}
	}

	delete(d.meta.Collections, name)
	delete(d.colls, name)
	delete(d.vecs, name)
	if err := d.persistMeta(); err != nil {
		return err
	}

	if d.stream != nil {
		d.stream.Emit(document.Event{Type: document.EventDropCollection, Database: d.name, Collection: name})
	}
	return nil
}

