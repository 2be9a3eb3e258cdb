// Package veloxdb is an embeddable document database: an LSM-tree key/value
// engine underneath a MongoDB-style document/collection layer, an HNSW
// vector index for similarity search, and a change-stream broadcaster for
// subscribers. See SPEC_FULL.md for the full component design.
package veloxdb

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/veloxdb/veloxdb/internal/catalog"
	"github.com/veloxdb/veloxdb/internal/changestream"
	"github.com/veloxdb/veloxdb/internal/document"
	"github.com/veloxdb/veloxdb/internal/storage"
	"github.com/veloxdb/veloxdb/internal/vectorcollection"
	"github.com/veloxdb/veloxdb/internal/vectorindex"
)

// Re-exported types so callers never need to import an internal package
// directly.
type (
	Document   = document.Document
	Value      = document.Value
	Filter     = document.Filter
	Plan       = document.Plan
	Event      = document.Event
	EventType  = document.EventType
	Collection = document.Collection

	VectorCollection = vectorcollection.VectorCollection
	VectorResult     = vectorcollection.Result
	Vector           = vectorindex.Vector
	Metric           = vectorindex.Metric

	Database   = catalog.Database
	Handle     = changestream.Handle
	Stats      = storage.Stats
)

// Value constructors, re-exported so callers building Document/Filter
// values never need to import the internal document package.
var (
	NullValue   = document.Null
	BoolValue   = document.Bool
	IntValue    = document.Int
	FloatValue  = document.Float
	StringValue = document.String
	ArrayValue  = document.Array
	ObjectValue = document.Object
)

// Change event kinds, re-exported for callers subscribing with On/Watch.
const (
	EventInsert         = document.EventInsert
	EventUpdate         = document.EventUpdate
	EventDelete         = document.EventDelete
	EventDropCollection = document.EventDropCollection
)

// Vector distance metrics, re-exported for VectorCollection callers.
const (
	MetricCosine     = vectorindex.MetricCosine
	MetricEuclidean  = vectorindex.MetricEuclidean
	MetricDotProduct = vectorindex.MetricDotProduct
)

// DefaultDatabase is the database that always exists and cannot be
// dropped.
const DefaultDatabase = catalog.DefaultDatabase

// Options configures an open VeloxDB instance. The zero value selects
// the storage engine's documented production defaults. HNSW snapshots are
// always written under <dir>/vectors.
type Options struct {
	Storage storage.Options
	Logger  *slog.Logger
}

// VeloxDB is the top-level handle over one data directory: a storage
// engine, a change-stream broadcaster, and the database/collection
// catalog built on top of them.
type VeloxDB struct {
	dir     string
	store   *storage.Engine
	stream  *changestream.Stream
	catalog *catalog.Catalog
	lg      *slog.Logger
}

// Open opens (or creates) a VeloxDB instance rooted at dir, replaying its
// WAL and loading its SSTables per §4.5, and ensures the default database
// exists.
func Open(dir string, opts Options) (*VeloxDB, error) {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	store, err := storage.Open(dir, lg, opts.Storage)
	if err != nil {
		return nil, fmt.Errorf("veloxdb: open %s: %w", dir, err)
	}
	stream := changestream.New(lg)
	cat := catalog.New(store, stream, lg, filepath.Join(dir, "vectors"))

	v := &VeloxDB{dir: dir, store: store, stream: stream, catalog: cat, lg: lg}
	if _, err := v.catalog.Database(DefaultDatabase); err != nil {
		store.Close()
		return nil, fmt.Errorf("veloxdb: open default database: %w", err)
	}
	return v, nil
}

// Database returns the named database, creating it on first use.
func (v *VeloxDB) Database(name string) (*Database, error) {
	return v.catalog.Database(name)
}

// ListDatabases returns the name of every database that has been created.
func (v *VeloxDB) ListDatabases() []string {
	return v.catalog.ListDatabases()
}

// DropDatabase deletes every key belonging to name. Dropping
// DefaultDatabase is rejected.
func (v *VeloxDB) DropDatabase(name string) error {
	return v.catalog.DropDatabase(name)
}

// Collection returns the named document collection within database,
// creating both on first use.
func (v *VeloxDB) Collection(database, name string) (*Collection, error) {
	db, err := v.catalog.Database(database)
	if err != nil {
		return nil, err
	}
	return db.Collection(name)
}

// VectorCollection returns the named vector collection within database,
// creating it (with the given metric and HNSW parameters) on first use.
// m and ef select vectorindex.DefaultM / DefaultEfConstruction when <= 0.
func (v *VeloxDB) VectorCollection(database, name string, metric Metric, m, ef int) (*VectorCollection, error) {
	db, err := v.catalog.Database(database)
	if err != nil {
		return nil, err
	}
	if m <= 0 {
		m = vectorindex.DefaultM
	}
	if ef <= 0 {
		ef = vectorindex.DefaultEfConstruction
	}
	return db.VectorCollection(name, metric, m, ef)
}

// DropCollection removes a collection (document or vector) and its
// indexes and vectors from database, and emits a DROP_COLLECTION event.
func (v *VeloxDB) DropCollection(database, name string) error {
	db, err := v.catalog.Database(database)
	if err != nil {
		return err
	}
	return db.DropCollection(name)
}

// ListCollections returns the names of every collection in database.
func (v *VeloxDB) ListCollections(database string) ([]string, error) {
	db, err := v.catalog.Database(database)
	if err != nil {
		return nil, err
	}
	return db.ListCollections(), nil
}

// On registers fn for events of eventType, scoped to one collection (or
// every collection, if collection is ""). Per §5's ordering guarantee,
// an event may be observed for a write that has entered the memtable but
// is not yet fsynced to the WAL.
func (v *VeloxDB) On(eventType EventType, collection string, fn changestream.Callback) Handle {
	return v.stream.On(eventType, collection, fn)
}

// Off removes a callback previously registered with On.
func (v *VeloxDB) Off(h Handle) {
	v.stream.Off(h)
}

// Watch returns a channel of change events for collection (or every
// collection, if collection is "") and a cancel function. The channel is
// bounded; a slow consumer drops events rather than stalling writers.
func (v *VeloxDB) Watch(collection string, bufferSize int) (<-chan Event, func()) {
	return v.stream.Watch(collection, bufferSize)
}

// Stats returns a snapshot of the storage engine's internal state:
// memtable sizes, SSTable count, and cache hit/miss counters.
func (v *VeloxDB) Stats() Stats {
	return v.store.Stats()
}

// Close flushes and closes the storage engine, stopping its background
// compaction and flush workers.
func (v *VeloxDB) Close() error {
	return v.store.Close()
}
