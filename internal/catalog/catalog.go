package catalog

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/veloxdb/veloxdb/internal/changestream"
	"github.com/veloxdb/veloxdb/internal/document"
	"github.com/veloxdb/veloxdb/internal/storage"
)

// DefaultDatabase is the database that always exists and can never be
// dropped (§8 boundary behavior).
const DefaultDatabase = "default"

// Catalog is the top-level Database registry: it holds the shared
// storage engine and change stream, and opens/creates catalog.Database
// handles lazily, backed by prefix enumeration over `db:<database>:_meta`
// keys.
type Catalog struct {
	store   *storage.Engine
	stream  *changestream.Stream
	lg      *slog.Logger
	snapDir string

	mu   sync.Mutex
	dbs  map[string]*Database
}

// New returns a Catalog over an already-open store. snapDir, if
// non-empty, is the directory HNSW snapshots are written to
// (vector_index_<collection>.snapshot per database subdirectory).
func New(store *storage.Engine, stream *changestream.Stream, lg *slog.Logger, snapDir string) *Catalog {
	return &Catalog{
		store:   store,
		stream:  stream,
		lg:      lg,
		snapDir: snapDir,
		dbs:     make(map[string]*Database),
	}
}

// Database returns the named database, creating it on first use.
func (cat *Catalog) Database(name string) (*Database, error) {
	if err := document.ValidateName(name); err != nil {
		return nil, err
	}
	cat.mu.Lock()
	defer cat.mu.Unlock()

	if d, ok := cat.dbs[name]; ok {
		return d, nil
	}
	d, err := openDatabase(name, cat.store, cat.stream, cat.lg, cat.databaseSnapDir(name))
	if err != nil {
		return nil, err
	}
	cat.dbs[name] = d
	return d, nil
}

func (cat *Catalog) databaseSnapDir(name string) string {
	if cat.snapDir == "" {
		return ""
	}
	return cat.snapDir + "/" + name
}

// ListDatabases returns the name of every database with a persisted
// `_meta` key, sorted, by scanning the `db:` namespace for `_meta`
// suffixes (§6 persisted state layout).
func (cat *Catalog) ListDatabases() []string {
	rows := cat.store.RangeScan(document.CatalogScanStart, document.CatalogScanEnd)
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		name, ok := databaseNameFromMetaKey(row.Key)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// databaseNameFromMetaKey extracts the database name from a
// `db:<name>:_meta` key, matching document.MetaKey's format.
func databaseNameFromMetaKey(key string) (string, bool) {
	const prefix, suffix = "db:", ":_meta"
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
		return "", false
	}
	return key[len(prefix) : len(key)-len(suffix)], true
}

// DropDatabase deletes every key belonging to name, including its
// `_meta` blob, and evicts any cached Database handle. Dropping
// DefaultDatabase is rejected: it always exists.
func (cat *Catalog) DropDatabase(name string) error {
	if name == DefaultDatabase {
		return &document.ValidationError{Field: "database", Reason: "the default database cannot be dropped"}
	}
	cat.mu.Lock()
	defer cat.mu.Unlock()

	rows := cat.store.RangeScan(document.DatabasePrefix(name), document.DatabasePrefixRangeEnd(name))
	if len(rows) == 0 {
		return &document.ValidationError{Field: "database", Reason: fmt.Sprintf("unknown database %q", name)}
	}
	for _, row := range rows {
		if err := cat.store.Delete(row.Key); err != nil {
			return fmt.Errorf("catalog: drop database %q: %w", name, err)
		}
	}
	delete(cat.dbs, name)
	return nil
}
