package document

import (
	"fmt"
	"math"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/veloxdb/veloxdb/internal/storage"
)

// engineStore is the subset of the storage engine the document layer
// depends on, kept narrow so tests can substitute a fake.
type engineStore interface {
	Put(key string, value []byte) error
	PutBatch(keys []string, values [][]byte) error
	Get(key string) ([]byte, bool)
	Delete(key string) error
	RangeScan(start, end string) []storage.KV
}

// indexValueString renders a Value as the sortable string used as the
// <value> component of an index key (§3). Strings are stored verbatim
// (prefixed to avoid collisions across kinds); numbers use a
// bit-twiddled hex encoding so lexicographic key order matches numeric
// order, which range_lookup depends on. Null and container values are
// never indexed (callers skip them before calling Add).
func indexValueString(v Value) (string, error) {
	switch v.Kind() {
	case KindString:
		s, _ := v.String()
		return "s:" + s, nil
	case KindBool:
		b, _ := v.Bool()
		if b {
			return "b:1", nil
		}
		return "b:0", nil
	case KindInt, KindFloat:
		f, _ := v.Float()
		return "n:" + sortableFloatKey(f), nil
	default:
		return "", fmt.Errorf("document: value of kind %d is not indexable", v.Kind())
	}
}

// sortableFloatKey encodes f as a fixed-width hex string that sorts in
// the same order as the underlying float64, using the standard
// IEEE-754 bit-flip trick: flip the sign bit for non-negative numbers,
// flip all bits for negative numbers.
func sortableFloatKey(f float64) string {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return fmt.Sprintf("%016x", bits)
}

// Index is an in-memory, persisted secondary index over one field of one
// collection: a forward mapping from indexed value to the list of doc
// ids currently holding that value.
type Index struct {
	mu     sync.RWMutex
	db     string
	coll   string
	field  string
	store  engineStore
	values map[string]map[string]bool // indexValueString -> set of doc ids
}

// NewIndex returns an empty index for (db, collection, field).
func NewIndex(store engineStore, db, collection, field string) *Index {
	return &Index{
		db:     db,
		coll:   collection,
		field:  field,
		store:  store,
		values: make(map[string]map[string]bool),
	}
}

// Add records that docID now holds value for this index's field,
// persisting the updated bucket.
func (ix *Index) Add(docID string, value Value) error {
	key, err := indexValueString(value)
	if err != nil {
		return nil // non-indexable value: not an error, just not indexed
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket := ix.values[key]
	if bucket == nil {
		bucket = make(map[string]bool)
		ix.values[key] = bucket
	}
	bucket[docID] = true
	return ix.persistLocked(key)
}

// Remove deletes docID from the bucket for value.
func (ix *Index) Remove(docID string, value Value) error {
	key, err := indexValueString(value)
	if err != nil {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket := ix.values[key]
	if bucket == nil {
		return nil
	}
	delete(bucket, docID)
	if len(bucket) == 0 {
		delete(ix.values, key)
		return ix.store.Delete(IndexKey(ix.db, ix.coll, ix.field, key))
	}
	return ix.persistLocked(key)
}

func (ix *Index) persistLocked(key string) error {
	bucket := ix.values[key]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("document: encode index bucket: %w", err)
	}
	return ix.store.Put(IndexKey(ix.db, ix.coll, ix.field, key), data)
}

// Lookup returns the doc ids currently associated with value.
func (ix *Index) Lookup(value Value) ([]string, error) {
	key, err := indexValueString(value)
	if err != nil {
		return nil, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bucket := ix.values[key]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RangeLookup returns the doc ids whose indexed value falls within
// [start, end] (inclusive) by walking the index's in-memory value
// buckets. It does not read the persisted index keys through the
// engine's range scan.
func (ix *Index) RangeLookup(start, end Value) ([]string, error) {
	startKey, err := indexValueString(start)
	if err != nil {
		return nil, err
	}
	endKey, err := indexValueString(end)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var ids []string
	for k, bucket := range ix.values {
		if k < startKey || k > endKey {
			continue
		}
		for id := range bucket {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Rebuild repopulates the index from scratch given a function that
// yields every (docID, value) pair currently holding a non-null value
// for this index's field. Used by CreateIndex's full scan.
func (ix *Index) Rebuild(pairs func(yield func(docID string, value Value) bool)) error {
	ix.mu.Lock()
	ix.values = make(map[string]map[string]bool)
	ix.mu.Unlock()

	var addErr error
	pairs(func(docID string, value Value) bool {
		if err := ix.Add(docID, value); err != nil {
			addErr = err
			return false
		}
		return true
	})
	return addErr
}

// Len reports the number of distinct indexed values.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.values)
}
