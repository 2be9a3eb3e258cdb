package document

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// EventType names the kind of change a Collection reports to its event
// sink.
type EventType string

const (
	EventInsert         EventType = "INSERT"
	EventUpdate         EventType = "UPDATE"
	EventDelete         EventType = "DELETE"
	EventDropCollection EventType = "DROP_COLLECTION"
)

// Event describes one change to a document, or to a collection as a
// whole for EventDropCollection. For EventUpdate, Document carries only
// the patched fields (plus _updated_at; the id is in DocID), per §4.6/§4.10.
type Event struct {
	Type       EventType
	Database   string
	Collection string
	DocID      string
	Document   Document
	Timestamp  string
}

// EventEmitter receives change events. Implemented by the change-stream
// broadcaster; defined here so document does not import it back.
type EventEmitter interface {
	Emit(Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(Event) {}

// Collection is a named set of JSON documents within a database, backed
// by the storage engine's flat key namespace and a set of in-memory
// secondary indexes.
type Collection struct {
	db      string
	name    string
	store   engineStore
	ids     *IDGenerator
	emitter EventEmitter

	mu      sync.RWMutex
	indexes map[string]*Index

	count atomic.Int64
}

// NewCollection constructs a Collection over an already-open store. docCount
// is the caller's best current estimate of the collection's size (0 for a
// brand-new collection, or the result of a full scan when reopening).
func NewCollection(store engineStore, db, name string, ids *IDGenerator, emitter EventEmitter, docCount int) *Collection {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	c := &Collection{
		db:      db,
		name:    name,
		store:   store,
		ids:     ids,
		emitter: emitter,
		indexes: make(map[string]*Index),
	}
	c.count.Store(int64(docCount))
	return c
}

func (c *Collection) docKey(id string) string { return DocKey(c.db, c.name, id) }

func (c *Collection) emit(evt Event) {
	evt.Database = c.db
	evt.Collection = c.name
	evt.Timestamp = nowISO8601()
	c.emitter.Emit(evt)
}

// Insert stores a new document, assigning _id and timestamps.
func (c *Collection) Insert(data Document) (Document, error) {
	id := c.ids.Next()
	doc := stampNew(data, id)
	if err := c.writeDoc(doc); err != nil {
		return nil, err
	}
	c.indexAfterInsert(doc)
	c.count.Add(1)
	c.emit(Event{Type: EventInsert, DocID: id, Document: doc})
	return doc, nil
}

// InsertMany stores several documents in one WAL batch.
func (c *Collection) InsertMany(items []Document) ([]Document, error) {
	if len(items) == 0 {
		return nil, nil
	}
	stamped := make([]Document, len(items))
	keys := make([]string, len(items))
	values := make([][]byte, len(items))
	for i, data := range items {
		id := c.ids.Next()
		doc := stampNew(data, id)
		enc, err := Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("document: encode document: %w", err)
		}
		stamped[i] = doc
		keys[i] = c.docKey(id)
		values[i] = enc
	}
	if err := c.store.PutBatch(keys, values); err != nil {
		return nil, fmt.Errorf("document: insert_many: %w", err)
	}
	for _, doc := range stamped {
		c.indexAfterInsert(doc)
		c.emit(Event{Type: EventInsert, DocID: doc.ID(), Document: doc})
	}
	c.count.Add(int64(len(stamped)))
	return stamped, nil
}

func (c *Collection) writeDoc(doc Document) error {
	enc, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("document: encode document: %w", err)
	}
	if err := c.store.Put(c.docKey(doc.ID()), enc); err != nil {
		return fmt.Errorf("document: put document: %w", err)
	}
	return nil
}

// FindByID retrieves a single document by id.
func (c *Collection) FindByID(id string) (Document, bool, error) {
	raw, ok := c.store.Get(c.docKey(id))
	if !ok {
		return nil, false, nil
	}
	doc, err := Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("document: decode document %q: %w", id, err)
	}
	return doc, true, nil
}

// Find runs filter against the collection and returns up to limit
// matching documents (limit <= 0 means unlimited).
func (c *Collection) Find(filter Filter, limit int) ([]Document, error) {
	docs, _, err := c.find(filter, limit, false)
	return docs, err
}

// Explain returns the execution plan Find would use, without running it.
func (c *Collection) Explain(filter Filter, limit int) (Plan, error) {
	_, plan, err := c.find(filter, limit, true)
	return plan, err
}

func (c *Collection) find(filter Filter, limit int, explainOnly bool) ([]Document, Plan, error) {
	plan := PlanQuery(filter, c.indexedFields(), int(c.count.Load()))
	if explainOnly {
		return nil, plan, nil
	}
	if plan.Strategy == StrategyFullScan {
		docs, err := c.fullScan(filter, limit)
		return docs, plan, err
	}

	c.mu.RLock()
	idx := c.indexes[plan.Field]
	c.mu.RUnlock()
	if idx == nil {
		docs, err := c.fullScan(filter, limit)
		plan.Strategy = StrategyFullScan
		return docs, plan, err
	}

	var candidates []string
	var err error
	predicate := filter[plan.Field]
	if plan.Operator == "$eq" {
		operand := predicate
		if operand.Kind() == KindObject {
			operand, _ = fieldOperand(predicate, "$eq")
		}
		candidates, err = idx.Lookup(operand)
	} else if lo, hi, ok := candidateRange(predicate); ok {
		candidates, err = idx.RangeLookup(lo, hi)
	} else {
		docs, ferr := c.fullScan(filter, limit)
		plan.Strategy = StrategyFullScan
		return docs, plan, ferr
	}
	if err != nil {
		return nil, plan, err
	}

	var out []Document
	for _, id := range candidates {
		doc, ok, err := c.FindByID(id)
		if err != nil {
			return nil, plan, err
		}
		if !ok {
			continue
		}
		matched, err := Match(doc, filter)
		if err != nil {
			return nil, plan, err
		}
		if !matched {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, plan, nil
}

func fieldOperand(predicate Value, op string) (Value, bool) {
	obj, ok := predicate.Object()
	if !ok {
		return predicate, true
	}
	v, ok := obj[op]
	return v, ok
}

// Aggregate runs every document in the collection through stages in
// order, the §4.6/§6 pipeline subset ($match/$group/$sort/$limit/
// $project).
func (c *Collection) Aggregate(stages ...Stage) ([]Document, error) {
	rows := c.store.RangeScan(DocKeyPrefix(c.db, c.name), DocKeyRangeEnd(c.db, c.name))
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := Decode(row.Value)
		if err != nil {
			return nil, fmt.Errorf("document: decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	return Aggregate(docs, stages...)
}

func (c *Collection) fullScan(filter Filter, limit int) ([]Document, error) {
	rows := c.store.RangeScan(DocKeyPrefix(c.db, c.name), DocKeyRangeEnd(c.db, c.name))
	var out []Document
	for _, row := range rows {
		doc, err := Decode(row.Value)
		if err != nil {
			return nil, fmt.Errorf("document: decode document: %w", err)
		}
		matched, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Update applies patch to the document with the given id, refreshing
// _updated_at, and reports the stored result.
func (c *Collection) Update(id string, patch Document) (Document, error) {
	old, ok, err := c.FindByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	updated := applyPatch(old, patch)
	if err := c.writeDoc(updated); err != nil {
		return nil, err
	}
	c.reindexAfterUpdate(old, updated)
	c.emit(Event{Type: EventUpdate, DocID: id, Document: stampUpdated(patch.Clone())})
	return updated, nil
}

// UpdateMany applies patch to every document matching filter; not
// transactional across documents.
func (c *Collection) UpdateMany(filter Filter, patch Document) (int, error) {
	docs, err := c.Find(filter, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if _, err := c.Update(doc.ID(), patch); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Delete removes a document and its vector entry (if any), scrubbing
// every secondary index bucket that referenced it.
func (c *Collection) Delete(id string) error {
	doc, ok, err := c.FindByID(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := c.store.Delete(c.docKey(id)); err != nil {
		return fmt.Errorf("document: delete document: %w", err)
	}
	_ = c.store.Delete(VectorKey(c.db, c.name, id)) // unconditional, no-op if absent
	c.deindexAfterDelete(doc)
	c.count.Add(-1)
	c.emit(Event{Type: EventDelete, DocID: id, Document: doc})
	return nil
}

// DeleteMany removes every document matching filter.
func (c *Collection) DeleteMany(filter Filter) (int, error) {
	docs, err := c.Find(filter, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if err := c.Delete(doc.ID()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(filter Filter) (int, error) {
	docs, err := c.Find(filter, 0)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// CreateIndex builds a secondary index over field by scanning every
// current document.
func (c *Collection) CreateIndex(field string) error {
	idx := NewIndex(c.store, c.db, c.name, field)
	rows := c.store.RangeScan(DocKeyPrefix(c.db, c.name), DocKeyRangeEnd(c.db, c.name))
	err := idx.Rebuild(func(yield func(docID string, value Value) bool) {
		for _, row := range rows {
			doc, derr := Decode(row.Value)
			if derr != nil {
				continue
			}
			v, ok := doc.fieldValue(field)
			if !ok || v.IsNull() {
				continue
			}
			if !yield(doc.ID(), v) {
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("document: create_index %q: %w", field, err)
	}
	c.mu.Lock()
	c.indexes[field] = idx
	c.mu.Unlock()
	return nil
}

func (c *Collection) indexedFields() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.indexes))
	for f := range c.indexes {
		out[f] = true
	}
	return out
}

func (c *Collection) indexAfterInsert(doc Document) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, idx := range c.indexes {
		v, ok := doc.fieldValue(field)
		if !ok || v.IsNull() {
			continue
		}
		_ = idx.Add(doc.ID(), v)
	}
}

func (c *Collection) reindexAfterUpdate(old, updated Document) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, idx := range c.indexes {
		oldV, oldOK := old.fieldValue(field)
		newV, newOK := updated.fieldValue(field)
		if oldOK && !oldV.IsNull() {
			_ = idx.Remove(updated.ID(), oldV)
		}
		if newOK && !newV.IsNull() {
			_ = idx.Add(updated.ID(), newV)
		}
	}
}

func (c *Collection) deindexAfterDelete(doc Document) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for field, idx := range c.indexes {
		v, ok := doc.fieldValue(field)
		if !ok || v.IsNull() {
			continue
		}
		_ = idx.Remove(doc.ID(), v)
	}
}

// IndexedFieldNames returns the names of fields currently indexed, sorted.
func (c *Collection) IndexedFieldNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.indexes))
	for f := range c.indexes {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
