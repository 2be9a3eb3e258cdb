package document

import (
	"time"

	json "github.com/goccy/go-json"
)

// Reserved field names every stored document carries.
const (
	FieldID        = "_id"
	FieldCreatedAt = "_created_at"
	FieldUpdatedAt = "_updated_at"
)

// Document is a schema-free structured record: a string-keyed map of
// Values, always carrying the three reserved fields once stored.
type Document map[string]Value

// Clone returns a shallow copy of the document's top-level map (Values
// are themselves immutable once constructed).
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ID returns the document's _id field, or "" if absent.
func (d Document) ID() string {
	if v, ok := d[FieldID]; ok {
		s, _ := v.String()
		return s
	}
	return ""
}

// Encode serializes a document to UTF-8 JSON text.
func Encode(d Document) ([]byte, error) {
	return json.Marshal(map[string]Value(d))
}

// Decode parses UTF-8 JSON text into a Document, using the Value decoder
// so the int/float distinction survives the round trip.
func Decode(data []byte) (Document, error) {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return Document(raw), nil
}

// nowISO8601 returns the current UTC time formatted as an ISO-8601
// timestamp, the format used for _created_at/_updated_at.
func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// stampNew assigns _id, _created_at and _updated_at (both set to the
// same value) to a new document, mutating a clone rather than the
// caller's map.
func stampNew(d Document, id string) Document {
	out := d.Clone()
	now := nowISO8601()
	out[FieldID] = String(id)
	out[FieldCreatedAt] = String(now)
	out[FieldUpdatedAt] = String(now)
	return out
}

// stampUpdated refreshes _updated_at on a document about to be rewritten,
// preserving _created_at and _id.
func stampUpdated(d Document) Document {
	out := d.Clone()
	out[FieldUpdatedAt] = String(nowISO8601())
	return out
}

// applyPatch overwrites fields present in patch onto base, then refreshes
// _updated_at. _id and _created_at are never overwritten by a patch.
func applyPatch(base, patch Document) Document {
	out := base.Clone()
	for k, v := range patch {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		out[k] = v
	}
	out[FieldUpdatedAt] = String(nowISO8601())
	return out
}
