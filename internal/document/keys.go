package document

import (
	"fmt"
	"strings"
)

// ValidateName rejects database or collection names containing the colon
// character, since the storage key namespace uses ':' as its field
// separator and is a cross-process contract (§3/§6): an external
// inspector reading raw keys must be able to split on ':' unambiguously.
func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.Contains(name, ":") {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("must not contain ':': %q", name)}
	}
	return nil
}

// MetaKey returns the key of a database's metadata blob.
func MetaKey(db string) string {
	return fmt.Sprintf("db:%s:_meta", db)
}

// DocKey returns the key of a document within a collection.
func DocKey(db, collection, docID string) string {
	return fmt.Sprintf("db:%s:collection:%s:doc:%s", db, collection, docID)
}

// DocKeyPrefix returns the key prefix covering every document in a
// collection, used as the low end of a full-scan range.
func DocKeyPrefix(db, collection string) string {
	return fmt.Sprintf("db:%s:collection:%s:doc:", db, collection)
}

// DocKeyRangeEnd returns a key that sorts after every document key in a
// collection, used as the high end of a full-scan range.
func DocKeyRangeEnd(db, collection string) string {
	return DocKeyPrefix(db, collection) + "\xff"
}

// IndexKey returns the key of a secondary index bucket for one field
// value.
func IndexKey(db, collection, field, value string) string {
	return fmt.Sprintf("db:%s:index:%s:%s:%s", db, collection, field, value)
}

// IndexKeyPrefix returns the key prefix covering every bucket of one
// indexed field.
func IndexKeyPrefix(db, collection, field string) string {
	return fmt.Sprintf("db:%s:index:%s:%s:", db, collection, field)
}

// VectorKey returns the key of a document's stored vector.
func VectorKey(db, collection, docID string) string {
	return fmt.Sprintf("db:%s:vector:%s:%s", db, collection, docID)
}

// VectorKeyPrefix returns the key prefix covering every vector in a
// collection.
func VectorKeyPrefix(db, collection string) string {
	return fmt.Sprintf("db:%s:vector:%s:", db, collection)
}

// VectorKeyRangeEnd returns a key that sorts after every vector key in a
// collection.
func VectorKeyRangeEnd(db, collection string) string {
	return VectorKeyPrefix(db, collection) + "\xff"
}

// DatabasePrefix returns the key prefix covering all of one database's
// keys, used by catalog drop.
func DatabasePrefix(db string) string {
	return fmt.Sprintf("db:%s:", db)
}

// DatabasePrefixRangeEnd returns a key sorting after every key belonging
// to one database.
func DatabasePrefixRangeEnd(db string) string {
	return DatabasePrefix(db) + "\xff"
}

// CatalogScanStart and CatalogScanEnd bound the top-level `db:`
// namespace, used to enumerate databases by scanning for `_meta` keys.
const CatalogScanStart = "db:"
const CatalogScanEnd = "db:\xff"
