// Package document implements the document/collection layer: JSON
// documents mapped onto the storage engine's flat key namespace,
// secondary indexes, the query filter grammar and optimizer, and the
// aggregation pipeline.
package document

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind tags the dynamic shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is a document field value: one of null, bool, int64, float64,
// string, an ordered array of Values, or a string-keyed map of Values.
// Every filter operator dispatches on the Kind tag.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value               { return Value{kind: KindNull} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Int(i int64) Value         { return Value{kind: KindInt, i: i} }
func Float(f float64) Value     { return Value{kind: KindFloat, f: f} }
func String(s string) Value     { return Value{kind: KindString, s: s} }
func Array(a []Value) Value     { return Value{kind: KindArray, arr: a} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)   { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)   { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) {
	if v.kind == KindFloat {
		return v.f, true
	}
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) String() (string, bool)        { return v.s, v.kind == KindString }
func (v Value) Array() ([]Value, bool)        { return v.arr, v.kind == KindArray }
func (v Value) Object() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Equal reports whether two values are deeply equal. An Int and a Float
// holding the same numeric value are considered equal, matching the
// original source's duck-typed comparison semantics.
func (v Value) Equal(o Value) bool {
	if v.kind == KindInt || v.kind == KindFloat {
		if o.kind == KindInt || o.kind == KindFloat {
			a, _ := v.Float()
			b, _ := o.Float()
			return a == b
		}
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Less reports whether v orders before o under $gt/$gte/$lt/$lte; ok is
// false when the two values are not ordered-comparable (different kinds,
// or a kind with no natural order).
func (v Value) Less(o Value) (less, ok bool) {
	if (v.kind == KindInt || v.kind == KindFloat) && (o.kind == KindInt || o.kind == KindFloat) {
		a, _ := v.Float()
		b, _ := o.Float()
		return a < b, true
	}
	if v.kind == KindString && o.kind == KindString {
		return v.s < o.s, true
	}
	return false, false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("document: marshal value: unknown kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers decode to Int when
// their literal text carries no '.', 'e', or 'E' (matching the shape the
// number was written in, since Go's JSON decoder otherwise collapses the
// int/float distinction through float64).
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromRaw(raw)
	return nil
}

func fromRaw(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return Int(i)
			}
		}
		f, _ := x.Float64()
		return Float(f)
	case string:
		return String(x)
	case []any:
		arr := make([]Value, len(x))
		for i, e := range x {
			arr[i] = fromRaw(e)
		}
		return Array(arr)
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, e := range x {
			obj[k] = fromRaw(e)
		}
		return Object(obj)
	default:
		return Null()
	}
}

// ToAny converts a Value to a plain any tree, for callers that want
// native Go types (ints as int64, floats as float64).
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.ToAny()
		}
		return out
	}
	return nil
}

// FromAny builds a Value from a plain Go value (the shapes produced by
// encoding/json's default decoder, plus int/int64/float64/string/bool/
// nil/map/slice as callers commonly construct by hand).
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int64:
		return Int(v)
	case float64:
		return Float(v)
	case float32:
		return Float(float64(v))
	case string:
		return String(v)
	case json.Number:
		return fromRaw(v)
	case []any:
		arr := make([]Value, len(v))
		for i, e := range v {
			arr[i] = FromAny(e)
		}
		return Array(arr)
	case []Value:
		return Array(v)
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for k, e := range v {
			obj[k] = FromAny(e)
		}
		return Object(obj)
	case map[string]Value:
		return Object(v)
	case Value:
		return v
	default:
		return Null()
	}
}

// getPath resolves a dot-separated field selector against an object
// value, returning (Null(), false) if any path segment is missing or the
// traversal hits a non-object before the path is exhausted.
func getPath(root Value, path string) (Value, bool) {
	obj, ok := root.Object()
	if !ok {
		return Null(), false
	}
	segs := strings.Split(path, ".")
	cur := Value(Object(obj))
	for i, seg := range segs {
		o, ok := cur.Object()
		if !ok {
			return Null(), false
		}
		v, ok := o[seg]
		if !ok {
			return Null(), false
		}
		if i == len(segs)-1 {
			return v, true
		}
		cur = v
	}
	return Null(), false
}

// sortedKeys returns an object's keys in sorted order. Nothing in the
// package calls it at present.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
