package document

import (
	"fmt"
	"sort"
)

// Stage is one step of an aggregation pipeline: a pure transform from one
// document sequence to the next.
type Stage func([]Document) ([]Document, error)

// Aggregate runs docs through every stage in order.
func Aggregate(docs []Document, stages ...Stage) ([]Document, error) {
	cur := docs
	for i, stage := range stages {
		out, err := stage(cur)
		if err != nil {
			return nil, fmt.Errorf("document: aggregate stage %d: %w", i, err)
		}
		cur = out
	}
	return cur, nil
}

// MatchStage keeps documents satisfying filter, reusing the query filter
// evaluator.
func MatchStage(filter Filter) Stage {
	return func(docs []Document) ([]Document, error) {
		var out []Document
		for _, doc := range docs {
			ok, err := Match(doc, filter)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, doc)
			}
		}
		return out, nil
	}
}

// SortField names a field and its sort direction (1 ascending, -1
// descending).
type SortField struct {
	Field     string
	Direction int
}

// SortStage orders documents by one or more fields, in priority order.
func SortStage(fields ...SortField) Stage {
	return func(docs []Document) ([]Document, error) {
		out := make([]Document, len(docs))
		copy(out, docs)
		sort.SliceStable(out, func(i, j int) bool {
			for _, sf := range fields {
				a, aok := out[i].fieldValue(sf.Field)
				b, bok := out[j].fieldValue(sf.Field)
				if !aok || !bok {
					continue
				}
				less, ok := a.Less(b)
				if !ok || a.Equal(b) {
					continue
				}
				if sf.Direction < 0 {
					return !less
				}
				return less
			}
			return false
		})
		return out, nil
	}
}

// LimitStage truncates the sequence to at most n documents. A non-positive
// n leaves the sequence unchanged.
func LimitStage(n int) Stage {
	return func(docs []Document) ([]Document, error) {
		if n <= 0 || n >= len(docs) {
			return docs, nil
		}
		return docs[:n], nil
	}
}

// ProjectStage keeps only the named fields (plus _id, always retained).
func ProjectStage(fields ...string) Stage {
	keep := make(map[string]bool, len(fields)+1)
	keep[FieldID] = true
	for _, f := range fields {
		keep[f] = true
	}
	return func(docs []Document) ([]Document, error) {
		out := make([]Document, len(docs))
		for i, doc := range docs {
			projected := make(Document, len(keep))
			for k, v := range doc {
				if keep[k] {
					projected[k] = v
				}
			}
			out[i] = projected
		}
		return out, nil
	}
}

// GroupStage groups documents by the value of field and computes a $sum
// accumulator over sumField for each group, returning one synthetic
// document per group shaped as {"_id": <group key>, "<as>": <sum>}.
func GroupStage(field, sumField, as string) Stage {
	return func(docs []Document) ([]Document, error) {
		order := []Value{}
		sums := map[string]float64{}
		keys := map[string]Value{}
		seen := map[string]bool{}

		for _, doc := range docs {
			key, ok := doc.fieldValue(field)
			if !ok {
				key = Null()
			}
			keyStr, err := indexValueString(orNullSafe(key))
			if err != nil {
				keyStr = "z:null"
			}
			if !seen[keyStr] {
				seen[keyStr] = true
				order = append(order, key)
				keys[keyStr] = key
			}
			if sumField != "" {
				if v, ok := doc.fieldValue(sumField); ok {
					if f, ok := v.Float(); ok {
						sums[keyStr] += f
					}
				}
			}
		}

		out := make([]Document, 0, len(order))
		for _, key := range order {
			keyStr, _ := indexValueString(orNullSafe(key))
			group := Document{
				FieldID: key,
			}
			if as != "" {
				group[as] = Float(sums[keyStr])
			}
			out = append(out, group)
		}
		return out, nil
	}
}

// orNullSafe substitutes a marker string value for Null so grouping by a
// missing/null field still forms a single bucket instead of erroring.
func orNullSafe(v Value) Value {
	if v.IsNull() {
		return String("\x00null")
	}
	return v
}
