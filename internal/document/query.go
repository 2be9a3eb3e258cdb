package document

import (
	"fmt"
	"math"
	"regexp"
	"sort"
)

// Filter is a query filter: a mapping of dot-separated field selector to
// predicate (§4.6.1). A predicate value is either a literal (implicit
// equality) or an Object whose keys are operators ($eq, $gt, ...).
type Filter map[string]Value

// Match reports whether doc satisfies every field predicate in f
// (top-level fields are conjoined).
func Match(doc Document, f Filter) (bool, error) {
	for field, predicate := range f {
		actual, found := doc.fieldValue(field)
		ok, err := matchField(actual, found, predicate)
		if err != nil {
			return false, fmt.Errorf("document: field %q: %w", field, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// fieldValue resolves a dot-separated path against the document, using
// the same resolution rules query predicates rely on.
func (d Document) fieldValue(path string) (Value, bool) {
	return getPath(Object(map[string]Value(d)), path)
}

func matchField(actual Value, found bool, predicate Value) (bool, error) {
	if predicate.Kind() != KindObject {
		// Implicit equality against a literal.
		if !found {
			return false, nil
		}
		return actual.Equal(predicate), nil
	}
	obj, _ := predicate.Object()
	for op, operand := range obj {
		ok, err := evalOperator(op, actual, found, operand)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalOperator(op string, actual Value, found bool, operand Value) (bool, error) {
	switch op {
	case "$eq":
		return found && actual.Equal(operand), nil
	case "$ne":
		return !found || !actual.Equal(operand), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !found || actual.IsNull() {
			return false, nil
		}
		less, ok := actual.Less(operand)
		if !ok {
			return false, fmt.Errorf("%s: values are not ordered-comparable", op)
		}
		equal := actual.Equal(operand)
		switch op {
		case "$gt":
			return !less && !equal, nil
		case "$gte":
			return !less, nil
		case "$lt":
			return less, nil
		case "$lte":
			return less || equal, nil
		}
	case "$in":
		if !found {
			return false, nil
		}
		items, _ := operand.Array()
		for _, item := range items {
			if actual.Equal(item) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		if !found {
			return true, nil
		}
		items, _ := operand.Array()
		for _, item := range items {
			if actual.Equal(item) {
				return false, nil
			}
		}
		return true, nil
	case "$regex":
		if !found || actual.Kind() != KindString {
			return false, nil
		}
		pattern, _ := operand.String()
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("$regex: %w", err)
		}
		s, _ := actual.String()
		return re.MatchString(s), nil
	case "$exists":
		want, _ := operand.Bool()
		return found == want, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
	return false, nil
}

// Strategy names the chosen execution plan for a query.
type Strategy string

const (
	StrategyFullScan Strategy = "full_scan"
	StrategyIndex    Strategy = "index"
)

// Plan describes the optimizer's chosen execution strategy (§4.6.2).
type Plan struct {
	Strategy    Strategy
	Field       string
	Operator    string
	Selectivity float64
	EstCost     float64
	ScanCost    float64
}

// selectivityOf returns the assumed selectivity of predicate for field,
// per the optimizer's static table.
func selectivityOf(predicate Value) (operator string, selectivity float64) {
	if predicate.Kind() != KindObject {
		return "$eq", 0.01
	}
	obj, _ := predicate.Object()
	// A field may carry several operators; take the first recognized one
	// in a fixed priority order so plan selection is deterministic.
	order := []string{"$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$regex"}
	for _, op := range order {
		operand, ok := obj[op]
		if !ok {
			continue
		}
		switch op {
		case "$eq":
			return op, 0.01
		case "$ne":
			return op, 0.99
		case "$gt", "$gte", "$lt", "$lte":
			return op, 0.30
		case "$in":
			items, _ := operand.Array()
			sel := 0.05 * float64(len(items))
			if sel > 0.5 {
				sel = 0.5
			}
			return op, sel
		case "$regex":
			return op, 0.20
		}
	}
	for op := range obj {
		return op, 0.50
	}
	return "", 0.50
}

// PlanQuery chooses an execution strategy for filter f over a collection of
// estimated size n, given the set of fields currently indexed.
func PlanQuery(f Filter, indexed map[string]bool, n int) Plan {
	scanCost := float64(n)
	if len(f) == 0 {
		return Plan{Strategy: StrategyFullScan, ScanCost: scanCost}
	}

	var best *Plan
	fields := sortedFilterFields(f)
	for _, field := range fields {
		if !indexed[field] {
			continue
		}
		op, sel := selectivityOf(f[field])
		cost := math.Log2(float64(n)+1) + float64(n)*sel
		if best == nil || cost < best.EstCost {
			best = &Plan{
				Strategy:    StrategyIndex,
				Field:       field,
				Operator:    op,
				Selectivity: sel,
				EstCost:     cost,
				ScanCost:    scanCost,
			}
		}
	}
	if best == nil || best.EstCost >= 0.3*scanCost {
		return Plan{Strategy: StrategyFullScan, ScanCost: scanCost}
	}
	return *best
}

func sortedFilterFields(f Filter) []string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// candidateRange reports whether predicate is a combined $gte+$lte range
// the index path can serve directly, returning the bounds.
func candidateRange(predicate Value) (lo, hi Value, ok bool) {
	if predicate.Kind() != KindObject {
		return Value{}, Value{}, false
	}
	obj, _ := predicate.Object()
	gte, hasGte := obj["$gte"]
	lte, hasLte := obj["$lte"]
	if !hasGte || !hasLte {
		return Value{}, Value{}, false
	}
	return gte, lte, true
}
