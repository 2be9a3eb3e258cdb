package document

import "testing"

func doc(fields map[string]Value) Document { return Document(fields) }

func TestMatchOperators(t *testing.T) {
	d := doc(map[string]Value{
		"age":  Int(30),
		"name": String("alice"),
		"tags": Array([]Value{String("x"), String("y")}),
	})

	for _, test := range []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"implicit equality match", Filter{"name": String("alice")}, true},
		{"implicit equality mismatch", Filter{"name": String("bob")}, false},
		{"$eq", Filter{"age": Object(map[string]Value{"$eq": Int(30)})}, true},
		{"$ne", Filter{"age": Object(map[string]Value{"$ne": Int(31)})}, true},
		{"$gt true", Filter{"age": Object(map[string]Value{"$gt": Int(20)})}, true},
		{"$gt false", Filter{"age": Object(map[string]Value{"$gt": Int(30)})}, false},
		{"$gte boundary", Filter{"age": Object(map[string]Value{"$gte": Int(30)})}, true},
		{"$lt false", Filter{"age": Object(map[string]Value{"$lt": Int(30)})}, false},
		{"$lte boundary", Filter{"age": Object(map[string]Value{"$lte": Int(30)})}, true},
		{"$in hit", Filter{"age": Object(map[string]Value{"$in": Array([]Value{Int(10), Int(30)})})}, true},
		{"$nin hit", Filter{"age": Object(map[string]Value{"$nin": Array([]Value{Int(10), Int(30)})})}, false},
		{"$regex match", Filter{"name": Object(map[string]Value{"$regex": String("^al")})}, true},
		{"$exists true", Filter{"age": Object(map[string]Value{"$exists": Bool(true)})}, true},
		{"$exists false on present field", Filter{"age": Object(map[string]Value{"$exists": Bool(false)})}, false},
		{"$exists false on absent field", Filter{"missing": Object(map[string]Value{"$exists": Bool(false)})}, true},
		{"conjunction both true", Filter{"name": String("alice"), "age": Object(map[string]Value{"$gt": Int(10)})}, true},
		{"conjunction one false", Filter{"name": String("alice"), "age": Object(map[string]Value{"$gt": Int(100)})}, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := Match(d, test.filter)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if got != test.want {
				t.Errorf("got %v, want %v", got, test.want)
			}
		})
	}
}

func TestMatchGtAbsentFieldFails(t *testing.T) {
	d := doc(map[string]Value{"name": String("alice")})
	got, err := Match(d, Filter{"age": Object(map[string]Value{"$gt": Int(0)})})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got {
		t.Error("$gt on absent field should fail the predicate")
	}
}

func TestPlanQueryChoosesFullScanWhenNoIndex(t *testing.T) {
	plan := PlanQuery(Filter{"age": Int(5)}, map[string]bool{}, 1000)
	if plan.Strategy != StrategyFullScan {
		t.Errorf("strategy = %v, want full_scan", plan.Strategy)
	}
}

func TestPlanQueryEmptyFilterIsFullScan(t *testing.T) {
	plan := PlanQuery(Filter{}, map[string]bool{"age": true}, 1000)
	if plan.Strategy != StrategyFullScan {
		t.Errorf("strategy = %v, want full_scan", plan.Strategy)
	}
}

func TestPlanQueryChoosesIndexForSelectiveEquality(t *testing.T) {
	plan := PlanQuery(Filter{"age": Int(5)}, map[string]bool{"age": true}, 100000)
	if plan.Strategy != StrategyIndex {
		t.Errorf("strategy = %v, want index", plan.Strategy)
	}
	if plan.Field != "age" {
		t.Errorf("field = %q, want age", plan.Field)
	}
	if plan.Selectivity != 0.01 {
		t.Errorf("selectivity = %v, want 0.01", plan.Selectivity)
	}
}

func TestPlanQueryFallsBackForUnselectiveNe(t *testing.T) {
	plan := PlanQuery(Filter{"age": Object(map[string]Value{"$ne": Int(5)})}, map[string]bool{"age": true}, 1000)
	if plan.Strategy != StrategyFullScan {
		t.Errorf("strategy = %v, want full_scan for a $ne predicate", plan.Strategy)
	}
}

func TestSelectivityOfInScalesWithCountCapped(t *testing.T) {
	op, sel := selectivityOf(Object(map[string]Value{"$in": Array([]Value{Int(1), Int(2), Int(3), Int(4), Int(5), Int(6), Int(7), Int(8), Int(9), Int(10), Int(11)})}))
	if op != "$in" {
		t.Fatalf("op = %q, want $in", op)
	}
	if sel != 0.5 {
		t.Errorf("selectivity = %v, want capped at 0.5", sel)
	}
}
