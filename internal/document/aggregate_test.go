package document

import "testing"

func TestAggregateMatchSortLimitProject(t *testing.T) {
	docs := []Document{
		{FieldID: String("1"), "name": String("a"), "qty": Int(3)},
		{FieldID: String("2"), "name": String("b"), "qty": Int(1)},
		{FieldID: String("3"), "name": String("c"), "qty": Int(2)},
	}

	out, err := Aggregate(docs,
		MatchStage(Filter{"qty": Object(map[string]Value{"$gte": Int(1)})}),
		SortStage(SortField{Field: "qty", Direction: 1}),
		LimitStage(2),
		ProjectStage("qty"),
	)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d docs, want 2", len(out))
	}
	if q, _ := out[0]["qty"].Int(); q != 1 {
		t.Errorf("first doc qty = %d, want 1", q)
	}
	if _, ok := out[0]["name"]; ok {
		t.Error("$project should have dropped the name field")
	}
	if _, ok := out[0][FieldID]; !ok {
		t.Error("$project must always retain _id")
	}
}

func TestGroupStageSumsByField(t *testing.T) {
	docs := []Document{
		{"region": String("east"), "amount": Int(10)},
		{"region": String("east"), "amount": Int(5)},
		{"region": String("west"), "amount": Int(7)},
	}
	out, err := Aggregate(docs, GroupStage("region", "amount", "total"))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d groups, want 2", len(out))
	}
	totals := map[string]float64{}
	for _, g := range out {
		region, _ := g[FieldID].String()
		total, _ := g["total"].Float()
		totals[region] = total
	}
	if totals["east"] != 15 {
		t.Errorf("east total = %v, want 15", totals["east"])
	}
	if totals["west"] != 7 {
		t.Errorf("west total = %v, want 7", totals["west"])
	}
}

func TestSortStageDescending(t *testing.T) {
	docs := []Document{
		{"qty": Int(1)},
		{"qty": Int(3)},
		{"qty": Int(2)},
	}
	out, err := Aggregate(docs, SortStage(SortField{Field: "qty", Direction: -1}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	var got []int64
	for _, d := range out {
		q, _ := d["qty"].Int()
		got = append(got, q)
	}
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
