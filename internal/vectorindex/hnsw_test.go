package vectorindex

import (
	"math"
	"testing"

	"github.com/veloxdb/veloxdb/internal/testutil"
)

func unitVector(dims int, hot int) Vector {
	v := make(Vector, dims)
	v[hot] = 1
	return v
}

func TestHNSWInsertAndSearchReturnsNearest(t *testing.T) {
	h, err := New(MetricCosine, 8, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 16; i++ {
		h.Insert(string(rune('a'+i)), unitVector(16, i))
	}

	results := h.Search(unitVector(16, 3), 1)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ID != string(rune('a'+3)) {
		t.Errorf("nearest = %q, want %q", results[0].ID, string(rune('a'+3)))
	}
}

func TestHNSWSearchReturnsKOrdered(t *testing.T) {
	h, err := New(MetricEuclidean, 8, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.Insert("p0", Vector{0, 0})
	h.Insert("p1", Vector{1, 0})
	h.Insert("p2", Vector{5, 0})
	h.Insert("p3", Vector{10, 0})

	results := h.Search(Vector{0, 0}, 3)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Distance > results[i].Distance {
			t.Errorf("results not ordered by distance: %+v", results)
		}
	}
	if results[0].ID != "p0" {
		t.Errorf("nearest = %q, want p0", results[0].ID)
	}
}

func TestHNSWDeleteExcludesFromSearch(t *testing.T) {
	h, err := New(MetricEuclidean, 8, 50)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.Insert("a", Vector{0, 0})
	h.Insert("b", Vector{1, 0})
	h.Delete("a")

	results := h.Search(Vector{0, 0}, 5)
	for _, r := range results {
		if r.ID == "a" {
			t.Error("deleted id should not appear in search results")
		}
	}
}

func TestDistanceMetrics(t *testing.T) {
	a := Vector{1, 0}
	b := Vector{0, 1}
	if d := cosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal cosine distance = %v, want 1", d)
	}
	if d := euclideanDistance(a, b); math.Abs(d-math.Sqrt2) > 1e-9 {
		t.Errorf("euclidean distance = %v, want sqrt(2)", d)
	}
	if d := dotDistance(Vector{2, 0}, Vector{3, 0}); d != -6 {
		t.Errorf("dot distance = %v, want -6", d)
	}
}

func TestVectorEncodeDecodeRoundTrip(t *testing.T) {
	v := Vector{1.5, -2.25, 0, 100.125}
	back, err := DecodeVector(v.Encode())
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(back) != len(v) {
		t.Fatalf("got %d components, want %d", len(back), len(v))
	}
	for i := range v {
		if back[i] != v[i] {
			t.Errorf("component %d: got %v, want %v", i, back[i], v[i])
		}
	}
}

func TestVectorDecodeLegacyJSONArrayFallback(t *testing.T) {
	back, err := DecodeVector([]byte(`[1,2,3]`))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(back) != 3 || back[0] != 1 || back[2] != 3 {
		t.Errorf("got %v, want [1 2 3]", back)
	}
}

func TestHNSWSaveLoadRoundTrip(t *testing.T) {
	h, err := New(MetricCosine, 4, 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		h.Insert(string(rune('a'+i)), unitVector(8, i%8))
	}

	path := testutil.TempDir(t) + "/snap.json"
	testutil.Check(t, h.Save(path, nil))

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != h.Len() {
		t.Errorf("loaded.Len() = %d, want %d", loaded.Len(), h.Len())
	}
	results := loaded.Search(unitVector(8, 3), 1)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestRebuildFromSource(t *testing.T) {
	data := map[string]Vector{
		"x": {1, 0, 0},
		"y": {0, 1, 0},
		"z": {0, 0, 1},
	}
	h, err := Rebuild(MetricCosine, 8, 50, func(yield func(id string, vec Vector) bool) {
		for id, v := range data {
			if !yield(id, v) {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if h.Len() != 3 {
		t.Errorf("Len() = %d, want 3", h.Len())
	}
}
