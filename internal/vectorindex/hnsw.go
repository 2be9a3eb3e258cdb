package vectorindex

import (
	"cmp"
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"rsc.io/top"
)

const (
	DefaultM              = 16
	DefaultEfConstruction = 200
)

// mL is the level multiplier 1/ln(2) from §4.8.
var mL = 1 / math.Log(2)

// Neighbor is one search result: a document id and its distance from the
// query vector under the index's metric.
type Neighbor struct {
	ID       string
	Distance float64
}

func (n Neighbor) cmpNearest(o Neighbor) int {
	// top.New keeps the "largest" elements under its cmp function; a
	// smaller distance must compare as larger so the smallest distances
	// survive, the reverse of golang-oscar's VectorResult.cmp (which
	// wants the largest similarity Score to survive).
	if n.Distance != o.Distance {
		return cmp.Compare(o.Distance, n.Distance)
	}
	return cmp.Compare(o.ID, n.ID)
}

// HNSW is a multi-layer approximate nearest-neighbor graph (§4.8).
type HNSW struct {
	mu sync.RWMutex

	metric         Metric
	dist           func(a, b Vector) float64
	m, m0          int
	efConstruction int

	vectors    map[string]Vector
	layers     []map[string][]string // layers[l][id] = neighbor ids at layer l
	entryPoint string
	maxLayer   int
	deleted    map[string]bool
}

// New returns an empty HNSW index. m <= 0 and ef <= 0 fall back to the
// package defaults.
func New(metric Metric, m, ef int) (*HNSW, error) {
	dist, err := distanceFunc(metric)
	if err != nil {
		return nil, err
	}
	if m <= 0 {
		m = DefaultM
	}
	if ef <= 0 {
		ef = DefaultEfConstruction
	}
	return &HNSW{
		metric:         metric,
		dist:           dist,
		m:              m,
		m0:             2 * m,
		efConstruction: ef,
		vectors:        make(map[string]Vector),
		layers:         []map[string][]string{make(map[string][]string)},
		maxLayer:       -1,
		deleted:        make(map[string]bool),
	}, nil
}

// Len returns the number of live (non-deleted) vectors in the index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id := range h.vectors {
		if !h.deleted[id] {
			n++
		}
	}
	return n
}

// Metric returns the distance metric the index was constructed with.
func (h *HNSW) Metric() Metric {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metric
}

// M returns the per-node neighbor limit the index was constructed with.
func (h *HNSW) M() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m
}

// EfConstruction returns the insertion-time beam width the index was
// constructed with.
func (h *HNSW) EfConstruction() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.efConstruction
}

// Dim returns the dimensionality of the vectors held in the index, or 0
// if it holds none yet.
func (h *HNSW) Dim() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, v := range h.vectors {
		return len(v)
	}
	return 0
}

// Insert adds id/vec to the graph, per the §4.8 Insert algorithm.
func (h *HNSW) Insert(id string, vec Vector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.insertLocked(id, vec)
}

// InsertBatch adds several vectors, taking the lock once.
func (h *HNSW) InsertBatch(ids []string, vecs []Vector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, id := range ids {
		h.insertLocked(id, vecs[i])
	}
}

func (h *HNSW) insertLocked(id string, vec Vector) {
	h.vectors[id] = vec
	delete(h.deleted, id)

	if h.entryPoint == "" {
		h.entryPoint = id
		h.maxLayer = 0
		h.layers[0][id] = nil
		return
	}

	level := int(math.Floor(-math.Log(randUnit()) * mL))
	if level > h.maxLayer+1 {
		level = h.maxLayer + 1
	}
	for len(h.layers) <= level {
		h.layers = append(h.layers, make(map[string][]string))
	}

	cur := h.entryPoint
	for layer := h.maxLayer; layer > level; layer-- {
		cur = h.greedyNearest(vec, cur, layer)
	}

	entryPoints := []string{cur}
	for layer := min(level, h.maxLayer); layer >= 0; layer-- {
		candidates := h.searchLayer(vec, entryPoints, h.efConstruction, layer)
		limit := h.m
		if layer == 0 {
			limit = h.m0
		}
		nearest := nearestN(candidates, limit)

		neighborIDs := make([]string, len(nearest))
		for i, n := range nearest {
			neighborIDs[i] = n.ID
		}
		h.layers[layer][id] = neighborIDs
		for _, n := range nearest {
			h.connect(layer, n.ID, id, limit)
		}

		entryPoints = entryPoints[:0]
		for _, n := range nearest {
			entryPoints = append(entryPoints, n.ID)
		}
		if len(entryPoints) == 0 {
			entryPoints = []string{cur}
		}
	}

	if level > h.maxLayer {
		h.maxLayer = level
		h.entryPoint = id
	}
}

// connect adds other to node's adjacency list at layer and prunes node's
// list back to its limit nearest neighbors if it grew past it. Insert sets
// the new node's own list directly and calls connect for the reverse edge
// from each chosen neighbor.
func (h *HNSW) connect(layer int, node, other string, limit int) {
	neighbors := h.layers[layer][node]
	for _, n := range neighbors {
		if n == other {
			return
		}
	}
	neighbors = append(neighbors, other)
	if len(neighbors) > limit {
		vec := h.vectors[node]
		scored := make([]Neighbor, len(neighbors))
		for i, n := range neighbors {
			scored[i] = Neighbor{ID: n, Distance: h.dist(vec, h.vectors[n])}
		}
		neighbors = neighborIDs(nearestN(scored, limit))
	}
	h.layers[layer][node] = neighbors
}

func neighborIDs(ns []Neighbor) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

// greedyNearest walks from start at layer, repeatedly moving to the
// neighbor closest to query until no neighbor improves on the current
// node, and returns the final node.
func (h *HNSW) greedyNearest(query Vector, start string, layer int) string {
	cur := start
	curDist := h.dist(query, h.vectors[cur])
	for {
		improved := false
		for _, n := range h.layers[layer][cur] {
			if h.deleted[n] {
				continue
			}
			d := h.dist(query, h.vectors[n])
			if d < curDist {
				cur, curDist = n, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// candidateHeapItem is a min-heap element ordered by ascending distance,
// used for the beam search's expansion frontier.
type candidateHeapItem struct {
	id   string
	dist float64
}

type minHeap []candidateHeapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(candidateHeapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap []candidateHeapItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)         { *h = append(*h, x.(candidateHeapItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs the §4.8 beam search at one layer: a min-heap of
// candidates to expand, and a bounded max-heap result set of size
// numToReturn with the farthest popped when the set overflows.
// container/heap, not rsc.io/top, is used here because the termination
// check needs to read the current worst-in-result distance mid-loop,
// something Add-then-Take cannot express.
func (h *HNSW) searchLayer(query Vector, entryPoints []string, numToReturn, layer int) []Neighbor {
	visited := make(map[string]bool)
	var candidates minHeap
	var result maxHeap

	for _, ep := range entryPoints {
		if h.deleted[ep] {
			continue
		}
		d := h.dist(query, h.vectors[ep])
		visited[ep] = true
		heap.Push(&candidates, candidateHeapItem{ep, d})
		heap.Push(&result, candidateHeapItem{ep, d})
	}

	for candidates.Len() > 0 {
		best := candidates[0]
		if result.Len() >= numToReturn && best.dist > result[0].dist {
			break
		}
		heap.Pop(&candidates)

		for _, n := range h.layers[layer][best.id] {
			if visited[n] || h.deleted[n] {
				continue
			}
			visited[n] = true
			d := h.dist(query, h.vectors[n])
			if result.Len() < numToReturn || d < result[0].dist {
				heap.Push(&candidates, candidateHeapItem{n, d})
				heap.Push(&result, candidateHeapItem{n, d})
				if result.Len() > numToReturn {
					heap.Pop(&result)
				}
			}
		}
	}

	out := make([]Neighbor, result.Len())
	for i, c := range result {
		out[i] = Neighbor{ID: c.id, Distance: c.dist}
	}
	return out
}

// nearestN returns the n smallest-distance candidates, using rsc.io/top
// for the bounded top-n selection (mirroring golang-oscar's memVectorDB
// .Search use of top.New, with the comparator inverted to select minimum
// distance rather than maximum similarity).
func nearestN(candidates []Neighbor, n int) []Neighbor {
	if n <= 0 {
		return nil
	}
	best := top.New(n, Neighbor.cmpNearest)
	for _, c := range candidates {
		best.Add(c)
	}
	return best.Take()
}

// Search returns the k nearest neighbors of query, per §4.8's search
// algorithm: greedy descent through all layers down to 1, then a layer-0
// beam search with num_to_return = max(ef_construction, k).
func (h *HNSW) Search(query Vector, k int) []Neighbor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entryPoint == "" || k <= 0 {
		return nil
	}

	cur := h.entryPoint
	for layer := h.maxLayer; layer >= 1; layer-- {
		cur = h.greedyNearest(query, cur, layer)
	}

	ef := h.efConstruction
	if k > ef {
		ef = k
	}
	candidates := h.searchLayer(query, []string{cur}, ef, 0)
	return nearestN(candidates, k)
}

// Delete logically removes id: it is unbound from the caller-visible
// map and skipped during future searches and connections, but its graph
// edges are left in place until a rebuild (pure HNSW has no sound
// delete, per §4.8).
func (h *HNSW) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted[id] = true
}

// Similarity maps a distance back to a [0, 1]-ish similarity score for
// callers, per §4.8: 1/(1+distance) for euclidean, 1-distance for
// cosine, and a dot-product-specific inverse mapping since raw dot
// products are unbounded.
func (h *HNSW) Similarity(d float64) float64 {
	switch h.metric {
	case MetricCosine:
		return 1 - d
	case MetricEuclidean:
		return 1 / (1 + d)
	case MetricDotProduct:
		return 1 / (1 + math.Exp(d)) // d is -dot(a,b); logistic squash to (0,1)
	default:
		return 0
	}
}

func randUnit() float64 {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	return u
}
