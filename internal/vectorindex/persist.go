package vectorindex

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// snapshot is the on-disk shape of an HNSW index (§4.8 Persistence).
type snapshot struct {
	SnapshotID     string                 `json:"snapshot_id"`
	Metric         Metric                 `json:"metric"`
	M              int                    `json:"m"`
	EfConstruction int                    `json:"ef_construction"`
	MaxLayer       int                    `json:"max_layer"`
	EntryPoint     string                 `json:"entry_point"`
	Vectors        map[string][]byte      `json:"vectors"`
	Layers         []map[string][]string  `json:"layers"`
	Deleted        []string               `json:"deleted"`
}

// Save atomically writes the index's current state to path, tagging the
// write with a fresh snapshot id for diagnostics.
func (h *HNSW) Save(path string, lg *slog.Logger) error {
	h.mu.RLock()
	snap := snapshot{
		SnapshotID:     uuid.NewString(),
		Metric:         h.metric,
		M:              h.m,
		EfConstruction: h.efConstruction,
		MaxLayer:       h.maxLayer,
		EntryPoint:     h.entryPoint,
		Vectors:        make(map[string][]byte, len(h.vectors)),
		Layers:         make([]map[string][]string, len(h.layers)),
	}
	for id, v := range h.vectors {
		snap.Vectors[id] = v.Encode()
	}
	for i, layer := range h.layers {
		snap.Layers[i] = layer
	}
	for id := range h.deleted {
		snap.Deleted = append(snap.Deleted, id)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("vectorindex: encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("vectorindex: write snapshot %s: %w", path, err)
	}
	if lg != nil {
		lg.Info("hnsw snapshot saved", "path", path, "snapshot_id", snap.SnapshotID, "vectors", len(snap.Vectors))
	}
	return nil
}

// Load restores an index from a snapshot written by Save. It returns
// os.ErrNotExist (wrapped) if path does not exist, so callers can fall
// back to a full rebuild as §4.8 specifies.
func Load(path string) (*HNSW, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read snapshot %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("vectorindex: decode snapshot %s: %w", path, err)
	}

	h, err := New(snap.Metric, snap.M, snap.EfConstruction)
	if err != nil {
		return nil, err
	}
	h.maxLayer = snap.MaxLayer
	h.entryPoint = snap.EntryPoint
	for id, enc := range snap.Vectors {
		v, err := DecodeVector(enc)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: decode vector %q: %w", id, err)
		}
		h.vectors[id] = v
	}
	h.layers = make([]map[string][]string, len(snap.Layers))
	for i, layer := range snap.Layers {
		if layer == nil {
			layer = make(map[string][]string)
		}
		h.layers[i] = layer
	}
	if len(h.layers) == 0 {
		h.layers = []map[string][]string{make(map[string][]string)}
	}
	for _, id := range snap.Deleted {
		h.deleted[id] = true
	}
	return h, nil
}

// Rebuild discards the current graph and reinserts every (id, vector)
// pair yielded by source, used when a snapshot is missing or invalid
// (§4.8) and to implement build_hnsw_index (§4.9).
func Rebuild(metric Metric, m, ef int, source func(yield func(id string, vec Vector) bool)) (*HNSW, error) {
	h, err := New(metric, m, ef)
	if err != nil {
		return nil, err
	}
	source(func(id string, vec Vector) bool {
		h.insertLocked(id, vec)
		return true
	})
	return h, nil
}
