package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	atomicfile "github.com/natefinch/atomic"
	json "github.com/goccy/go-json"
)

// SSTable is an immutable, sorted on-disk table with a key index and a
// bloom filter, stored as three files sharing a base path:
// <base>.data, <base>.index, <base>.bloom.
type SSTable struct {
	base  string
	bloom *bloomFilter
	index []indexEntry // sorted by key
	lg    *slog.Logger
}

type indexEntry struct {
	Key    string `json:"key"`
	Offset int64  `json:"offset"`
}

// dataFile returns the path of the table's data file.
func (t *SSTable) dataFile() string  { return t.base + ".data" }
func (t *SSTable) indexFile() string { return t.base + ".index" }
func (t *SSTable) bloomFile() string { return t.base + ".bloom" }

// CreateSSTable writes a new SSTable at base from sorted key-value pairs
// (tombstones included, marked via the tombstone flag). Writes happen to
// temp files and are published with a rename, so a crash leaves either a
// complete table or files that are absent/ignorably partial.
func CreateSSTable(base string, items []kv, lg *slog.Logger) (*SSTable, error) {
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })

	var dataBuf bytes.Buffer
	var index []indexEntry
	bf := newBloomFilter(len(items))

	var offset int64
	for _, it := range items {
		index = append(index, indexEntry{Key: it.key, Offset: offset})
		bf.Add([]byte(it.key))

		valBytes := it.entry.value
		deleted := it.entry.tombstone
		n, err := writeDataRecord(&dataBuf, it.key, valBytes, deleted)
		if err != nil {
			return nil, fmt.Errorf("storage: sstable write %s: %w", base, err)
		}
		offset += n
	}

	if err := atomicfile.WriteFile(base+".data", bytes.NewReader(dataBuf.Bytes())); err != nil {
		return nil, fmt.Errorf("storage: sstable publish data: %w", err)
	}

	idxBytes, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("storage: sstable encode index: %w", err)
	}
	if err := atomicfile.WriteFile(base+".index", bytes.NewReader(idxBytes)); err != nil {
		return nil, fmt.Errorf("storage: sstable publish index: %w", err)
	}

	bloomBytes, err := bf.encode()
	if err != nil {
		return nil, fmt.Errorf("storage: sstable encode bloom: %w", err)
	}
	if err := atomicfile.WriteFile(base+".bloom", bytes.NewReader(bloomBytes)); err != nil {
		return nil, fmt.Errorf("storage: sstable publish bloom: %w", err)
	}

	if lg != nil {
		lg.Info("sstable created", "base", base, "keys", len(items))
	}
	return &SSTable{base: base, bloom: bf, index: index, lg: lg}, nil
}

// OpenSSTable loads an existing, fully-written SSTable from base. It
// returns an error (to be logged and skipped by the caller) if any of the
// three files is missing or fails to decode, which happens when a crash
// interrupted a prior creation.
func OpenSSTable(base string, lg *slog.Logger) (*SSTable, error) {
	idxBytes, err := os.ReadFile(base + ".index")
	if err != nil {
		return nil, fmt.Errorf("%w: sstable index %s: %v", errCorruptRecord, base, err)
	}
	var index []indexEntry
	if err := json.Unmarshal(idxBytes, &index); err != nil {
		return nil, fmt.Errorf("%w: sstable index decode %s: %v", errCorruptRecord, base, err)
	}

	bloomBytes, err := os.ReadFile(base + ".bloom")
	if err != nil {
		return nil, fmt.Errorf("%w: sstable bloom %s: %v", errCorruptRecord, base, err)
	}
	bf, err := decodeBloomFilter(bloomBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: sstable bloom decode %s: %v", errCorruptRecord, base, err)
	}

	if _, err := os.Stat(base + ".data"); err != nil {
		return nil, fmt.Errorf("%w: sstable data %s: %v", errCorruptRecord, base, err)
	}

	return &SSTable{base: base, bloom: bf, index: index, lg: lg}, nil
}

// Get looks up key: the bloom filter first (a miss means definitely
// absent), then the exact offset from the index, then the value from the
// data file. Tombstones are reported as lookupDeleted, never as an empty
// value.
func (t *SSTable) Get(key string) ([]byte, lookupResult, error) {
	if !t.bloom.MayContain([]byte(key)) {
		return nil, lookupMiss, nil
	}
	i := sort.Search(len(t.index), func(i int) bool { return t.index[i].Key >= key })
	if i >= len(t.index) || t.index[i].Key != key {
		return nil, lookupMiss, nil
	}
	f, err := os.Open(t.dataFile())
	if err != nil {
		return nil, lookupMiss, fmt.Errorf("storage: sstable open data: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(t.index[i].Offset, io.SeekStart); err != nil {
		return nil, lookupMiss, fmt.Errorf("storage: sstable seek: %w", err)
	}
	val, deleted, err := readDataRecord(bufio.NewReader(f))
	if err != nil {
		return nil, lookupMiss, fmt.Errorf("storage: sstable read: %w", err)
	}
	if deleted {
		return nil, lookupDeleted, nil
	}
	return val, lookupFound, nil
}

// RangeScan yields (key, value) pairs within [start, end] in sorted
// order, skipping tombstones.
func (t *SSTable) RangeScan(start, end string) ([]kv, error) {
	items, err := t.rangeScanRaw(start, end)
	if err != nil {
		return nil, err
	}
	var out []kv
	for _, it := range items {
		if it.entry.tombstone {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// rangeScanRaw is like RangeScan but includes tombstones, for callers
// (the engine's merged range scan, compaction) that need to know a key
// was deleted rather than simply absent from this table.
func (t *SSTable) rangeScanRaw(start, end string) ([]kv, error) {
	lo := sort.Search(len(t.index), func(i int) bool { return t.index[i].Key >= start })
	f, err := os.Open(t.dataFile())
	if err != nil {
		return nil, fmt.Errorf("storage: sstable open data: %w", err)
	}
	defer f.Close()

	var out []kv
	for i := lo; i < len(t.index) && t.index[i].Key <= end; i++ {
		if _, err := f.Seek(t.index[i].Offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("storage: sstable seek: %w", err)
		}
		val, deleted, err := readDataRecord(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("storage: sstable read: %w", err)
		}
		out = append(out, kv{key: t.index[i].Key, entry: entry{value: val, tombstone: deleted}})
	}
	return out, nil
}

// AllEntries returns every entry in the table, live or tombstoned, in
// sorted key order. Used by compaction to merge tables.
func (t *SSTable) AllEntries() ([]kv, error) {
	f, err := os.Open(t.dataFile())
	if err != nil {
		return nil, fmt.Errorf("storage: sstable open data: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	out := make([]kv, 0, len(t.index))
	for _, e := range t.index {
		val, deleted, err := readDataRecord(r)
		if err != nil {
			return nil, fmt.Errorf("storage: sstable read: %w", err)
		}
		out = append(out, kv{key: e.Key, entry: entry{value: val, tombstone: deleted}})
	}
	return out, nil
}

// Remove deletes the table's three files. Used after compaction
// supersedes a table.
func (t *SSTable) Remove() {
	os.Remove(t.dataFile())
	os.Remove(t.indexFile())
	os.Remove(t.bloomFile())
}

// RemoveIncompleteSSTable removes any partial output left at base by a
// crash mid-creation (e.g. an index/bloom file with no matching data
// file, or vice versa). Called during startup cleanup.
func RemoveIncompleteSSTable(base string) {
	os.Remove(base + ".data")
	os.Remove(base + ".index")
	os.Remove(base + ".bloom")
}

// writeDataRecord appends one data-file record: key_len(4)|key|value_len(4)|value.
// A tombstone is recorded as the reserved value length 0xFFFFFFFF with no
// value bytes after it, so an empty live value (length 0) is never
// confused with a tombstone.
const tombstoneMarker = 0xFFFFFFFF

func writeDataRecord(w io.Writer, key string, value []byte, deleted bool) (int64, error) {
	var n int64
	var keyLen [4]byte
	binary.LittleEndian.PutUint32(keyLen[:], uint32(len(key)))
	if _, err := w.Write(keyLen[:]); err != nil {
		return 0, err
	}
	n += 4
	if _, err := io.WriteString(w, key); err != nil {
		return 0, err
	}
	n += int64(len(key))

	var valLen [4]byte
	if deleted {
		binary.LittleEndian.PutUint32(valLen[:], tombstoneMarker)
	} else {
		binary.LittleEndian.PutUint32(valLen[:], uint32(len(value)))
	}
	if _, err := w.Write(valLen[:]); err != nil {
		return 0, err
	}
	n += 4
	if !deleted && len(value) > 0 {
		if _, err := w.Write(value); err != nil {
			return 0, err
		}
		n += int64(len(value))
	}
	return n, nil
}

func readDataRecord(r *bufio.Reader) ([]byte, bool, error) {
	var keyLen [4]byte
	if _, err := io.ReadFull(r, keyLen[:]); err != nil {
		return nil, false, err
	}
	kl := binary.LittleEndian.Uint32(keyLen[:])
	if _, err := io.CopyN(io.Discard, r, int64(kl)); err != nil {
		return nil, false, err
	}
	var valLen [4]byte
	if _, err := io.ReadFull(r, valLen[:]); err != nil {
		return nil, false, err
	}
	vl := binary.LittleEndian.Uint32(valLen[:])
	if vl == tombstoneMarker {
		return nil, true, nil
	}
	if vl == 0 {
		return nil, false, nil
	}
	val := make([]byte, vl)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, false, err
	}
	return val, false, nil
}
