package storage

import "testing"

func TestMemTablePutGet(t *testing.T) {
	m := NewMemTable(0)
	m.Put("a", []byte("1"))
	m.Put("b", []byte("2"))

	if v, r := m.Get("a"); r != lookupFound || string(v) != "1" {
		t.Fatalf("Get(a) = %q, %v; want 1, found", v, r)
	}
	if _, r := m.Get("missing"); r != lookupMiss {
		t.Fatalf("Get(missing) = %v; want miss", r)
	}
}

func TestMemTableDeleteTombstone(t *testing.T) {
	m := NewMemTable(0)
	m.Put("a", []byte("1"))
	m.Delete("a")

	if _, r := m.Get("a"); r != lookupDeleted {
		t.Fatalf("Get(a) after delete = %v; want deleted", r)
	}
}

func TestMemTableOverwrite(t *testing.T) {
	m := NewMemTable(0)
	m.Put("a", []byte("1"))
	m.Put("a", []byte("longer-value"))

	if v, r := m.Get("a"); r != lookupFound || string(v) != "longer-value" {
		t.Fatalf("Get(a) = %q, %v; want longer-value, found", v, r)
	}
	if n := m.Len(); n != 1 {
		t.Fatalf("Len() = %d; want 1", n)
	}
}

func TestMemTableFullThreshold(t *testing.T) {
	m := NewMemTable(10)
	if full := m.Put("k1", []byte("v1")); full {
		t.Fatalf("first put reported full early")
	}
	full := false
	for i := 0; i < 20 && !full; i++ {
		full = m.Put("key-padding-to-grow-the-table", []byte("value-padding"))
	}
	if !full {
		t.Fatalf("expected memtable to report full after exceeding threshold")
	}
}

func TestMemTableRange(t *testing.T) {
	m := NewMemTable(0)
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Put(k, []byte(k))
	}
	m.Delete("c")

	got := m.Range("a", "c")
	if len(got) != 3 {
		t.Fatalf("Range(a,c) returned %d entries, want 3 (a,b,c incl. tombstone)", len(got))
	}
	if got[2].key != "c" || !got[2].entry.tombstone {
		t.Fatalf("expected c to be a tombstone entry in range results")
	}
}

func TestMemTableRangeSingleKey(t *testing.T) {
	m := NewMemTable(0)
	m.Put("a", []byte("1"))
	m.Put("b", []byte("2"))

	got := m.Range("a", "a")
	if len(got) != 1 || got[0].key != "a" {
		t.Fatalf("Range(a,a) = %v; want single entry a", got)
	}
}
