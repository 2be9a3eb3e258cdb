package storage

import (
	"path/filepath"
	"testing"

	"github.com/veloxdb/veloxdb/internal/testutil"
)

func items(pairs ...string) []kv {
	var out []kv
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, kv{key: pairs[i], entry: entry{value: []byte(pairs[i+1])}})
	}
	return out
}

func TestSSTableCreateAndGet(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	base := filepath.Join(dir, "sstable_1")

	tbl, err := CreateSSTable(base, items("a", "1", "b", "2", "c", "3"), lg)
	testutil.Check(t, err)

	v, r, err := tbl.Get("b")
	testutil.Check(t, err)
	if r != lookupFound || string(v) != "2" {
		t.Fatalf("Get(b) = %q, %v; want 2, found", v, r)
	}

	_, r, err = tbl.Get("zzz")
	testutil.Check(t, err)
	if r != lookupMiss {
		t.Fatalf("Get(zzz) = %v; want miss", r)
	}
}

func TestSSTableTombstoneSentinel(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	base := filepath.Join(dir, "sstable_1")

	data := []kv{
		{key: "a", entry: entry{tombstone: true}},
		{key: "b", entry: entry{value: []byte("2")}},
	}
	tbl, err := CreateSSTable(base, data, lg)
	testutil.Check(t, err)

	_, r, err := tbl.Get("a")
	testutil.Check(t, err)
	if r != lookupDeleted {
		t.Fatalf("Get(a) = %v; want deleted sentinel, not absent or empty value", r)
	}
}

func TestSSTableRangeScanSkipsTombstones(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	base := filepath.Join(dir, "sstable_1")

	data := []kv{
		{key: "a", entry: entry{value: []byte("1")}},
		{key: "b", entry: entry{tombstone: true}},
		{key: "c", entry: entry{value: []byte("3")}},
	}
	tbl, err := CreateSSTable(base, data, lg)
	testutil.Check(t, err)

	got, err := tbl.RangeScan("a", "z")
	testutil.Check(t, err)
	if len(got) != 2 || got[0].key != "a" || got[1].key != "c" {
		t.Fatalf("RangeScan = %v; want [a c] with tombstone b skipped", got)
	}
}

func TestSSTableOpenRoundTrip(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	base := filepath.Join(dir, "sstable_1")

	_, err := CreateSSTable(base, items("a", "1", "b", "2"), lg)
	testutil.Check(t, err)

	reopened, err := OpenSSTable(base, lg)
	testutil.Check(t, err)

	v, r, err := reopened.Get("a")
	testutil.Check(t, err)
	if r != lookupFound || string(v) != "1" {
		t.Fatalf("Get(a) after reopen = %q, %v; want 1, found", v, r)
	}
}

func TestSSTableOpenMissingFileFails(t *testing.T) {
	dir := testutil.TempDir(t)
	_, err := OpenSSTable(filepath.Join(dir, "does-not-exist"), testutil.Slogger(t))
	if err == nil {
		t.Fatalf("OpenSSTable on missing files succeeded, want error")
	}
}

func TestSSTableBloomFilterHasNoFalseNegatives(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	base := filepath.Join(dir, "sstable_1")

	var data []kv
	for i := 0; i < 200; i++ {
		data = append(data, kv{key: paddedKey(i), entry: entry{value: []byte("v")}})
	}
	tbl, err := CreateSSTable(base, data, lg)
	testutil.Check(t, err)

	for i := 0; i < 200; i++ {
		if !tbl.bloom.MayContain([]byte(paddedKey(i))) {
			t.Fatalf("bloom filter false negative for key %d", i)
		}
	}
}

func paddedKey(i int) string {
	const digits = "0123456789"
	s := make([]byte, 6)
	for p := len(s) - 1; p >= 0; p-- {
		s[p] = digits[i%10]
		i /= 10
	}
	return "key-" + string(s)
}
