package storage

import (
	"fmt"
	"testing"

	"github.com/veloxdb/veloxdb/internal/testutil"
)

func openTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	e, err := Open(dir, lg, opts)
	testutil.Check(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// TestCrashRecoveryRoundTrip mirrors scenario A: put/delete/put, sync,
// simulate a crash by reopening the engine from the same directory.
func TestCrashRecoveryRoundTrip(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)

	e, err := Open(dir, lg, Options{})
	testutil.Check(t, err)
	testutil.Check(t, e.Put("a", []byte("1")))
	testutil.Check(t, e.Put("b", []byte("2")))
	testutil.Check(t, e.Delete("a"))
	testutil.Check(t, e.Put("c", []byte("3")))
	testutil.Check(t, e.wal.Sync())
	// Simulate a crash: skip the graceful Close path (no flush, no WAL
	// truncation) and reopen straight from the directory.

	e2, err := Open(dir, lg, Options{})
	testutil.Check(t, err)
	defer e2.Close()

	if _, ok := e2.Get("a"); ok {
		t.Fatalf("Get(a) after recovery = present; want absent (deleted)")
	}
	if v, ok := e2.Get("b"); !ok || string(v) != "2" {
		t.Fatalf("Get(b) after recovery = %q, %v; want 2, true", v, ok)
	}
	if v, ok := e2.Get("c"); !ok || string(v) != "3" {
		t.Fatalf("Get(c) after recovery = %q, %v; want 3, true", v, ok)
	}

	got := e2.RangeScan("a", "z")
	if len(got) != 2 || got[0].Key != "b" || got[1].Key != "c" {
		t.Fatalf("RangeScan(a,z) after recovery = %v; want [b c]", got)
	}
}

// TestFlushDoesNotBlockWrites mirrors scenario B: a tiny memtable
// threshold forces many flushes back to back; every write must still
// succeed and be readable afterward.
func TestFlushDoesNotBlockWrites(t *testing.T) {
	e := openTestEngine(t, Options{MemTableSize: 10})

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("k%d", i)
		val := fmt.Sprintf("v%d", i)
		testutil.Check(t, e.Put(key, []byte(val)))
	}

	v, ok := e.Get("k37")
	if !ok || string(v) != "v37" {
		t.Fatalf("Get(k37) = %q, %v; want v37, true", v, ok)
	}
}

func TestGetSearchOrderActiveBeatsSSTable(t *testing.T) {
	e := openTestEngine(t, Options{MemTableSize: 10})
	testutil.Check(t, e.Put("a", []byte("old")))
	// Push enough writes to move the old value of "a" into an SSTable,
	// then overwrite it in the active memtable.
	for i := 0; i < 20; i++ {
		testutil.Check(t, e.Put(fmt.Sprintf("pad%d", i), []byte("x")))
	}
	testutil.Check(t, e.Put("a", []byte("new")))

	v, ok := e.Get("a")
	if !ok || string(v) != "new" {
		t.Fatalf("Get(a) = %q, %v; want new, true", v, ok)
	}
}

func TestDeleteAfterSSTableFlushReturnsAbsent(t *testing.T) {
	e := openTestEngine(t, Options{MemTableSize: 10})
	testutil.Check(t, e.Put("a", []byte("1")))
	// Push enough writes to guarantee "a" has been flushed to an SSTable.
	for i := 0; i < 20; i++ {
		testutil.Check(t, e.Put(fmt.Sprintf("pad%d", i), []byte("x")))
	}
	testutil.Check(t, e.Delete("a"))

	if _, ok := e.Get("a"); ok {
		t.Fatalf("Get(a) after delete = present; want absent even though a live copy exists in an SSTable")
	}
}

func TestPutBatchSharesOneWALBatch(t *testing.T) {
	e := openTestEngine(t, Options{})
	keys := []string{"a", "b", "c"}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	testutil.Check(t, e.PutBatch(keys, vals))

	for i, k := range keys {
		v, ok := e.Get(k)
		if !ok || string(v) != string(vals[i]) {
			t.Fatalf("Get(%s) = %q, %v; want %q, true", k, v, ok, vals[i])
		}
	}
}

func TestRangeScanStartEqualsEnd(t *testing.T) {
	e := openTestEngine(t, Options{})
	testutil.Check(t, e.Put("a", []byte("1")))
	testutil.Check(t, e.Put("b", []byte("2")))

	got := e.RangeScan("a", "a")
	if len(got) != 1 || got[0].Key != "a" {
		t.Fatalf("RangeScan(a,a) = %v; want single entry a", got)
	}
}

func TestStatsReportsCounts(t *testing.T) {
	e := openTestEngine(t, Options{})
	testutil.Check(t, e.Put("a", []byte("1")))

	s := e.Stats()
	if s.TotalKeys < 1 {
		t.Fatalf("Stats().TotalKeys = %d; want >= 1", s.TotalKeys)
	}
}

func TestCompactionMergesSSTables(t *testing.T) {
	e := openTestEngine(t, Options{MemTableSize: 10, CompactionEvery: 0, CompactionArity: 3})

	// Force several flushes so multiple SSTables accumulate.
	for i := 0; i < 60; i++ {
		testutil.Check(t, e.Put(fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))))
	}

	// Wait for in-flight flushes so every table is in the compaction
	// snapshot.
	e.pool.Close()
	e.maybeCompact()
	e.pool.Close()

	s := e.Stats()
	if s.SSTableCount > 1 {
		t.Fatalf("Stats().SSTableCount = %d after forced compaction; want <= 1", s.SSTableCount)
	}
	// Logical contents must survive compaction.
	v, ok := e.Get("k37")
	if !ok || string(v) != "v37" {
		t.Fatalf("Get(k37) after compaction = %q, %v; want v37, true", v, ok)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	e, err := Open(dir, lg, Options{})
	testutil.Check(t, err)
	testutil.Check(t, e.Close())
	testutil.Check(t, e.Close())
}
