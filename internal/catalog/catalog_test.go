package catalog

import (
	"testing"

	"github.com/veloxdb/veloxdb/internal/changestream"
	"github.com/veloxdb/veloxdb/internal/document"
	"github.com/veloxdb/veloxdb/internal/storage"
	"github.com/veloxdb/veloxdb/internal/testutil"
	"github.com/veloxdb/veloxdb/internal/vectorindex"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	store, err := storage.Open(dir, lg, storage.Options{})
	testutil.Check(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, changestream.New(lg), lg, "")
}

func TestCatalogDatabaseIsCreatedLazily(t *testing.T) {
	cat := newTestCatalog(t)
	db, err := cat.Database("shop")
	testutil.Check(t, err)
	if db.Name() != "shop" {
		t.Errorf("name = %q, want shop", db.Name())
	}

	again, err := cat.Database("shop")
	testutil.Check(t, err)
	if again != db {
		t.Error("Database should return the same cached handle on a second call")
	}

	names := cat.ListDatabases()
	if len(names) != 1 || names[0] != "shop" {
		t.Errorf("ListDatabases = %v, want [shop]", names)
	}
}

func TestCatalogDatabaseRejectsColonInName(t *testing.T) {
	cat := newTestCatalog(t)
	if _, err := cat.Database("a:b"); err == nil {
		t.Fatal("expected a validation error for a colon in the database name")
	}
}

func TestCatalogDropDatabaseRejectsDefault(t *testing.T) {
	cat := newTestCatalog(t)
	if _, err := cat.Database(DefaultDatabase); err != nil {
		t.Fatalf("Database: %v", err)
	}
	if err := cat.DropDatabase(DefaultDatabase); err == nil {
		t.Fatal("expected an error dropping the default database")
	}
}

func TestCatalogDropDatabaseRemovesAllKeys(t *testing.T) {
	cat := newTestCatalog(t)
	db, err := cat.Database("tmp")
	testutil.Check(t, err)
	coll, err := db.Collection("widgets")
	testutil.Check(t, err)
	_, err = coll.Insert(document.Document{"name": document.String("bolt")})
	testutil.Check(t, err)

	testutil.Check(t, cat.DropDatabase("tmp"))

	for _, name := range cat.ListDatabases() {
		if name == "tmp" {
			t.Fatal("dropped database should not appear in ListDatabases")
		}
	}
	if _, err := cat.Database("tmp"); err != nil {
		t.Fatalf("reopening a dropped database should create it fresh: %v", err)
	}
}

func TestDatabaseCollectionPersistsIndexesAcrossReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	store, err := storage.Open(dir, lg, storage.Options{})
	testutil.Check(t, err)

	cat := New(store, changestream.New(lg), lg, "")
	db, err := cat.Database("shop")
	testutil.Check(t, err)
	testutil.Check(t, db.CreateIndex("products", "sku"))
	coll, err := db.Collection("products")
	testutil.Check(t, err)
	_, err = coll.Insert(document.Document{"sku": document.String("abc")})
	testutil.Check(t, err)
	// Enough other documents that the optimizer's cost model favours the
	// index for an equality lookup; with one document it scans.
	for i := 0; i < 50; i++ {
		_, err = coll.Insert(document.Document{"sku": document.Int(int64(i))})
		testutil.Check(t, err)
	}
	testutil.Check(t, store.Close())

	store2, err := storage.Open(dir, lg, storage.Options{})
	testutil.Check(t, err)
	t.Cleanup(func() { store2.Close() })
	cat2 := New(store2, changestream.New(lg), lg, "")
	db2, err := cat2.Database("shop")
	testutil.Check(t, err)
	coll2, err := db2.Collection("products")
	testutil.Check(t, err)

	if fields := coll2.IndexedFieldNames(); len(fields) != 1 || fields[0] != "sku" {
		t.Errorf("IndexedFieldNames after reopen = %v, want [sku]", fields)
	}

	plan, err := coll2.Explain(document.Filter{"sku": document.String("abc")}, 0)
	testutil.Check(t, err)
	if plan.Strategy != document.StrategyIndex {
		t.Errorf("plan strategy = %v, want index use after reopen rebuilds the index", plan.Strategy)
	}
}

func TestDatabaseVectorCollectionSurvivesReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	lg := testutil.Slogger(t)
	store, err := storage.Open(dir, lg, storage.Options{})
	testutil.Check(t, err)

	cat := New(store, changestream.New(lg), lg, dir+"/vectors")
	db, err := cat.Database("shop")
	testutil.Check(t, err)
	vc, err := db.VectorCollection("embeddings", vectorindex.MetricCosine, 8, 50)
	testutil.Check(t, err)
	_, err = vc.Insert(document.Document{"name": document.String("bolt")}, vectorindex.Vector{1, 0, 0})
	testutil.Check(t, err)
	_, err = vc.Insert(document.Document{"name": document.String("nut")}, vectorindex.Vector{0, 1, 0})
	testutil.Check(t, err)
	testutil.Check(t, store.Close())

	store2, err := storage.Open(dir, lg, storage.Options{})
	testutil.Check(t, err)
	t.Cleanup(func() { store2.Close() })
	cat2 := New(store2, changestream.New(lg), lg, dir+"/vectors")
	db2, err := cat2.Database("shop")
	testutil.Check(t, err)
	vc2, err := db2.VectorCollection("embeddings", vectorindex.MetricCosine, 8, 50)
	testutil.Check(t, err)

	results, err := vc2.Search(vectorindex.Vector{1, 0, 0}, 1, nil)
	testutil.Check(t, err)
	if len(results) != 1 {
		t.Fatalf("Search after reopen returned %d results, want 1 (index should be restored from snapshot or engine scan)", len(results))
	}

	if _, err := vc2.Insert(document.Document{}, vectorindex.Vector{1, 0}); err == nil {
		t.Error("expected the restored dimension to reject a mismatched vector after reopen")
	}
}

func TestDatabaseVectorCollectionFixesConfigOnFirstUse(t *testing.T) {
	cat := newTestCatalog(t)
	db, err := cat.Database("shop")
	testutil.Check(t, err)

	vc, err := db.VectorCollection("embeddings", vectorindex.MetricCosine, 8, 50)
	testutil.Check(t, err)
	if vc == nil {
		t.Fatal("expected a non-nil vector collection")
	}

	again, err := db.VectorCollection("embeddings", vectorindex.MetricEuclidean, 16, 100)
	testutil.Check(t, err)
	if again != vc {
		t.Error("VectorCollection should return the cached handle, ignoring later metric/m/ef arguments")
	}
}

func TestDatabaseDropCollectionRemovesDocsAndMetadata(t *testing.T) {
	cat := newTestCatalog(t)
	db, err := cat.Database("shop")
	testutil.Check(t, err)
	coll, err := db.Collection("widgets")
	testutil.Check(t, err)
	_, err = coll.Insert(document.Document{"n": document.Int(1)})
	testutil.Check(t, err)

	testutil.Check(t, db.DropCollection("widgets"))

	for _, name := range db.ListCollections() {
		if name == "widgets" {
			t.Fatal("dropped collection should not appear in ListCollections")
		}
	}

	fresh, err := db.Collection("widgets")
	testutil.Check(t, err)
	count, err := fresh.Count(document.Filter{})
	testutil.Check(t, err)
	if count != 0 {
		t.Errorf("count after drop+recreate = %d, want 0", count)
	}
}

func TestDatabaseDropCollectionRejectsUnknown(t *testing.T) {
	cat := newTestCatalog(t)
	db, err := cat.Database("shop")
	testutil.Check(t, err)
	if err := db.DropCollection("nope"); err == nil {
		t.Fatal("expected an error dropping an unknown collection")
	}
}
