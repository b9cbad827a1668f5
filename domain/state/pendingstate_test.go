package state

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/infrastructure/db/database/ldb"
)

var testBucket = database.MakeBucket([]byte("test"))

func prepareDatabaseForTest(t *testing.T) *ldb.LevelDB {
	db, err := ldb.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelDB: %s", err)
	}
	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Fatalf("Close: %s", err)
		}
	})
	return db
}

func TestPendingStateReadsFallThrough(t *testing.T) {
	db := prepareDatabaseForTest(t)

	committedKey := testBucket.Key([]byte("committed"))
	err := db.Put(committedKey, []byte("value1"))
	if err != nil {
		t.Fatalf("Put: %s", err)
	}

	overlay := NewPendingState(db)
	value, err := overlay.Get(committedKey)
	if err != nil {
		t.Fatalf("Get through the overlay: %s", err)
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Get through the overlay: got %s, want value1", value)
	}

	// A write in the overlay shadows the parent without changing it.
	err = overlay.Put(committedKey, []byte("value2"))
	if err != nil {
		t.Fatalf("Put into the overlay: %s", err)
	}
	value, err = overlay.Get(committedKey)
	if err != nil {
		t.Fatalf("Get a shadowed key: %s", err)
	}
	if !bytes.Equal(value, []byte("value2")) {
		t.Errorf("Get a shadowed key: got %s, want value2", value)
	}
	value, err = db.Get(committedKey)
	if err != nil {
		t.Fatalf("Get from the parent: %s", err)
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("overlay write leaked into the parent: got %s", value)
	}

	// A delete in the overlay hides the parent's value.
	err = overlay.Delete(committedKey)
	if err != nil {
		t.Fatalf("Delete in the overlay: %s", err)
	}
	_, err = overlay.Get(committedKey)
	if !database.IsNotFoundError(err) {
		t.Errorf("Get a deleted key: expected ErrNotFound, got %v", err)
	}
	has, err := overlay.Has(committedKey)
	if err != nil {
		t.Fatalf("Has a deleted key: %s", err)
	}
	if has {
		t.Errorf("Has a deleted key: got true")
	}
}

// TestOverlayUndoIdentity checks that applying an overlay to its parent and
// then applying the captured undo restores the parent exactly.
func TestOverlayUndoIdentity(t *testing.T) {
	db := prepareDatabaseForTest(t)

	preExisting := map[string]string{
		"a": "alpha",
		"b": "beta",
		"c": "gamma",
	}
	for suffix, value := range preExisting {
		err := db.Put(testBucket.Key([]byte(suffix)), []byte(value))
		if err != nil {
			t.Fatalf("Put: %s", err)
		}
	}

	overlay := NewPendingState(db)
	if err := overlay.Put(testBucket.Key([]byte("a")), []byte("overwritten")); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := overlay.Delete(testBucket.Key([]byte("b"))); err != nil {
		t.Fatalf("Delete: %s", err)
	}
	if err := overlay.Put(testBucket.Key([]byte("d")), []byte("created")); err != nil {
		t.Fatalf("Put: %s", err)
	}

	undo, err := overlay.CaptureUndo()
	if err != nil {
		t.Fatalf("CaptureUndo: %s", err)
	}
	err = overlay.Commit()
	if err != nil {
		t.Fatalf("Commit: %s", err)
	}

	// The parent now reflects the overlay.
	value, err := db.Get(testBucket.Key([]byte("a")))
	if err != nil || !bytes.Equal(value, []byte("overwritten")) {
		t.Fatalf("Get after commit: got %s, %v", value, err)
	}
	if _, err := db.Get(testBucket.Key([]byte("b"))); !database.IsNotFoundError(err) {
		t.Fatalf("Get a committed delete: expected ErrNotFound, got %v", err)
	}

	// A serialization round trip must not change what the undo restores.
	buf := &bytes.Buffer{}
	if err := undo.Serialize(buf); err != nil {
		t.Fatalf("Serialize: %s", err)
	}
	decodedUndo := &UndoState{}
	if err := decodedUndo.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Deserialize: %s", err)
	}
	if !reflect.DeepEqual(decodedUndo, undo) {
		t.Fatalf("undo state changed over a serialization round trip")
	}

	err = decodedUndo.Apply(db)
	if err != nil {
		t.Fatalf("Apply: %s", err)
	}

	for suffix, want := range preExisting {
		value, err := db.Get(testBucket.Key([]byte(suffix)))
		if err != nil {
			t.Fatalf("Get %q after undo: %s", suffix, err)
		}
		if !bytes.Equal(value, []byte(want)) {
			t.Errorf("Get %q after undo: got %s, want %s", suffix, value, want)
		}
	}
	if _, err := db.Get(testBucket.Key([]byte("d"))); !database.IsNotFoundError(err) {
		t.Errorf("undo left a created key behind: %v", err)
	}
}

func TestStackedOverlays(t *testing.T) {
	db := prepareDatabaseForTest(t)

	key := testBucket.Key([]byte("k"))
	if err := db.Put(key, []byte("base")); err != nil {
		t.Fatalf("Put: %s", err)
	}

	blockOverlay := NewPendingState(db)
	if err := blockOverlay.Put(key, []byte("block")); err != nil {
		t.Fatalf("Put: %s", err)
	}

	trxOverlay := NewPendingState(blockOverlay)
	value, err := trxOverlay.Get(key)
	if err != nil || !bytes.Equal(value, []byte("block")) {
		t.Fatalf("Get through two overlays: got %s, %v", value, err)
	}

	if err := trxOverlay.Put(key, []byte("trx")); err != nil {
		t.Fatalf("Put: %s", err)
	}

	// Dropping the inner overlay leaves the outer one untouched.
	trxOverlay = nil
	value, err = blockOverlay.Get(key)
	if err != nil || !bytes.Equal(value, []byte("block")) {
		t.Fatalf("Get after dropping the inner overlay: got %s, %v", value, err)
	}

	// Committing the inner overlay surfaces its write in the outer one.
	trxOverlay = NewPendingState(blockOverlay)
	if err := trxOverlay.Put(key, []byte("trx2")); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := trxOverlay.Commit(); err != nil {
		t.Fatalf("Commit: %s", err)
	}
	value, err = blockOverlay.Get(key)
	if err != nil || !bytes.Equal(value, []byte("trx2")) {
		t.Fatalf("Get after committing the inner overlay: got %s, %v", value, err)
	}
	value, err = db.Get(key)
	if err != nil || !bytes.Equal(value, []byte("base")) {
		t.Fatalf("inner commit leaked into the database: got %s, %v", value, err)
	}
}

func TestOverlayCursorMergesWrites(t *testing.T) {
	db := prepareDatabaseForTest(t)

	for _, suffix := range []string{"a", "c", "e"} {
		err := db.Put(testBucket.Key([]byte(suffix)), []byte("db-"+suffix))
		if err != nil {
			t.Fatalf("Put: %s", err)
		}
	}

	overlay := NewPendingState(db)
	// Insert between committed keys, shadow one and delete another.
	if err := overlay.Put(testBucket.Key([]byte("b")), []byte("ov-b")); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := overlay.Put(testBucket.Key([]byte("c")), []byte("ov-c")); err != nil {
		t.Fatalf("Put: %s", err)
	}
	if err := overlay.Delete(testBucket.Key([]byte("e"))); err != nil {
		t.Fatalf("Delete: %s", err)
	}
	if err := overlay.Put(testBucket.Key([]byte("f")), []byte("ov-f")); err != nil {
		t.Fatalf("Put: %s", err)
	}

	cursor, err := overlay.Cursor(testBucket)
	if err != nil {
		t.Fatalf("Cursor: %s", err)
	}
	defer cursor.Close()

	got := make(map[string]string)
	var gotOrder []string
	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			t.Fatalf("Key: %s", err)
		}
		value, err := cursor.Value()
		if err != nil {
			t.Fatalf("Value: %s", err)
		}
		got[string(key.Suffix())] = string(value)
		gotOrder = append(gotOrder, string(key.Suffix()))
	}

	want := map[string]string{
		"a": "db-a",
		"b": "ov-b",
		"c": "ov-c",
		"f": "ov-f",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merged cursor view: got %v, want %v", got, want)
	}
	wantOrder := []string{"a", "b", "c", "f"}
	if !reflect.DeepEqual(gotOrder, wantOrder) {
		t.Errorf("merged cursor order: got %v, want %v", gotOrder, wantOrder)
	}

	// Exact key lookup through the merged view.
	if err := cursor.Seek(testBucket.Key([]byte("c"))); err != nil {
		t.Errorf("Seek an existing key: %s", err)
	}
	if err := cursor.Seek(testBucket.Key([]byte("e"))); !database.IsNotFoundError(err) {
		t.Errorf("Seek a deleted key: expected ErrNotFound, got %v", err)
	}
}
