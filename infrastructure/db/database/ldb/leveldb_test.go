package ldb

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/xtsnet/xtsd/infrastructure/db/database"
)

func TestLevelDBSanity(t *testing.T) {
	ldb, teardownFunc := prepareDatabaseForTest(t, "TestLevelDBSanity")
	defer teardownFunc()

	// Put something into the db
	key := database.MakeBucket().Key([]byte("key"))
	putData := []byte("Hello world!")
	err := ldb.Put(key, putData)
	if err != nil {
		t.Fatalf("TestLevelDBSanity: Put "+
			"unexpectedly failed: %s", err)
	}

	// Get from the key previously put to
	getData, err := ldb.Get(key)
	if err != nil {
		t.Fatalf("TestLevelDBSanity: Get "+
			"unexpectedly failed: %s", err)
	}

	// Make sure that the put data and the get data are equal
	if !bytes.Equal(getData, putData) {
		t.Fatalf("TestLevelDBSanity: get "+
			"returned wrong data. Want: %s, got: %s",
			string(putData), string(getData))
	}
}

func TestLevelDBTransactionSanity(t *testing.T) {
	ldb, teardownFunc := prepareDatabaseForTest(t, "TestLevelDBTransactionSanity")
	defer teardownFunc()

	// Case 1. Write in buffered mode and read it back before the flush
	err := ldb.SetWriteThrough(false)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: SetWriteThrough "+
			"unexpectedly failed: %s", err)
	}

	key := database.MakeBucket().Key([]byte("key"))
	putData := []byte("Hello world!")
	err = ldb.Put(key, putData)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Put "+
			"unexpectedly failed: %s", err)
	}

	// The buffered write must be visible to Get and Has before any flush
	getData, err := ldb.Get(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Get "+
			"unexpectedly failed: %s", err)
	}
	if !bytes.Equal(getData, putData) {
		t.Fatalf("TestLevelDBTransactionSanity: Get "+
			"returned wrong data. Want: %s, got: %s",
			string(putData), string(getData))
	}
	has, err := ldb.Has(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Has "+
			"unexpectedly failed: %s", err)
	}
	if !has {
		t.Fatalf("TestLevelDBTransactionSanity: Has " +
			"returned false for a buffered key")
	}

	// Case 2. Delete in buffered mode hides the key
	err = ldb.Delete(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Delete "+
			"unexpectedly failed: %s", err)
	}
	_, err = ldb.Get(key)
	if err == nil {
		t.Fatalf("TestLevelDBTransactionSanity: Get " +
			"unexpectedly succeeded for a deleted key")
	}
	if !database.IsNotFoundError(err) {
		t.Fatalf("TestLevelDBTransactionSanity: Get "+
			"returned wrong error: %s", err)
	}

	// Case 3. Enabling write-through flushes the buffer to disk
	err = ldb.Put(key, putData)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Put "+
			"unexpectedly failed: %s", err)
	}
	err = ldb.SetWriteThrough(true)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: SetWriteThrough "+
			"unexpectedly failed: %s", err)
	}
	getData, err = ldb.Get(key)
	if err != nil {
		t.Fatalf("TestLevelDBTransactionSanity: Get "+
			"unexpectedly failed after flush: %s", err)
	}
	if !bytes.Equal(getData, putData) {
		t.Fatalf("TestLevelDBTransactionSanity: Get "+
			"returned wrong data after flush. Want: %s, got: %s",
			string(putData), string(getData))
	}
}

func TestLevelDBCursorSeesBufferedWrites(t *testing.T) {
	ldb, teardownFunc := prepareDatabaseForTest(t, "TestLevelDBCursorSeesBufferedWrites")
	defer teardownFunc()

	err := ldb.SetWriteThrough(false)
	if err != nil {
		t.Fatalf("TestLevelDBCursorSeesBufferedWrites: SetWriteThrough "+
			"unexpectedly failed: %s", err)
	}

	bucket := database.MakeBucket([]byte("bucket"))
	for i := 0; i < 5; i++ {
		err := ldb.Put(bucket.Key([]byte(fmt.Sprintf("key%d", i))), []byte("value"))
		if err != nil {
			t.Fatalf("TestLevelDBCursorSeesBufferedWrites: Put "+
				"unexpectedly failed: %s", err)
		}
	}

	// Opening a cursor flushes the buffer so the iteration observes all writes
	cursor, err := ldb.Cursor(bucket)
	if err != nil {
		t.Fatalf("TestLevelDBCursorSeesBufferedWrites: Cursor "+
			"unexpectedly failed: %s", err)
	}
	defer cursor.Close()

	count := 0
	for ok := cursor.First(); ok; ok = cursor.Next() {
		count++
	}
	if count != 5 {
		t.Fatalf("TestLevelDBCursorSeesBufferedWrites: cursor "+
			"saw %d entries, want 5", count)
	}
}
