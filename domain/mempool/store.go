package mempool

import (
	"bytes"
	"io"

	"github.com/xtsnet/xtsd/domain/record"
	"github.com/xtsnet/xtsd/infrastructure/db/database"
	"github.com/xtsnet/xtsd/util/hashes"
)

// uniqueTrxBucket is the chain's replay fingerprint table, consulted so
// the pool refuses transactions the chain already confirmed.
var uniqueTrxBucket = database.MakeBucket([]byte("unique-transactions"))

func serializeToBytes(serialize func(io.Writer) error) ([]byte, error) {
	buffer := &bytes.Buffer{}
	err := serialize(buffer)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func storePendingTransaction(dbContext database.DataAccessor, transactionID hashes.Ripemd160,
	transaction *record.SignedTransaction) error {

	serialized, err := serializeToBytes(transaction.Serialize)
	if err != nil {
		return err
	}
	return dbContext.Put(pendingTrxBucket.Key(transactionID[:]), serialized)
}

func removePendingTransaction(dbContext database.DataAccessor, transactionID hashes.Ripemd160) error {
	return dbContext.Delete(pendingTrxBucket.Key(transactionID[:]))
}

func forEachPendingTransaction(dbContext database.DataAccessor,
	visit func(hashes.Ripemd160, *record.SignedTransaction) error) error {

	cursor, err := dbContext.Cursor(pendingTrxBucket)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for hasNext := cursor.First(); hasNext; hasNext = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return err
		}
		var transactionID hashes.Ripemd160
		err = transactionID.SetBytes(key.Suffix())
		if err != nil {
			return err
		}
		serialized, err := cursor.Value()
		if err != nil {
			return err
		}
		transaction := &record.SignedTransaction{}
		err = transaction.Deserialize(bytes.NewReader(serialized))
		if err != nil {
			return err
		}
		err = visit(transactionID, transaction)
		if err != nil {
			return err
		}
	}
	return nil
}

func hasUniqueTransaction(dbContext database.DataAccessor, digest hashes.Sha256) (bool, error) {
	return dbContext.Has(uniqueTrxBucket.Key(digest[:]))
}
