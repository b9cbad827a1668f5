package hashes

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"golang.org/x/crypto/ripemd160"
)

// IDWriter is used to incrementally hash serialized data into a record or
// block id without concatenating all of the data to a single buffer. It
// exposes an io.Writer api and a Finalize function to get the resulting id.
// The id digest is ripemd160 over sha512 of the written bytes.
type IDWriter struct {
	inner hash.Hash
}

// NewIDWriter returns a new IDWriter.
func NewIDWriter() *IDWriter {
	return &IDWriter{sha512.New()}
}

// Write will always return (len(p), nil).
func (w *IDWriter) Write(p []byte) (n int, err error) {
	return w.inner.Write(p)
}

// Finalize returns the resulting id.
func (w *IDWriter) Finalize() Ripemd160 {
	wide := w.inner.Sum(nil)
	narrow := ripemd160.New()
	narrow.Write(wide)

	var res Ripemd160
	copy(res[:], narrow.Sum(nil))
	return res
}

// HashID computes the id digest ripemd160(sha512(buf)) of a serialized
// record or block header.
func HashID(buf []byte) Ripemd160 {
	w := NewIDWriter()
	w.Write(buf)
	return w.Finalize()
}

// HashRipemd160 computes the plain ripemd160 digest of buf. Used to commit
// to a produced secret.
func HashRipemd160(buf []byte) Ripemd160 {
	narrow := ripemd160.New()
	narrow.Write(buf)

	var res Ripemd160
	copy(res[:], narrow.Sum(nil))
	return res
}

// HashSha256 computes the sha256 digest of buf. Used for the chain id, the
// transaction digest and the delegate shuffle.
func HashSha256(buf []byte) Sha256 {
	return sha256.Sum256(buf)
}
