package binaryserializer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// freeList recycles scratch buffers between serialization calls so that
// reading and writing primitive integers does not allocate. Every buffer
// has a capacity of 8, enough for a uint64; the channel bounds how many
// are kept for reuse.
const freeListSize = 1024

var freeList = make(chan []byte, freeListSize)

func borrow() []byte {
	var buf []byte
	select {
	case buf = <-freeList:
	default:
		buf = make([]byte, 8)
	}
	return buf[:8]
}

func recycle(buf []byte) {
	select {
	case freeList <- buf:
	default:
	}
}

func read(r io.Reader, width int) ([]byte, error) {
	buf := borrow()[:width]
	if _, err := io.ReadFull(r, buf); err != nil {
		recycle(buf)
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

// Uint8 reads a single byte from r.
func Uint8(r io.Reader) (uint8, error) {
	buf, err := read(r, 1)
	if err != nil {
		return 0, err
	}
	rv := buf[0]
	recycle(buf)
	return rv, nil
}

// Uint16 reads a little endian uint16 from r.
func Uint16(r io.Reader) (uint16, error) {
	buf, err := read(r, 2)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint16(buf)
	recycle(buf)
	return rv, nil
}

// Uint32 reads a little endian uint32 from r.
func Uint32(r io.Reader) (uint32, error) {
	buf, err := read(r, 4)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint32(buf)
	recycle(buf)
	return rv, nil
}

// Uint64 reads a little endian uint64 from r.
func Uint64(r io.Reader) (uint64, error) {
	buf, err := read(r, 8)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint64(buf)
	recycle(buf)
	return rv, nil
}

// PutUint8 writes val to w as a single byte.
func PutUint8(w io.Writer, val uint8) error {
	buf := borrow()[:1]
	buf[0] = val
	_, err := w.Write(buf)
	recycle(buf)
	return errors.WithStack(err)
}

// PutUint16 writes val to w in little endian order.
func PutUint16(w io.Writer, val uint16) error {
	buf := borrow()[:2]
	binary.LittleEndian.PutUint16(buf, val)
	_, err := w.Write(buf)
	recycle(buf)
	return errors.WithStack(err)
}

// PutUint32 writes val to w in little endian order.
func PutUint32(w io.Writer, val uint32) error {
	buf := borrow()[:4]
	binary.LittleEndian.PutUint32(buf, val)
	_, err := w.Write(buf)
	recycle(buf)
	return errors.WithStack(err)
}

// PutUint64 writes val to w in little endian order.
func PutUint64(w io.Writer, val uint64) error {
	buf := borrow()[:8]
	binary.LittleEndian.PutUint64(buf, val)
	_, err := w.Write(buf)
	recycle(buf)
	return errors.WithStack(err)
}
