package hashes

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// Ripemd160Size is the length in bytes of a Ripemd160 digest.
const Ripemd160Size = 20

// Sha256Size is the length in bytes of a Sha256 digest.
const Sha256Size = 32

// Ripemd160 is the 160-bit digest used for block ids, record ids, produced
// secrets and the random seed. Printed as plain hex in byte order.
type Ripemd160 [Ripemd160Size]byte

// Sha256 is the 256-bit digest used for the chain id and transaction digests.
type Sha256 [Sha256Size]byte

// String returns the Ripemd160 as the hexadecimal string of the byte-wise
// digest.
func (h Ripemd160) String() string {
	return hex.EncodeToString(h[:])
}

// CloneBytes returns a copy of the bytes which represent the digest.
//
// NOTE: It is generally cheaper to just slice the digest directly thereby
// reusing the same bytes rather than calling this method.
func (h *Ripemd160) CloneBytes() []byte {
	newHash := make([]byte, Ripemd160Size)
	copy(newHash, h[:])
	return newHash
}

// SetBytes sets the bytes which represent the digest. An error is returned if
// the number of bytes passed in is not Ripemd160Size.
func (h *Ripemd160) SetBytes(newHash []byte) error {
	if len(newHash) != Ripemd160Size {
		return errors.Errorf("invalid hash length of %d, want %d",
			len(newHash), Ripemd160Size)
	}
	copy(h[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as the digest.
func (h *Ripemd160) IsEqual(target *Ripemd160) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// IsZero returns true if the digest is all zeroes.
func (h *Ripemd160) IsZero() bool {
	return *h == Ripemd160{}
}

// NewRipemd160 returns a new Ripemd160 from a byte slice. An error is returned
// if the number of bytes passed in is not Ripemd160Size.
func NewRipemd160(newHash []byte) (*Ripemd160, error) {
	var h Ripemd160
	err := h.SetBytes(newHash)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// NewRipemd160FromStr creates a Ripemd160 from a digest string.
func NewRipemd160FromStr(hashStr string) (*Ripemd160, error) {
	decoded, err := hex.DecodeString(hashStr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewRipemd160(decoded)
}

// String returns the Sha256 as the hexadecimal string of the byte-wise
// digest.
func (h Sha256) String() string {
	return hex.EncodeToString(h[:])
}

// CloneBytes returns a copy of the bytes which represent the digest.
func (h *Sha256) CloneBytes() []byte {
	newHash := make([]byte, Sha256Size)
	copy(newHash, h[:])
	return newHash
}

// SetBytes sets the bytes which represent the digest. An error is returned if
// the number of bytes passed in is not Sha256Size.
func (h *Sha256) SetBytes(newHash []byte) error {
	if len(newHash) != Sha256Size {
		return errors.Errorf("invalid hash length of %d, want %d",
			len(newHash), Sha256Size)
	}
	copy(h[:], newHash)
	return nil
}

// IsEqual returns true if target is the same as the digest.
func (h *Sha256) IsEqual(target *Sha256) bool {
	if h == nil && target == nil {
		return true
	}
	if h == nil || target == nil {
		return false
	}
	return *h == *target
}

// IsZero returns true if the digest is all zeroes.
func (h *Sha256) IsZero() bool {
	return *h == Sha256{}
}

// NewSha256 returns a new Sha256 from a byte slice. An error is returned if
// the number of bytes passed in is not Sha256Size.
func NewSha256(newHash []byte) (*Sha256, error) {
	var h Sha256
	err := h.SetBytes(newHash)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// NewSha256FromStr creates a Sha256 from a digest string.
func NewSha256FromStr(hashStr string) (*Sha256, error) {
	decoded, err := hex.DecodeString(hashStr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewSha256(decoded)
}
