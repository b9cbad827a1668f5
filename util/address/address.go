package address

import (
	"bytes"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"

	"github.com/xtsnet/xtsd/util/hashes"
)

// legacyPrefixes are chain prefixes of earlier networks whose addresses may
// appear in imported genesis documents.
var legacyPrefixes = []string{"BTS", "KEY", "DVS", "XTS"}

// Address is the 160-bit commitment to an owner key, rendered as a chain
// prefix followed by base58 of the digest and a 4-byte checksum.
type Address struct {
	digest hashes.Ripemd160
	prefix string
}

// New returns the address for the given digest under the given chain prefix.
func New(digest hashes.Ripemd160, prefix string) Address {
	return Address{digest: digest, prefix: prefix}
}

// FromPublicKey derives the address committed to by a serialized compressed
// public key.
func FromPublicKey(pubKey []byte, prefix string) Address {
	return Address{digest: hashes.HashID(pubKey), prefix: prefix}
}

// Digest returns the address digest.
func (a Address) Digest() hashes.Ripemd160 {
	return a.digest
}

// Encode returns the string form of the address.
func (a Address) Encode() string {
	checksum := hashes.HashRipemd160(a.digest[:])
	payload := make([]byte, 0, hashes.Ripemd160Size+4)
	payload = append(payload, a.digest[:]...)
	payload = append(payload, checksum[:4]...)
	return a.prefix + base58.Encode(payload)
}

func (a Address) String() string {
	return a.Encode()
}

// Decode parses an address string carrying the given chain prefix.
func Decode(encoded string, prefix string) (Address, error) {
	if !strings.HasPrefix(encoded, prefix) {
		return Address{}, errors.Errorf("address %q does not carry prefix %q",
			encoded, prefix)
	}
	payload := base58.Decode(encoded[len(prefix):])
	if len(payload) != hashes.Ripemd160Size+4 {
		return Address{}, errors.Errorf("address %q has a malformed payload", encoded)
	}
	var digest hashes.Ripemd160
	copy(digest[:], payload[:hashes.Ripemd160Size])
	checksum := hashes.HashRipemd160(digest[:])
	if !bytes.Equal(checksum[:4], payload[hashes.Ripemd160Size:]) {
		return Address{}, errors.Errorf("address %q has a bad checksum", encoded)
	}
	return Address{digest: digest, prefix: prefix}, nil
}

// DecodeAny parses an address string under the chain prefix or, failing
// that, any of the legacy prefixes or the base58check form used before chain
// prefixes existed. The result always carries the given chain prefix.
func DecodeAny(encoded string, prefix string) (Address, error) {
	decoded, err := Decode(encoded, prefix)
	if err == nil {
		return decoded, nil
	}
	for _, legacyPrefix := range legacyPrefixes {
		decoded, err := Decode(encoded, legacyPrefix)
		if err == nil {
			return Address{digest: decoded.digest, prefix: prefix}, nil
		}
	}
	legacy, version, err := base58.CheckDecode(encoded)
	if err != nil {
		return Address{}, errors.Errorf("cannot parse address %q under any "+
			"known form", encoded)
	}

	// Base58check addresses commit to a different digest, so re-derive the
	// address from the versioned payload as a whole.
	payload := append([]byte{version}, legacy...)
	return Address{digest: hashes.HashID(payload), prefix: prefix}, nil
}
