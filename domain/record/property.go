package record

import (
	"bytes"

	"github.com/xtsnet/xtsd/util/hashes"
)

// PropertyID enumerates the singleton chain properties kept in the property
// store.
type PropertyID uint32

// Chain properties.
const (
	PropertyDatabaseVersion PropertyID = iota + 1
	PropertyChainID
	PropertyActiveDelegateListID
	PropertyLastAssetID
	PropertyLastAccountID
	PropertyLastObjectID
	PropertyLastRandomSeedID
	PropertyConfirmationRequirement
	PropertyHeadBlockID
	PropertyHeadBlockNum
	PropertyGenesisTimestamp
)

// Property value codecs. Properties are stored as packed bytes; each
// property uses one of these fixed encodings.

// PackPropertyUint64 encodes an integer property value.
func PackPropertyUint64(value uint64) []byte {
	buf := &bytes.Buffer{}
	_ = WriteElement(buf, value)
	return buf.Bytes()
}

// UnpackPropertyUint64 decodes an integer property value.
func UnpackPropertyUint64(serialized []byte) (uint64, error) {
	var value uint64
	err := ReadElement(bytes.NewReader(serialized), &value)
	return value, err
}

// PackPropertySha256 encodes a 256 bit property value such as the chain id.
func PackPropertySha256(value hashes.Sha256) []byte {
	return value.CloneBytes()
}

// UnpackPropertySha256 decodes a 256 bit property value.
func UnpackPropertySha256(serialized []byte) (hashes.Sha256, error) {
	var value hashes.Sha256
	err := value.SetBytes(serialized)
	return value, err
}

// PackPropertyRipemd160 encodes a 160 bit property value such as the latest
// random seed.
func PackPropertyRipemd160(value hashes.Ripemd160) []byte {
	return value.CloneBytes()
}

// UnpackPropertyRipemd160 decodes a 160 bit property value.
func UnpackPropertyRipemd160(serialized []byte) (hashes.Ripemd160, error) {
	var value hashes.Ripemd160
	err := value.SetBytes(serialized)
	return value, err
}
