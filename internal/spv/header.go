// Package spv implements the SPV verifier (C6): an append-only,
// proof-of-work-checked block-header store and Merkle-branch
// verification that stamps stored transactions with a confirmation
// record once their inclusion in a header the client has itself walked
// is proven.
package spv

import (
	"encoding/binary"
	"math/big"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// SerializeHeader encodes an 80-byte Bitcoin block header in wire order.
func SerializeHeader(h models.BlockHeader) [80]byte {
	var buf [80]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Time)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// ParseHeader decodes an 80-byte wire-format block header.
func ParseHeader(data []byte) models.BlockHeader {
	var h models.BlockHeader
	h.Version = binary.LittleEndian.Uint32(data[0:4])
	copy(h.PrevHash[:], data[4:36])
	copy(h.MerkleRoot[:], data[36:68])
	h.Time = binary.LittleEndian.Uint32(data[68:72])
	h.Bits = binary.LittleEndian.Uint32(data[72:76])
	h.Nonce = binary.LittleEndian.Uint32(data[76:80])
	return h
}

// HeaderHash returns the block hash: hash256 of the serialized header,
// reversed into conventional display/reference byte order.
func HeaderHash(h models.BlockHeader) [32]byte {
	raw := SerializeHeader(h)
	return cryptoutil.Reverse32(cryptoutil.Hash256(raw[:]))
}

// bitsToTarget expands the compact "bits" encoding into the full target
// a header hash must not exceed.
func bitsToTarget(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x007fffff)

	target := big.NewInt(mantissa)
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}
	return target
}

// CheckProofOfWork reports whether h's hash does not exceed the target
// implied by its own declared bits. The conventional display hash
// (HeaderHash, big-endian) is exactly the byte-reversal of the
// little-endian integer miners target, so it can be read directly as a
// big-endian big.Int for the comparison. This only checks the header is
// internally consistent; it does not check bits against any
// difficulty-adjustment schedule (the core does not validate block
// rewards or retargeting, per scope).
func CheckProofOfWork(h models.BlockHeader) bool {
	hash := HeaderHash(h)
	hashInt := new(big.Int).SetBytes(hash[:])

	target := bitsToTarget(h.Bits)
	return hashInt.Cmp(target) <= 0
}
