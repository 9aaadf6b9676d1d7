// Package cryptoutil implements the crypto primitives the wallet core
// needs on top of secp256k1: hashing, Base58Check, and at-rest AES
// encryption of secrets. Curve arithmetic lives in secp.go.
package cryptoutil

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RIPEMD-160 is required by the Bitcoin protocol (Hash160)
)

// Hash256 is double SHA-256, the hash Bitcoin uses for txids and header
// linking.
func Hash256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Hash160 is RIPEMD-160(SHA-256(data)), the hash Bitcoin uses for
// pubkey-hash and script-hash addresses.
func Hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	var out [20]byte
	copy(out[:], ripe.Sum(nil))
	return out
}

// Reverse32 returns a byte-reversed copy of a 32-byte hash. Bitcoin displays
// and serializes txids and block hashes in reversed-byte order relative
// to how they come out of Hash256.
func Reverse32(h [32]byte) [32]byte {
	var out [32]byte
	for i := range h {
		out[i] = h[31-i]
	}
	return out
}
