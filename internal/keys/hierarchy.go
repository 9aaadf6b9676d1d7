// Package keys implements the wallet's sequence-based key hierarchy: seed
// stretching, the master keypair, child derivation by (index, for_change),
// address encoding, and the imported-key table. This predates and
// deliberately differs from BIP-32 — there is no chain code, and the
// derivation offset is a single hash of the index, change flag, and
// master public key rather than a tree of HMAC derivations.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

const stretchRounds = 100000

// Stretch iterates SHA-256 stretchRounds times over x_i || seedBytes,
// starting from x_0 = seedBytes, and returns the final 32 bytes.
func Stretch(seedBytes []byte) [32]byte {
	x := seedBytes
	var sum [32]byte
	for i := 0; i < stretchRounds; i++ {
		h := sha256.New()
		h.Write(x)
		h.Write(seedBytes)
		h.Sum(sum[:0])
		x = sum[:]
	}
	return sum
}

// DecodeSeedHex validates that s is exactly 32 lowercase hex characters
// (a 128-bit seed) and returns the raw bytes.
func DecodeSeedHex(s string) ([]byte, error) {
	if len(s) != 32 {
		return nil, fmt.Errorf("%w: expected 32 hex chars, got %d", walleterr.ErrInvalidSeed, len(s))
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return nil, fmt.Errorf("%w: not lowercase hex", walleterr.ErrInvalidSeed)
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrInvalidSeed, err)
	}
	return b, nil
}

// MasterKeyPair is the stretched-seed master secret (when known) and its
// corresponding public point.
type MasterKeyPair struct {
	Secret *secp256k1.ModNScalar // nil when constructed from MPK alone
	Public *secp256k1.PublicKey
}

// NewMasterKeyPairFromSeed derives the master keypair from a seed hex
// string.
func NewMasterKeyPairFromSeed(seedHex string) (*MasterKeyPair, error) {
	seedBytes, err := DecodeSeedHex(seedHex)
	if err != nil {
		return nil, err
	}

	stretched := Stretch(seedBytes)
	secret, ok := cryptoutil.ScalarFromBytes(stretched)
	if !ok || secret.IsZero() {
		return nil, fmt.Errorf("%w: stretched seed out of range", walleterr.ErrInvalidSeed)
	}

	public := cryptoutil.ScalarBaseMult(secret)
	return &MasterKeyPair{Secret: secret, Public: public}, nil
}

// NewMasterKeyPairFromPublic reconstructs a watch-only master keypair
// from a previously stored raw MPK (no private derivation possible).
func NewMasterKeyPairFromPublic(mpkXY [64]byte) (*MasterKeyPair, error) {
	pub, err := cryptoutil.PublicKeyFromXY(mpkXY)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrStoreCorrupt, err)
	}
	return &MasterKeyPair{Public: pub}, nil
}

// PublicBytes returns the raw 64-byte X||Y master public key, the form
// the wallet store persists.
func (m *MasterKeyPair) PublicBytes() [64]byte {
	return cryptoutil.UncompressedXY(m.Public)
}

// DeriveOffset computes H(n || ":" || for_change_flag || ":" || MPK_bytes)
// interpreted as a scalar modulo the curve order.
func DeriveOffset(mpkBytes [64]byte, index uint32, forChange bool) *secp256k1.ModNScalar {
	flag := "0"
	if forChange {
		flag = "1"
	}
	msg := strconv.FormatUint(uint64(index), 10) + ":" + flag + ":"
	buf := make([]byte, 0, len(msg)+64)
	buf = append(buf, msg...)
	buf = append(buf, mpkBytes[:]...)

	digest := cryptoutil.Hash256(buf)
	scalar, _ := cryptoutil.ScalarFromBytes(digest)
	return scalar
}

// DeriveChildPublic returns the public key for (index, forChange):
// MPK + offset·G.
func (m *MasterKeyPair) DeriveChildPublic(index uint32, forChange bool) *secp256k1.PublicKey {
	mpkBytes := m.PublicBytes()
	offset := DeriveOffset(mpkBytes, index, forChange)
	offsetPoint := cryptoutil.ScalarBaseMult(offset)
	return cryptoutil.AddPoints(m.Public, offsetPoint)
}

// DeriveChildPrivate returns the private key for (index, forChange):
// master_secret + offset mod n. Requires the seed-derived secret.
func (m *MasterKeyPair) DeriveChildPrivate(index uint32, forChange bool) (*secp256k1.PrivateKey, error) {
	if m.Secret == nil {
		return nil, fmt.Errorf("%w: master secret unavailable (watch-only)", walleterr.ErrUnknownAddress)
	}
	mpkBytes := m.PublicBytes()
	offset := DeriveOffset(mpkBytes, index, forChange)
	childScalar := cryptoutil.AddScalars(m.Secret, offset)
	return secp256k1.NewPrivateKey(childScalar), nil
}

// AddressFromPublic encodes the Base58Check P2PKH address for a public
// key: version || Hash160(0x04 || X || Y).
func AddressFromPublic(pub *secp256k1.PublicKey, network models.Network) models.Address {
	xy := cryptoutil.UncompressedXY(pub)
	var uncompressed [65]byte
	uncompressed[0] = 0x04
	copy(uncompressed[1:], xy[:])

	hash := cryptoutil.Hash160(uncompressed[:])
	encoded := cryptoutil.Base58CheckEncode(network.AddressVersion(), hash[:])

	return models.Address{PubKeyHash: hash, Encoded: encoded}
}

// NewChildAddress derives and encodes address (index, forChange).
func (m *MasterKeyPair) NewChildAddress(index uint32, forChange bool, network models.Network) models.Address {
	addr := AddressFromPublic(m.DeriveChildPublic(index, forChange), network)
	addr.Index = index
	addr.ForChange = forChange
	return addr
}

// DecodeAddress validates a Base58Check address string against the
// expected network version byte and returns its 20-byte pubkey hash.
func DecodeAddress(encoded string, network models.Network) ([20]byte, error) {
	version, payload, err := cryptoutil.Base58CheckDecode(encoded)
	if err != nil {
		return [20]byte{}, err
	}
	if version != network.AddressVersion() {
		return [20]byte{}, fmt.Errorf("%w: unexpected version byte 0x%02x", walleterr.ErrInvalidAddress, version)
	}
	if len(payload) != 20 {
		return [20]byte{}, fmt.Errorf("%w: payload length %d", walleterr.ErrInvalidAddress, len(payload))
	}
	var hash [20]byte
	copy(hash[:], payload)
	return hash, nil
}
