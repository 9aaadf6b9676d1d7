package cryptoutil

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
)

// ScalarFromBytes interprets a 32-byte big-endian value modulo the curve
// order. The second return is false if the value was reduced (i.e. it was
// >= N before reduction), which callers use to detect the astronomically
// unlikely "offset == 0" or "out of range" seed conditions.
func ScalarFromBytes(b [32]byte) (*secp256k1.ModNScalar, bool) {
	var s secp256k1.ModNScalar
	overflow := s.SetBytes(&b) != 0
	return &s, !overflow
}

// AddScalars returns (a + b) mod N.
func AddScalars(a, b *secp256k1.ModNScalar) *secp256k1.ModNScalar {
	sum := new(secp256k1.ModNScalar).Set(a)
	sum.Add(b)
	return sum
}

// ScalarBaseMult returns scalar·G as an affine public key.
func ScalarBaseMult(scalar *secp256k1.ModNScalar) *secp256k1.PublicKey {
	var jacobian secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(scalar, &jacobian)
	jacobian.ToAffine()
	return secp256k1.NewPublicKey(&jacobian.X, &jacobian.Y)
}

// AddPoints returns a + b as an affine public key.
func AddPoints(a, b *secp256k1.PublicKey) *secp256k1.PublicKey {
	var ja, jb, sum secp256k1.JacobianPoint
	a.AsJacobian(&ja)
	b.AsJacobian(&jb)
	secp256k1.AddNonConst(&ja, &jb, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y)
}

// UncompressedXY returns the raw 64-byte X||Y concatenation of a public
// key, without the 0x04 prefix. This is the form the wallet stores as its
// master public key.
func UncompressedXY(pub *secp256k1.PublicKey) [64]byte {
	var out [64]byte
	pub.X().FillBytes(out[0:32])
	pub.Y().FillBytes(out[32:64])
	return out
}

// PublicKeyFromXY reconstructs a public key from its raw X||Y form.
func PublicKeyFromXY(xy [64]byte) (*secp256k1.PublicKey, error) {
	var ser [65]byte
	ser[0] = 0x04
	copy(ser[1:33], xy[0:32])
	copy(ser[33:65], xy[32:64])
	pub, err := secp256k1.ParsePubKey(ser[:])
	if err != nil {
		return nil, fmt.Errorf("parse master public key: %w", err)
	}
	return pub, nil
}

// Sign produces a low-S DER-encoded ECDSA signature (SIGHASH_ALL callers
// append the sighash type byte themselves).
func Sign(priv *secp256k1.PrivateKey, hash [32]byte) []byte {
	btcecPriv := (*btcec.PrivateKey)(priv)
	sig := ecdsa.Sign(btcecPriv, hash[:])
	return sig.Serialize()
}

// Verify checks a DER-encoded ECDSA signature against a public key and
// message hash.
func Verify(pub *secp256k1.PublicKey, hash [32]byte, der []byte) bool {
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	btcecPub := (*btcec.PublicKey)(pub)
	return sig.Verify(hash[:], btcecPub)
}

// ParsePrivateKeyBytes turns a raw 32-byte scalar into a private key,
// rejecting zero and out-of-range values.
func ParsePrivateKeyBytes(b [32]byte) (*secp256k1.PrivateKey, error) {
	scalar, ok := ScalarFromBytes(b)
	if !ok || scalar.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range", walleterr.ErrInvalidSeed)
	}
	return secp256k1.NewPrivateKey(scalar), nil
}
