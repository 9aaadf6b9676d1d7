package cryptoutil

import (
	"bytes"
	"errors"
	"testing"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
)

func TestHash256_Reverse32(t *testing.T) {
	a := Hash256([]byte("abc"))
	b := Hash256([]byte("abc"))
	if a != b {
		t.Fatal("Hash256 is not deterministic")
	}
	if Reverse32(Reverse32(a)) != a {
		t.Fatal("Reverse32 is not an involution")
	}
	if Reverse32(a)[0] != a[31] {
		t.Fatal("Reverse32 does not reverse")
	}
}

func TestHash160_Length(t *testing.T) {
	h := Hash160([]byte("abc"))
	if len(h) != 20 {
		t.Fatalf("Hash160 length = %d", len(h))
	}
	if h == Hash160([]byte("abd")) {
		t.Fatal("different inputs collided")
	}
}

func TestBase58Check_EaterAddress(t *testing.T) {
	const eater = "1BitcoinEaterAddressDontSendf59kuE"

	version, payload, err := Base58CheckDecode(eater)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0x00 {
		t.Errorf("version byte = 0x%02x, want 0x00", version)
	}
	if len(payload) != 20 {
		t.Errorf("payload length = %d, want 20", len(payload))
	}
	if got := Base58CheckEncode(version, payload); got != eater {
		t.Errorf("re-encode = %s, want %s", got, eater)
	}
}

func TestBase58Check_RejectsTamperedChecksum(t *testing.T) {
	encoded := Base58CheckEncode(0x00, bytes.Repeat([]byte{0x5a}, 20))

	tampered := []byte(encoded)
	if tampered[len(tampered)-1] == '2' {
		tampered[len(tampered)-1] = '3'
	} else {
		tampered[len(tampered)-1] = '2'
	}
	if _, _, err := Base58CheckDecode(string(tampered)); !errors.Is(err, walleterr.ErrInvalidAddress) {
		t.Errorf("tampered address should fail with ErrInvalidAddress, got %v", err)
	}
}

func TestEncryptDecryptSecret_RoundTrip(t *testing.T) {
	const seedHex = "00000000000000000000000000000000"

	enc, err := EncryptSecret(seedHex, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if enc == seedHex {
		t.Fatal("ciphertext equals plaintext")
	}

	dec, err := DecryptSecret(enc, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if dec != seedHex {
		t.Errorf("round trip = %q, want %q", dec, seedHex)
	}
}

func TestEncryptSecret_FreshIVPerCall(t *testing.T) {
	const seedHex = "0123456789abcdef0123456789abcdef"
	a, err := EncryptSecret(seedHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptSecret(seedHex, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext must differ (random IV)")
	}
}

func TestDecryptSecret_WrongPassword(t *testing.T) {
	enc, err := EncryptSecret("0123456789abcdef0123456789abcdef", "right")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptSecret(enc, "wrong"); !errors.Is(err, walleterr.ErrWrongPassword) {
		t.Errorf("wrong password should fail with ErrWrongPassword, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	var keyBytes [32]byte
	keyBytes[31] = 0x01
	priv, err := ParsePrivateKeyBytes(keyBytes)
	if err != nil {
		t.Fatal(err)
	}

	hash := Hash256([]byte("message"))
	der := Sign(priv, hash)

	if !Verify(priv.PubKey(), hash, der) {
		t.Fatal("signature does not verify")
	}

	other := Hash256([]byte("other message"))
	if Verify(priv.PubKey(), other, der) {
		t.Fatal("signature verified against the wrong hash")
	}
}

func TestScalarPointArithmetic_Distributes(t *testing.T) {
	var ab, bb [32]byte
	ab[31] = 0x02
	bb[31] = 0x03

	a, _ := ScalarFromBytes(ab)
	b, _ := ScalarFromBytes(bb)

	// (a+b)·G == a·G + b·G, the identity sequence derivation rests on.
	lhs := ScalarBaseMult(AddScalars(a, b))
	rhs := AddPoints(ScalarBaseMult(a), ScalarBaseMult(b))

	if UncompressedXY(lhs) != UncompressedXY(rhs) {
		t.Fatal("scalar addition does not distribute over base multiplication")
	}
}

func TestPublicKeyFromXY_RoundTrip(t *testing.T) {
	var keyBytes [32]byte
	keyBytes[31] = 0x07
	priv, err := ParsePrivateKeyBytes(keyBytes)
	if err != nil {
		t.Fatal(err)
	}

	xy := UncompressedXY(priv.PubKey())
	pub, err := PublicKeyFromXY(xy)
	if err != nil {
		t.Fatal(err)
	}
	if UncompressedXY(pub) != xy {
		t.Error("X||Y form did not round-trip")
	}

	var offCurve [64]byte
	offCurve[0] = 0x01
	if _, err := PublicKeyFromXY(offCurve); err == nil {
		t.Error("off-curve point accepted")
	}
}

func TestParsePrivateKeyBytes_RejectsZero(t *testing.T) {
	var zero [32]byte
	if _, err := ParsePrivateKeyBytes(zero); err == nil {
		t.Error("zero scalar accepted as a private key")
	}
}
