// Package txcodec implements canonical Bitcoin transaction (de)serialization,
// the SIGHASH_ALL sighash procedure, and scriptSig/scriptPubKey construction
// for the two standard templates (P2PKH inputs/outputs and P2SH
// scriptPubKeys for spending contexts the wallet itself does not
// originate).
package txcodec

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opEqual       = 0x87
)

// BuildP2PKHScriptPubKey returns OP_DUP OP_HASH160 <20-byte hash>
// OP_EQUALVERIFY OP_CHECKSIG.
func BuildP2PKHScriptPubKey(pubKeyHash [20]byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, opDup, opHash160, byte(len(pubKeyHash)))
	script = append(script, pubKeyHash[:]...)
	script = append(script, opEqualVerify, opCheckSig)
	return script
}

// BuildP2SHScriptPubKey returns OP_HASH160 <20-byte script hash> OP_EQUAL,
// the P2SH output template.
func BuildP2SHScriptPubKey(scriptHash [20]byte) []byte {
	script := make([]byte, 0, 23)
	script = append(script, opHash160, byte(len(scriptHash)))
	script = append(script, scriptHash[:]...)
	script = append(script, opEqual)
	return script
}

// pushData returns a minimal-push encoding of data (data.Len() < 76,
// the only case the wallet's own signing paths ever produce).
func pushData(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, byte(len(data)))
	out = append(out, data...)
	return out
}

// BuildP2PKHScriptSig returns <push sig||sighash_type> <push pubkey>, the
// input script that satisfies a P2PKH scriptPubKey once signed.
func BuildP2PKHScriptSig(derSig []byte, sighashType byte, pubKey []byte) []byte {
	sigPush := append(append([]byte{}, derSig...), sighashType)
	out := make([]byte, 0, len(sigPush)+1+len(pubKey)+1)
	out = append(out, pushData(sigPush)...)
	out = append(out, pushData(pubKey)...)
	return out
}

// IsP2PKH reports whether script matches the P2PKH template and, if so,
// returns the embedded pubkey hash.
func IsP2PKH(script []byte) ([20]byte, bool) {
	var hash [20]byte
	if len(script) != 25 {
		return hash, false
	}
	if script[0] != opDup || script[1] != opHash160 || script[2] != 0x14 ||
		script[23] != opEqualVerify || script[24] != opCheckSig {
		return hash, false
	}
	copy(hash[:], script[3:23])
	return hash, true
}
