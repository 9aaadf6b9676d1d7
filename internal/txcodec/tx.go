package txcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// sighashAll is the only sighash type the wallet produces.
const sighashAll = 0x01

// Serialize encodes tx in Bitcoin wire format. When signingIndex >= 0,
// every input's script is emptied except signingIndex, whose script is
// replaced by prevScriptPubKey — the SIGHASH_ALL preimage construction.
// Pass signingIndex < 0 for the ordinary broadcast/txid encoding.
func Serialize(tx *models.Transaction, signingIndex int, prevScriptPubKey []byte) []byte {
	buf := make([]byte, 0, 256)

	var versionBytes [4]byte
	binary.LittleEndian.PutUint32(versionBytes[:], tx.Version)
	buf = append(buf, versionBytes[:]...)

	buf = writeVarInt(buf, uint64(len(tx.Inputs)))
	for i, in := range tx.Inputs {
		buf = append(buf, in.PrevHash[:]...)
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], in.PrevIndex)
		buf = append(buf, idx[:]...)

		script := in.ScriptSig
		if signingIndex >= 0 {
			if i == signingIndex {
				script = prevScriptPubKey
			} else {
				script = nil
			}
		}
		buf = writeVarInt(buf, uint64(len(script)))
		buf = append(buf, script...)

		var seq [4]byte
		binary.LittleEndian.PutUint32(seq[:], in.Sequence)
		buf = append(buf, seq[:]...)
	}

	buf = writeVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		var val [8]byte
		binary.LittleEndian.PutUint64(val[:], out.Value)
		buf = append(buf, val[:]...)
		buf = writeVarInt(buf, uint64(len(out.ScriptPubKey)))
		buf = append(buf, out.ScriptPubKey...)
	}

	var lockTime [4]byte
	binary.LittleEndian.PutUint32(lockTime[:], tx.LockTime)
	buf = append(buf, lockTime[:]...)

	return buf
}

// Parse decodes a wire-format transaction.
func Parse(data []byte) (*models.Transaction, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("tx: too short")
	}
	tx := &models.Transaction{}
	off := 0

	tx.Version = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	numIn, n, err := readVarInt(data, off)
	if err != nil {
		return nil, fmt.Errorf("tx: input count: %w", err)
	}
	off += n

	tx.Inputs = make([]models.TxIn, numIn)
	for i := range tx.Inputs {
		if off+36 > len(data) {
			return nil, fmt.Errorf("tx: truncated input %d", i)
		}
		var in models.TxIn
		copy(in.PrevHash[:], data[off:off+32])
		off += 32
		in.PrevIndex = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4

		scriptLen, n, err := readVarInt(data, off)
		if err != nil {
			return nil, fmt.Errorf("tx: input %d script len: %w", i, err)
		}
		off += n
		if off+int(scriptLen) > len(data) {
			return nil, fmt.Errorf("tx: truncated input %d script", i)
		}
		in.ScriptSig = append([]byte(nil), data[off:off+int(scriptLen)]...)
		off += int(scriptLen)

		if off+4 > len(data) {
			return nil, fmt.Errorf("tx: truncated input %d sequence", i)
		}
		in.Sequence = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4

		tx.Inputs[i] = in
	}

	numOut, n, err := readVarInt(data, off)
	if err != nil {
		return nil, fmt.Errorf("tx: output count: %w", err)
	}
	off += n

	tx.Outputs = make([]models.TxOut, numOut)
	for i := range tx.Outputs {
		if off+8 > len(data) {
			return nil, fmt.Errorf("tx: truncated output %d", i)
		}
		var out models.TxOut
		out.Value = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8

		scriptLen, n, err := readVarInt(data, off)
		if err != nil {
			return nil, fmt.Errorf("tx: output %d script len: %w", i, err)
		}
		off += n
		if off+int(scriptLen) > len(data) {
			return nil, fmt.Errorf("tx: truncated output %d script", i)
		}
		out.ScriptPubKey = append([]byte(nil), data[off:off+int(scriptLen)]...)
		off += int(scriptLen)

		tx.Outputs[i] = out
	}

	if off+4 > len(data) {
		return nil, fmt.Errorf("tx: truncated locktime")
	}
	tx.LockTime = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	if off != len(data) {
		return nil, fmt.Errorf("tx: %d trailing bytes", len(data)-off)
	}

	return tx, nil
}

// Txid returns the reversed-byte-order double-SHA256 of the plain
// serialization — the conventional display/reference txid.
func Txid(tx *models.Transaction) [32]byte {
	raw := Serialize(tx, -1, nil)
	return cryptoutil.Reverse32(cryptoutil.Hash256(raw))
}

// Sighash computes the SIGHASH_ALL preimage hash for input i: the
// transaction with every input's script emptied except i (set to the
// referenced output's scriptPubKey), with the sighash type appended as a
// little-endian uint32, hashed with Hash256.
func Sighash(tx *models.Transaction, inputIndex int, prevScriptPubKey []byte) [32]byte {
	preimage := Serialize(tx, inputIndex, prevScriptPubKey)
	var typeBytes [4]byte
	binary.LittleEndian.PutUint32(typeBytes[:], sighashAll)
	preimage = append(preimage, typeBytes[:]...)
	return cryptoutil.Hash256(preimage)
}
