package cryptoutil

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
)

// Base58CheckEncode encodes version||payload with a 4-byte Hash256
// checksum appended, as Base58.
func Base58CheckEncode(version byte, payload []byte) string {
	data := make([]byte, 0, 1+len(payload)+4)
	data = append(data, version)
	data = append(data, payload...)

	checksum := Hash256(data)
	data = append(data, checksum[:4]...)

	return base58.Encode(data)
}

// Base58CheckDecode decodes a Base58Check string, verifying its checksum.
// It returns the version byte and payload (without version or checksum).
func Base58CheckDecode(s string) (byte, []byte, error) {
	decoded := base58.Decode(s)
	if len(decoded) < 5 {
		return 0, nil, fmt.Errorf("%w: too short", walleterr.ErrInvalidAddress)
	}

	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]

	want := Hash256(payload)
	for i := 0; i < 4; i++ {
		if checksum[i] != want[i] {
			return 0, nil, fmt.Errorf("%w: bad checksum", walleterr.ErrInvalidAddress)
		}
	}

	return payload[0], payload[1:], nil
}
