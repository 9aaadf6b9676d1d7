package txcodec

import (
	"encoding/binary"
	"fmt"
)

// writeVarInt appends the Bitcoin CompactSize encoding of n to buf.
func writeVarInt(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		buf = append(buf, 0xfd)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(n))
		return append(buf, tmp[:]...)
	case n <= 0xffffffff:
		buf = append(buf, 0xfe)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(n))
		return append(buf, tmp[:]...)
	default:
		buf = append(buf, 0xff)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], n)
		return append(buf, tmp[:]...)
	}
}

// readVarInt reads a CompactSize value from data starting at off,
// returning the value and the number of bytes consumed.
func readVarInt(data []byte, off int) (uint64, int, error) {
	if off >= len(data) {
		return 0, 0, fmt.Errorf("varint: truncated")
	}
	first := data[off]
	switch {
	case first < 0xfd:
		return uint64(first), 1, nil
	case first == 0xfd:
		if off+3 > len(data) {
			return 0, 0, fmt.Errorf("varint: truncated uint16")
		}
		return uint64(binary.LittleEndian.Uint16(data[off+1 : off+3])), 3, nil
	case first == 0xfe:
		if off+5 > len(data) {
			return 0, 0, fmt.Errorf("varint: truncated uint32")
		}
		return uint64(binary.LittleEndian.Uint32(data[off+1 : off+5])), 5, nil
	default:
		if off+9 > len(data) {
			return 0, 0, fmt.Errorf("varint: truncated uint64")
		}
		return binary.LittleEndian.Uint64(data[off+1 : off+9]), 9, nil
	}
}
