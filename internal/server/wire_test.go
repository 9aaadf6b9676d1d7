package server

import (
	"encoding/hex"
	"testing"
)

func TestDecodeHistoryList_FromLiteral(t *testing.T) {
	txidHex := hex.EncodeToString(make([]byte, 32))
	scriptHex := "76a914" + hex.EncodeToString(make([]byte, 20)) + "88ac"
	raw := []interface{}{
		[]interface{}{txidHex, int64(100), int64(5000), int64(0), scriptHex, false},
	}

	entries, err := decodeHistoryList(raw)
	if err != nil {
		t.Fatalf("decodeHistoryList: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if entries[0].Height != 100 || entries[0].ValueSigned != 5000 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if entries[0].IsInput {
		t.Fatalf("expected IsInput false")
	}
}

func TestDecodeMerkleResult_FromLiteral(t *testing.T) {
	h := hex.EncodeToString(make([]byte, 32))
	raw := []interface{}{
		[]interface{}{h, h},
		int64(3),
		int64(500000),
	}
	res, err := decodeMerkleResult(raw)
	if err != nil {
		t.Fatalf("decodeMerkleResult: %v", err)
	}
	if len(res.Branch) != 2 || res.Pos != 3 || res.BlockHeight != 500000 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecodeJSONHistoryList(t *testing.T) {
	txidHex := hex.EncodeToString(make([]byte, 32))
	scriptHex := "76a914" + hex.EncodeToString(make([]byte, 20)) + "88ac"
	raw := []interface{}{
		[]interface{}{txidHex, float64(200), float64(-3000), float64(1), scriptHex, true},
	}
	entries, err := decodeJSONHistoryList(raw)
	if err != nil {
		t.Fatalf("decodeJSONHistoryList: %v", err)
	}
	if len(entries) != 1 || entries[0].Height != 200 || entries[0].ValueSigned != -3000 || !entries[0].IsInput {
		t.Fatalf("unexpected entry: %+v", entries)
	}
}

func TestDecodeHexHash32_RejectsWrongLength(t *testing.T) {
	if _, err := decodeHexHash32("abcd"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}
