package server

import (
	"encoding/hex"
	"fmt"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/spv"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// The helpers in this file turn a DecodeLiteral result (used by
// NativeClient, whose responses carry no field names) into the typed
// values Client's methods promise. Each wire method has a fixed,
// documented shape; a response that doesn't match it is a protocol
// error, not a panic.

func literalAsString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", walleterr.ErrTransportFailure, v)
	}
	return s, nil
}

func literalAsInt(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: expected integer, got %T", walleterr.ErrTransportFailure, v)
	}
	return n, nil
}

func literalAsList(v interface{}) ([]interface{}, error) {
	l, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected list/tuple, got %T", walleterr.ErrTransportFailure, v)
	}
	return l, nil
}

func decodeHexHash32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("%w: invalid 32-byte hex %q", walleterr.ErrTransportFailure, s)
	}
	copy(out[:], raw)
	return out, nil
}

func decodePeerList(v interface{}) ([]PeerInfo, error) {
	items, err := literalAsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]PeerInfo, 0, len(items))
	for _, item := range items {
		fields, err := literalAsList(item)
		if err != nil || len(fields) < 2 {
			return nil, fmt.Errorf("%w: malformed peer entry", walleterr.ErrTransportFailure)
		}
		ip, err := literalAsString(fields[0])
		if err != nil {
			return nil, err
		}
		host, err := literalAsString(fields[1])
		if err != nil {
			return nil, err
		}
		peer := PeerInfo{IP: ip, Host: host}
		if len(fields) >= 3 {
			if feats, err := literalAsList(fields[2]); err == nil {
				for _, f := range feats {
					if s, err := literalAsString(f); err == nil {
						peer.Features = append(peer.Features, s)
					}
				}
			}
		}
		out = append(out, peer)
	}
	return out, nil
}

func decodeHistoryList(v interface{}) ([]models.HistoryEntry, error) {
	items, err := literalAsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryEntry, 0, len(items))
	for _, item := range items {
		fields, err := literalAsList(item)
		if err != nil || len(fields) < 6 {
			return nil, fmt.Errorf("%w: malformed history entry", walleterr.ErrTransportFailure)
		}
		txHashHex, err := literalAsString(fields[0])
		if err != nil {
			return nil, err
		}
		txHash, err := decodeHexHash32(txHashHex)
		if err != nil {
			return nil, err
		}
		height, err := literalAsInt(fields[1])
		if err != nil {
			return nil, err
		}
		value, err := literalAsInt(fields[2])
		if err != nil {
			return nil, err
		}
		pos, err := literalAsInt(fields[3])
		if err != nil {
			return nil, err
		}
		scriptHex, err := literalAsString(fields[4])
		if err != nil {
			return nil, err
		}
		script, err := hex.DecodeString(scriptHex)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid script_pubkey hex", walleterr.ErrTransportFailure)
		}
		isInput, ok := fields[5].(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool is_input", walleterr.ErrTransportFailure)
		}
		if height < 0 {
			height = 0
		}
		out = append(out, models.HistoryEntry{
			TxHash:       txHash,
			Height:       uint32(height),
			ValueSigned:  value,
			Pos:          uint32(pos),
			ScriptPubKey: script,
			IsInput:      isInput,
		})
	}
	return out, nil
}

func decodeMerkleResult(v interface{}) (MerkleResult, error) {
	fields, err := literalAsList(v)
	if err != nil || len(fields) < 3 {
		return MerkleResult{}, fmt.Errorf("%w: malformed merkle response", walleterr.ErrTransportFailure)
	}
	branchItems, err := literalAsList(fields[0])
	if err != nil {
		return MerkleResult{}, err
	}
	branch := make([][32]byte, 0, len(branchItems))
	for _, item := range branchItems {
		s, err := literalAsString(item)
		if err != nil {
			return MerkleResult{}, err
		}
		h, err := decodeHexHash32(s)
		if err != nil {
			return MerkleResult{}, err
		}
		branch = append(branch, h)
	}
	pos, err := literalAsInt(fields[1])
	if err != nil {
		return MerkleResult{}, err
	}
	height, err := literalAsInt(fields[2])
	if err != nil {
		return MerkleResult{}, err
	}
	return MerkleResult{Branch: branch, Pos: uint32(pos), BlockHeight: uint32(height)}, nil
}

// The helpers below perform the same decode as the literal helpers
// above, but against values that came back through encoding/json's
// generic interface{} decoding (float64 for numbers, []interface{} for
// both arrays and the outer envelope), for JSONRPCClient and
// HTTPClient.

func jsonAsString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", walleterr.ErrTransportFailure, v)
	}
	return s, nil
}

func jsonAsUint32(v interface{}) (uint32, error) {
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: expected number, got %T", walleterr.ErrTransportFailure, v)
	}
	return uint32(n), nil
}

func jsonAsList(v interface{}) ([]interface{}, error) {
	l, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", walleterr.ErrTransportFailure, v)
	}
	return l, nil
}

func decodeJSONHexString(v interface{}) ([]byte, error) {
	s, err := jsonAsString(v)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex payload", walleterr.ErrTransportFailure)
	}
	return raw, nil
}

func decodeJSONPeerList(v interface{}) ([]PeerInfo, error) {
	items, err := jsonAsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]PeerInfo, 0, len(items))
	for _, item := range items {
		fields, err := jsonAsList(item)
		if err != nil || len(fields) < 2 {
			return nil, fmt.Errorf("%w: malformed peer entry", walleterr.ErrTransportFailure)
		}
		ip, err := jsonAsString(fields[0])
		if err != nil {
			return nil, err
		}
		host, err := jsonAsString(fields[1])
		if err != nil {
			return nil, err
		}
		peer := PeerInfo{IP: ip, Host: host}
		if len(fields) >= 3 {
			if feats, err := jsonAsList(fields[2]); err == nil {
				for _, f := range feats {
					if s, err := jsonAsString(f); err == nil {
						peer.Features = append(peer.Features, s)
					}
				}
			}
		}
		out = append(out, peer)
	}
	return out, nil
}

func decodeJSONHistoryList(v interface{}) ([]models.HistoryEntry, error) {
	items, err := jsonAsList(v)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryEntry, 0, len(items))
	for _, item := range items {
		fields, err := jsonAsList(item)
		if err != nil || len(fields) < 6 {
			return nil, fmt.Errorf("%w: malformed history entry", walleterr.ErrTransportFailure)
		}
		txHashHex, err := jsonAsString(fields[0])
		if err != nil {
			return nil, err
		}
		txHash, err := decodeHexHash32(txHashHex)
		if err != nil {
			return nil, err
		}
		heightF, ok := fields[1].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: expected number height", walleterr.ErrTransportFailure)
		}
		var height uint32
		if heightF > 0 {
			height = uint32(heightF)
		}
		value, ok := fields[2].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: expected number value_signed", walleterr.ErrTransportFailure)
		}
		pos, err := jsonAsUint32(fields[3])
		if err != nil {
			return nil, err
		}
		scriptHex, err := jsonAsString(fields[4])
		if err != nil {
			return nil, err
		}
		script, err := hex.DecodeString(scriptHex)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid script_pubkey hex", walleterr.ErrTransportFailure)
		}
		isInput, ok := fields[5].(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool is_input", walleterr.ErrTransportFailure)
		}
		out = append(out, models.HistoryEntry{
			TxHash:       txHash,
			Height:       height,
			ValueSigned:  int64(value),
			Pos:          pos,
			ScriptPubKey: script,
			IsInput:      isInput,
		})
	}
	return out, nil
}

func decodeJSONMerkleResult(v interface{}) (MerkleResult, error) {
	fields, err := jsonAsList(v)
	if err != nil || len(fields) < 3 {
		return MerkleResult{}, fmt.Errorf("%w: malformed merkle response", walleterr.ErrTransportFailure)
	}
	branchItems, err := jsonAsList(fields[0])
	if err != nil {
		return MerkleResult{}, err
	}
	branch := make([][32]byte, 0, len(branchItems))
	for _, item := range branchItems {
		s, err := jsonAsString(item)
		if err != nil {
			return MerkleResult{}, err
		}
		h, err := decodeHexHash32(s)
		if err != nil {
			return MerkleResult{}, err
		}
		branch = append(branch, h)
	}
	pos, err := jsonAsUint32(fields[1])
	if err != nil {
		return MerkleResult{}, err
	}
	height, err := jsonAsUint32(fields[2])
	if err != nil {
		return MerkleResult{}, err
	}
	return MerkleResult{Branch: branch, Pos: pos, BlockHeight: height}, nil
}

func decodeJSONHeader(v interface{}) (models.BlockHeader, error) {
	raw, err := decodeJSONHexString(v)
	if err != nil {
		return models.BlockHeader{}, err
	}
	if len(raw) != 80 {
		return models.BlockHeader{}, fmt.Errorf("%w: header must be 80 bytes", walleterr.ErrTransportFailure)
	}
	return spv.ParseHeader(raw), nil
}
