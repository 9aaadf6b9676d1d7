// Package server implements the wallet's view of the server interface
// (C5): a small method set backed by one of three wire transports, plus
// the two channels a transport pushes server-initiated notifications
// onto. The wallet synchronizer and the SPV verifier each depend only
// on the Client interface, never on a concrete transport.
package server

import (
	"context"

	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// PeerInfo is one entry of a server.peers response: an address the
// client could fail over to.
type PeerInfo struct {
	IP       string
	Host     string
	Features []string
}

// MerkleResult is the response shape of blockchain.transaction.get_merkle:
// the sibling hashes needed to walk a txid up to its block's merkle root,
// the transaction's position in the block, and the block's height.
type MerkleResult struct {
	Branch      [][32]byte
	Pos         uint32
	BlockHeight uint32
}

// AddressStatusEvent is a server-pushed status hash change for a
// subscribed address.
type AddressStatusEvent struct {
	Address    string
	StatusHash string
}

// Events carries every notification a transport can push without being
// asked: a new chain tip height, and a changed address status. A
// transport owns the send side; callers only ever receive.
type Events struct {
	NumBlocks     <-chan uint32
	AddressStatus <-chan AddressStatusEvent
}

// Client is the full server method set (C5), implemented once per wire
// transport (native, json-rpc, http). Every method takes a context for
// cancellation and per-call timeout.
type Client interface {
	// Version negotiates a protocol version, passing clientVersion as the
	// caller's own version string.
	Version(ctx context.Context, clientVersion string) (string, error)
	// Banner returns the server's free-form banner text.
	Banner(ctx context.Context) (string, error)
	// Peers returns the server's known peer list.
	Peers(ctx context.Context) ([]PeerInfo, error)
	// SubscribeNumBlocks subscribes to chain tip height notifications and
	// returns the current tip height.
	SubscribeNumBlocks(ctx context.Context) (uint32, error)
	// SubscribeAddress subscribes to status notifications for address and
	// returns its current status hash (empty string if the address has no
	// history yet).
	SubscribeAddress(ctx context.Context, address string) (statusHash string, err error)
	// GetHistory returns the full history of address.
	GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error)
	// GetTransaction returns the raw wire bytes of the transaction with
	// the given lowercase hex txid.
	GetTransaction(ctx context.Context, txidHex string) ([]byte, error)
	// GetMerkle returns the merkle branch proving txidHex is included in
	// the block at height.
	GetMerkle(ctx context.Context, txidHex string, height uint32) (MerkleResult, error)
	// GetHeader returns the block header at height.
	GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error)
	// Broadcast submits a raw signed transaction (hex-encoded) to the
	// network and returns its txid.
	Broadcast(ctx context.Context, rawHex string) (txidHex string, err error)
	// Events returns the channel pair this client pushes notifications on.
	Events() *Events
	// Close releases any transport-level resources (open sockets, running
	// goroutines).
	Close() error
}
