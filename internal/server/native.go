package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/spv"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// NativeClient is the short-lived-connection transport: every call opens
// a fresh TCP connection, writes one request line, reads the response
// line, and closes. Ported from the legacy NativeInterface, which has no
// persistent session of its own — subscriptions are re-established by
// polling rather than by a standing socket.
//
// Because no connection outlives a single call, NativeClient has no
// reconnect logic of its own; StartPolling below is what gives the
// caller the AddressStatus/NumBlocks notifications the other two
// transports push over their persistent sockets.
type NativeClient struct {
	cfg    config.Config
	dialer net.Dialer
	logger *slog.Logger

	events         *Events
	numBlocksCh    chan uint32
	addressStatus  chan AddressStatusEvent
	cancelPoll     context.CancelFunc
	pollWG         sync.WaitGroup

	mu        sync.Mutex
	tip       uint32
	lastTip   bool
	watched   map[string]string // address -> last known status hash
}

// NewNativeClient returns a NativeClient dialing cfg.ServerEndpoint for
// every call.
func NewNativeClient(cfg config.Config) *NativeClient {
	numBlocksCh := make(chan uint32, 16)
	addressStatusCh := make(chan AddressStatusEvent, 64)
	return &NativeClient{
		cfg:           cfg,
		logger:        slog.Default().With("component", "server.native"),
		numBlocksCh:   numBlocksCh,
		addressStatus: addressStatusCh,
		events:        &Events{NumBlocks: numBlocksCh, AddressStatus: addressStatusCh},
		watched:       make(map[string]string),
	}
}

func (c *NativeClient) Events() *Events { return c.events }

func (c *NativeClient) Close() error {
	if c.cancelPoll != nil {
		c.cancelPoll()
	}
	c.pollWG.Wait()
	return nil
}

// StartPolling launches a background loop that periodically re-checks
// the chain tip and every watched address's status hash, pushing an
// event for whatever changed. It substitutes for the persistent-socket
// push the other two transports get for free.
func (c *NativeClient) StartPolling(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelPoll = cancel
	c.pollWG.Add(1)
	go func() {
		defer c.pollWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollOnce(ctx)
			}
		}
	}()
}

func (c *NativeClient) pollOnce(ctx context.Context) {
	tip, err := c.SubscribeNumBlocks(ctx)
	if err != nil {
		c.logger.Warn("poll: numblocks.subscribe failed", "err", err)
	} else {
		c.mu.Lock()
		changed := !c.lastTip || tip != c.tip
		c.tip = tip
		c.lastTip = true
		c.mu.Unlock()
		if changed {
			select {
			case c.numBlocksCh <- tip:
			default:
			}
		}
	}

	c.mu.Lock()
	addrs := make([]string, 0, len(c.watched))
	for a := range c.watched {
		addrs = append(addrs, a)
	}
	c.mu.Unlock()

	for _, addr := range addrs {
		hash, err := c.SubscribeAddress(ctx, addr)
		if err != nil {
			c.logger.Warn("poll: address.subscribe failed", "address", addr, "err", err)
			continue
		}
		c.mu.Lock()
		prev := c.watched[addr]
		c.watched[addr] = hash
		c.mu.Unlock()
		if prev != hash {
			select {
			case c.addressStatus <- AddressStatusEvent{Address: addr, StatusHash: hash}:
			default:
			}
		}
	}
}

func (c *NativeClient) call(ctx context.Context, command string, params interface{}) (interface{}, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.NativeTimeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.ServerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", walleterr.ErrTransportFailure, c.cfg.ServerEndpoint, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	line := EncodeTuple(command, params) + "#"
	if _, err := io.WriteString(conn, line); err != nil {
		return nil, fmt.Errorf("%w: write: %v", walleterr.ErrTransportFailure, err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", walleterr.ErrTransportFailure, err)
	}

	text := strings.TrimSuffix(strings.TrimSpace(string(data)), "#")
	return DecodeLiteral(text)
}

func (c *NativeClient) Version(ctx context.Context, clientVersion string) (string, error) {
	v, err := c.call(ctx, "server.version", clientVersion)
	if err != nil {
		return "", err
	}
	return literalAsString(v)
}

func (c *NativeClient) Banner(ctx context.Context) (string, error) {
	v, err := c.call(ctx, "server.banner", nil)
	if err != nil {
		return "", err
	}
	return literalAsString(v)
}

func (c *NativeClient) Peers(ctx context.Context) ([]PeerInfo, error) {
	v, err := c.call(ctx, "server.peers", nil)
	if err != nil {
		return nil, err
	}
	return decodePeerList(v)
}

func (c *NativeClient) SubscribeNumBlocks(ctx context.Context) (uint32, error) {
	v, err := c.call(ctx, "numblocks.subscribe", nil)
	if err != nil {
		return 0, err
	}
	n, err := literalAsInt(v)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (c *NativeClient) SubscribeAddress(ctx context.Context, address string) (string, error) {
	v, err := c.call(ctx, "address.subscribe", address)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	if _, ok := c.watched[address]; !ok {
		c.watched[address] = ""
	}
	c.mu.Unlock()
	if v == nil {
		return "", nil
	}
	return literalAsString(v)
}

func (c *NativeClient) GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error) {
	v, err := c.call(ctx, "address.get_history", address)
	if err != nil {
		return nil, err
	}
	return decodeHistoryList(v)
}

func (c *NativeClient) GetTransaction(ctx context.Context, txidHex string) ([]byte, error) {
	v, err := c.call(ctx, "blockchain.transaction.get", txidHex)
	if err != nil {
		return nil, err
	}
	s, err := literalAsString(v)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid transaction hex", walleterr.ErrTransportFailure)
	}
	return raw, nil
}

func (c *NativeClient) GetMerkle(ctx context.Context, txidHex string, height uint32) (MerkleResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MerkleTimeout)
	defer cancel()
	v, err := c.call(ctx, "blockchain.transaction.get_merkle", []interface{}{txidHex, int64(height)})
	if err != nil {
		return MerkleResult{}, err
	}
	return decodeMerkleResult(v)
}

func (c *NativeClient) GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MerkleTimeout)
	defer cancel()
	v, err := c.call(ctx, "blockchain.block.get_header", int64(height))
	if err != nil {
		return models.BlockHeader{}, err
	}
	s, err := literalAsString(v)
	if err != nil {
		return models.BlockHeader{}, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 80 {
		return models.BlockHeader{}, fmt.Errorf("%w: invalid header hex", walleterr.ErrTransportFailure)
	}
	return spv.ParseHeader(raw), nil
}

func (c *NativeClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	v, err := c.call(ctx, "transaction.broadcast", rawHex)
	if err != nil {
		return "", err
	}
	return literalAsString(v)
}
