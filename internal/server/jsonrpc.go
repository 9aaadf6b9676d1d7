package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/storage"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// jsonrpcRequest is the on-wire shape of every outbound call: a method
// name, a positional parameter list, and an id the response echoes back.
type jsonrpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// jsonrpcMessage is the on-wire shape of anything read back: either a
// correlated response (ID matches an outstanding request) or a
// server-initiated notification, distinguished by a nil id per the
// protocol's push-notification convention.
type jsonrpcMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSONRPCClient is the persistent-socket transport: one long-lived TCP
// connection, newline-delimited JSON in both directions, requests
// correlated to responses by id, and server-pushed notifications
// distinguished by a null id. Ported from the legacy TCPInterface.
type JSONRPCClient struct {
	cfg    config.Config
	ids    storage.RequestIDAllocator
	logger *slog.Logger

	events        *Events
	numBlocksCh   chan uint32
	addressStatus chan AddressStatusEvent

	mu       sync.Mutex
	conn     net.Conn
	connDone chan struct{} // closed by readLoop when its Scan loop exits
	writeMu  sync.Mutex
	pending  *pendingTable
	watched  storage.SubscriptionStore

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJSONRPCClient dials cfg.ServerEndpoint and starts the read loop.
// Reconnection on a dropped connection is handled internally. While the
// connection is down, calls fail with ErrTransportFailure or time out,
// and calls still pending when a new connection is made are failed with
// ErrTransportFailure.
func NewJSONRPCClient(ctx context.Context, cfg config.Config) (*JSONRPCClient, error) {
	numBlocksCh := make(chan uint32, 16)
	addressStatusCh := make(chan AddressStatusEvent, 64)
	c := &JSONRPCClient{
		cfg:           cfg,
		ids:           storage.NewMemoryRequestIDAllocator(),
		logger:        slog.Default().With("component", "server.jsonrpc"),
		numBlocksCh:   numBlocksCh,
		addressStatus: addressStatusCh,
		events:        &Events{NumBlocks: numBlocksCh, AddressStatus: addressStatusCh},
		pending:       newPendingTable(),
		watched:       storage.NewMemorySubscriptionStore(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.connectOnce(runCtx); err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(1)
	go c.reconnectLoop(runCtx)

	return c, nil
}

func (c *JSONRPCClient) Events() *Events { return c.events }

func (c *JSONRPCClient) Close() error {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *JSONRPCClient) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerEndpoint)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", walleterr.ErrTransportFailure, c.cfg.ServerEndpoint, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connDone = done
	c.mu.Unlock()

	c.pending.failAll(walleterr.ErrTransportFailure)

	c.wg.Add(1)
	go c.readLoop(conn, done)

	if err := c.resubscribeAll(ctx); err != nil {
		c.logger.Warn("resubscribe after connect failed", "err", err)
	}

	return nil
}

// reconnectLoop watches for the connection dying and re-dials with
// exponential backoff: the delay starts at cfg.ReconnectBaseDelay and
// doubles after each failed attempt, up to 32 times that base.
func (c *JSONRPCClient) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()
	delay := c.cfg.ReconnectBaseDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.connDead():
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("connection lost, reconnecting", "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if err := c.connectOnce(ctx); err != nil {
				c.logger.Warn("reconnect failed", "err", err)
				if delay < c.cfg.ReconnectBaseDelay*32 {
					delay *= 2
				}
				continue
			}
			delay = c.cfg.ReconnectBaseDelay
		}
	}
}

// connDead returns the channel readLoop closes when its Scan loop exits,
// i.e. when the current connection has died. It never reads from the
// socket itself: a second reader on the same conn would steal bytes out
// of readLoop's own bufio.Scanner and corrupt the message stream.
func (c *JSONRPCClient) connDead() <-chan struct{} {
	c.mu.Lock()
	done := c.connDone
	c.mu.Unlock()
	if done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return done
}

func (c *JSONRPCClient) resubscribeAll(ctx context.Context) error {
	if _, err := c.SubscribeNumBlocks(ctx); err != nil {
		return err
	}
	addrs, err := c.watched.List()
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, addr := range addrs {
		if _, err := c.SubscribeAddress(ctx, addr); err != nil {
			c.logger.Warn("resubscribe address failed", "address", addr, "err", err)
		}
	}
	return nil
}

func (c *JSONRPCClient) readLoop(conn net.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var msg jsonrpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.logger.Warn("malformed message", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *JSONRPCClient) dispatch(msg jsonrpcMessage) {
	if msg.ID != nil {
		var res pendingResult
		if msg.Error != nil {
			res.err = walleterr.NewServerError(msg.Error.Code, msg.Error.Message)
		} else {
			var v interface{}
			if len(msg.Result) > 0 {
				_ = json.Unmarshal(msg.Result, &v)
			}
			res.value = v
		}
		c.pending.complete(*msg.ID, res)
		return
	}

	switch msg.Method {
	case "numblocks.subscribe":
		var arr []uint32
		if json.Unmarshal(msg.Params, &arr) == nil && len(arr) > 0 {
			select {
			case c.numBlocksCh <- arr[0]:
			default:
			}
		}
	case "address.subscribe":
		var params []string
		if json.Unmarshal(msg.Params, &params) == nil && len(params) >= 2 {
			select {
			case c.addressStatus <- AddressStatusEvent{Address: params[0], StatusHash: params[1]}:
			default:
			}
		}
	case "server.banner", "server.peers", "transaction.broadcast":
		// Informational notifications the wallet doesn't act on directly.
	default:
		c.logger.Warn("unhandled notification", "method", msg.Method)
	}
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params []interface{}, timeout time.Duration) (interface{}, error) {
	id, err := c.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: allocate request id: %v", walleterr.ErrTransportFailure, err)
	}

	ch := c.pending.register(id)

	req := jsonrpcRequest{ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.pending.remove(id)
		return nil, walleterr.ErrTransportFailure
	}

	c.writeMu.Lock()
	_, writeErr := conn.Write(line)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pending.remove(id)
		return nil, fmt.Errorf("%w: write: %v", walleterr.ErrTransportFailure, writeErr)
	}

	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return c.pending.await(callCtx, id, ch)
}

func (c *JSONRPCClient) Version(ctx context.Context, clientVersion string) (string, error) {
	v, err := c.call(ctx, "server.version", []interface{}{clientVersion}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *JSONRPCClient) Banner(ctx context.Context) (string, error) {
	v, err := c.call(ctx, "server.banner", nil, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *JSONRPCClient) Peers(ctx context.Context) ([]PeerInfo, error) {
	v, err := c.call(ctx, "server.peers", nil, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONPeerList(v)
}

func (c *JSONRPCClient) SubscribeNumBlocks(ctx context.Context) (uint32, error) {
	v, err := c.call(ctx, "numblocks.subscribe", nil, c.cfg.NativeTimeout)
	if err != nil {
		return 0, err
	}
	return jsonAsUint32(v)
}

func (c *JSONRPCClient) SubscribeAddress(ctx context.Context, address string) (string, error) {
	v, err := c.call(ctx, "address.subscribe", []interface{}{address}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	if err := c.watched.Add(address); err != nil {
		c.logger.Warn("record subscription failed", "address", address, "err", err)
	}
	if v == nil {
		return "", nil
	}
	s, _ := v.(string)
	return s, nil
}

func (c *JSONRPCClient) GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error) {
	v, err := c.call(ctx, "address.get_history", []interface{}{address}, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONHistoryList(v)
}

func (c *JSONRPCClient) GetTransaction(ctx context.Context, txidHex string) ([]byte, error) {
	v, err := c.call(ctx, "blockchain.transaction.get", []interface{}{txidHex}, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONHexString(v)
}

func (c *JSONRPCClient) GetMerkle(ctx context.Context, txidHex string, height uint32) (MerkleResult, error) {
	v, err := c.call(ctx, "blockchain.transaction.get_merkle", []interface{}{txidHex, height}, c.cfg.MerkleTimeout)
	if err != nil {
		return MerkleResult{}, err
	}
	return decodeJSONMerkleResult(v)
}

func (c *JSONRPCClient) GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error) {
	v, err := c.call(ctx, "blockchain.block.get_header", []interface{}{height}, c.cfg.MerkleTimeout)
	if err != nil {
		return models.BlockHeader{}, err
	}
	return decodeJSONHeader(v)
}

func (c *JSONRPCClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	v, err := c.call(ctx, "transaction.broadcast", []interface{}{rawHex}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}
