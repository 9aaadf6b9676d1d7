package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/storage"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// HTTPClient is the one-POST-per-request transport, ported from the
// legacy HttpInterface. It has no persistent connection and therefore
// no server-pushed notifications of its own; Events returns channels
// that are only ever fed by StartPolling, the same way NativeClient
// substitutes polling for a push socket.
type HTTPClient struct {
	cfg    config.Config
	ids    storage.RequestIDAllocator
	client *http.Client
	logger *slog.Logger

	events        *Events
	numBlocksCh   chan uint32
	addressStatus chan AddressStatusEvent

	watchedMu sync.RWMutex
	watched   map[string]string
}

func NewHTTPClient(cfg config.Config) *HTTPClient {
	numBlocksCh := make(chan uint32, 16)
	addressStatusCh := make(chan AddressStatusEvent, 64)
	return &HTTPClient{
		cfg:           cfg,
		ids:           storage.NewMemoryRequestIDAllocator(),
		client:        &http.Client{},
		logger:        slog.Default().With("component", "server.http"),
		numBlocksCh:   numBlocksCh,
		addressStatus: addressStatusCh,
		events:        &Events{NumBlocks: numBlocksCh, AddressStatus: addressStatusCh},
		watched:       make(map[string]string),
	}
}

func (c *HTTPClient) Events() *Events { return c.events }
func (c *HTTPClient) Close() error    { return nil }

// StartPolling periodically re-checks the chain tip and every watched
// address's status hash over the same per-request POST calls, emitting
// an event for whatever changed since the last tick.
func (c *HTTPClient) StartPolling(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastTip uint32
		haveTip := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tip, err := c.SubscribeNumBlocks(ctx)
				if err != nil {
					c.logger.Warn("poll: numblocks failed", "err", err)
				} else if !haveTip || tip != lastTip {
					lastTip = tip
					haveTip = true
					select {
					case c.numBlocksCh <- tip:
					default:
					}
				}

				c.watchedMu.RLock()
				addrs := make([]string, 0, len(c.watched))
				for a := range c.watched {
					addrs = append(addrs, a)
				}
				c.watchedMu.RUnlock()

				for _, addr := range addrs {
					hash, err := c.SubscribeAddress(ctx, addr)
					if err != nil {
						c.logger.Warn("poll: address.subscribe failed", "address", addr, "err", err)
						continue
					}
					c.watchedMu.Lock()
					prev := c.watched[addr]
					c.watched[addr] = hash
					c.watchedMu.Unlock()
					if prev != hash {
						select {
						case c.addressStatus <- AddressStatusEvent{Address: addr, StatusHash: hash}:
						default:
						}
					}
				}
			}
		}
	}()
}

type httpRequestBody struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type httpResponseBody struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, timeout time.Duration) (interface{}, error) {
	id, err := c.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: allocate request id: %v", walleterr.ErrTransportFailure, err)
	}

	body, err := json.Marshal(httpRequestBody{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", walleterr.ErrTransportFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	var out httpResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", walleterr.ErrTransportFailure, err)
	}
	if out.Error != nil {
		return nil, walleterr.NewServerError(out.Error.Code, out.Error.Message)
	}
	var v interface{}
	if len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, &v); err != nil {
			return nil, fmt.Errorf("%w: decode result: %v", walleterr.ErrTransportFailure, err)
		}
	}
	return v, nil
}

func (c *HTTPClient) Version(ctx context.Context, clientVersion string) (string, error) {
	v, err := c.call(ctx, "server.version", []interface{}{clientVersion}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	return jsonAsString(v)
}

func (c *HTTPClient) Banner(ctx context.Context) (string, error) {
	v, err := c.call(ctx, "server.banner", nil, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	return jsonAsString(v)
}

func (c *HTTPClient) Peers(ctx context.Context) ([]PeerInfo, error) {
	v, err := c.call(ctx, "server.peers", nil, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONPeerList(v)
}

func (c *HTTPClient) SubscribeNumBlocks(ctx context.Context) (uint32, error) {
	v, err := c.call(ctx, "numblocks.subscribe", nil, c.cfg.NativeTimeout)
	if err != nil {
		return 0, err
	}
	return jsonAsUint32(v)
}

func (c *HTTPClient) SubscribeAddress(ctx context.Context, address string) (string, error) {
	v, err := c.call(ctx, "address.subscribe", []interface{}{address}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	c.watchedMu.Lock()
	if _, ok := c.watched[address]; !ok {
		c.watched[address] = ""
	}
	c.watchedMu.Unlock()
	if v == nil {
		return "", nil
	}
	return jsonAsString(v)
}

func (c *HTTPClient) GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error) {
	v, err := c.call(ctx, "address.get_history", []interface{}{address}, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONHistoryList(v)
}

func (c *HTTPClient) GetTransaction(ctx context.Context, txidHex string) ([]byte, error) {
	v, err := c.call(ctx, "blockchain.transaction.get", []interface{}{txidHex}, c.cfg.NativeTimeout)
	if err != nil {
		return nil, err
	}
	return decodeJSONHexString(v)
}

func (c *HTTPClient) GetMerkle(ctx context.Context, txidHex string, height uint32) (MerkleResult, error) {
	v, err := c.call(ctx, "blockchain.transaction.get_merkle", []interface{}{txidHex, height}, c.cfg.MerkleTimeout)
	if err != nil {
		return MerkleResult{}, err
	}
	return decodeJSONMerkleResult(v)
}

func (c *HTTPClient) GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error) {
	v, err := c.call(ctx, "blockchain.block.get_header", []interface{}{height}, c.cfg.MerkleTimeout)
	if err != nil {
		return models.BlockHeader{}, err
	}
	return decodeJSONHeader(v)
}

func (c *HTTPClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	v, err := c.call(ctx, "transaction.broadcast", []interface{}{rawHex}, c.cfg.NativeTimeout)
	if err != nil {
		return "", err
	}
	return jsonAsString(v)
}
