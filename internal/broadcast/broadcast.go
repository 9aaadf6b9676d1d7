// Package broadcast hands signed transactions to the server's
// transaction.broadcast method, with bounded retry and idempotency: a
// retried payto never double-broadcasts a transaction the server
// already accepted.
package broadcast

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/storage"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/txcodec"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// Client is the single server method the broadcaster needs.
type Client interface {
	Broadcast(ctx context.Context, rawHex string) (txidHex string, err error)
}

// Config holds the broadcaster's tunables.
type Config struct {
	MaxRetries int
	// RetryBase scales the attempt*attempt backoff between retries.
	RetryBase time.Duration
}

// Broadcaster submits raw signed transactions with retry and
// idempotency tracking.
type Broadcaster struct {
	client Client
	store  storage.BroadcastStore
	logger *slog.Logger
	cfg    Config
}

// New creates a Broadcaster over client, recording successful sends in
// store.
func New(cfg Config, client Client, store storage.BroadcastStore) *Broadcaster {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Broadcaster{
		client: client,
		store:  store,
		logger: slog.Default().With("component", "broadcast"),
		cfg:    cfg,
	}
}

// Send submits tx. If the same txid was already recorded as broadcast,
// Send returns immediately with that txid and does not contact the
// server again.
func (b *Broadcaster) Send(ctx context.Context, tx *models.Transaction) (string, error) {
	txid := txcodec.Txid(tx)
	txidHex := hex.EncodeToString(txid[:])

	done, err := b.store.WasBroadcast(txidHex)
	if err != nil {
		return "", fmt.Errorf("broadcast store: %w", err)
	}
	if done {
		b.logger.Info("duplicate send, transaction already broadcast", "txid", txidHex)
		return txidHex, nil
	}

	rawHex := hex.EncodeToString(txcodec.Serialize(tx, -1, nil))
	if err := b.sendWithRetry(ctx, txidHex, rawHex); err != nil {
		return "", err
	}

	if err := b.store.MarkBroadcast(txidHex); err != nil {
		return "", fmt.Errorf("broadcast store: %w", err)
	}
	return txidHex, nil
}

func (b *Broadcaster) sendWithRetry(ctx context.Context, txidHex, rawHex string) error {
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		reported, err := b.client.Broadcast(ctx, rawHex)
		if err == nil {
			if reported != "" && reported != txidHex {
				b.logger.Warn("server reported unexpected txid", "want", txidHex, "got", reported)
			}
			b.logger.Info("transaction broadcast successful", "txid", txidHex, "attempt", attempt)
			return nil
		}

		lastErr = err
		b.logger.Warn("broadcast attempt failed",
			"attempt", attempt,
			"max_retries", b.cfg.MaxRetries,
			"err", err,
		)

		select {
		case <-time.After(time.Duration(attempt*attempt) * b.cfg.RetryBase):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("all %d broadcast attempts failed: %w", b.cfg.MaxRetries, lastErr)
}
