// Package listener runs the event funnel of the concurrency model: a
// single goroutine that drains the server's notification channels and
// applies every state transition — address status changes into the
// wallet, chain tip movement into the SPV verifier — so the wallet
// store never sees multi-writer concurrency from network or verifier
// work.
package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/server"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/wallet"
)

// StateApplier is the slice of wallet state the listener drives on an
// address status notification.
type StateApplier interface {
	ApplyStatus(ctx context.Context, client wallet.ServerClient, address, statusHash string) error
}

// Ticker is one verification pass of the SPV verifier, driven on tip
// movement and on a periodic fallback tick for bounded-retry work left
// over from earlier passes.
type Ticker interface {
	Tick(ctx context.Context) error
}

// StatusSink receives transient-failure reports. Connectivity trouble is
// never surfaced as an error from the listener itself; the sink is the
// only place a front-end learns about it.
type StatusSink func(err error)

// Config holds the listener's tunables.
type Config struct {
	// TickInterval is the fallback cadence for verifier passes and
	// debounced saves when no notification arrives.
	TickInterval time.Duration
	// SaveDebounce is the minimum interval between saves triggered by
	// applied notifications.
	SaveDebounce time.Duration
}

// Listener owns the apply loop. Construct with New, then Start; Stop
// waits for the loop to exit.
type Listener struct {
	client   server.Client
	walletCl wallet.ServerClient
	state    StateApplier
	verifier Ticker
	saver    func() error
	sink     StatusSink
	cfg      Config
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	lastSave time.Time
}

// New creates a Listener applying notifications from client into state
// and verifier. saver persists the wallet after applied changes (pass
// nil to skip persistence); sink receives transient failures (nil for
// none).
func New(cfg Config, client server.Client, state StateApplier, verifier Ticker, saver func() error, sink StatusSink) *Listener {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.SaveDebounce < 0 {
		cfg.SaveDebounce = 0
	}
	return &Listener{
		client:   client,
		walletCl: server.WalletAdapter{Client: client},
		state:    state,
		verifier: verifier,
		saver:    saver,
		sink:     sink,
		cfg:      cfg,
		logger:   slog.Default().With("component", "listener"),
		done:     make(chan struct{}),
	}
}

// Start launches the apply loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.logger.Info("starting event listener", "tick_interval", l.cfg.TickInterval)
	go l.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
	l.logger.Info("listener stopped")
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	events := l.client.Events()
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case tip, ok := <-events.NumBlocks:
			if !ok {
				return
			}
			l.logger.Info("chain tip moved", "height", tip)
			l.tick(ctx)

		case ev, ok := <-events.AddressStatus:
			if !ok {
				return
			}
			if err := l.state.ApplyStatus(ctx, l.walletCl, ev.Address, ev.StatusHash); err != nil {
				l.logger.Warn("apply status failed", "address", ev.Address, "err", err)
				l.report(err)
				continue
			}
			l.maybeSave()

		case <-ticker.C:
			l.tick(ctx)
			l.maybeSave()
		}
	}
}

func (l *Listener) tick(ctx context.Context) {
	if l.verifier == nil {
		return
	}
	if err := l.verifier.Tick(ctx); err != nil {
		l.logger.Warn("verifier pass failed", "err", err)
		l.report(err)
	}
}

func (l *Listener) maybeSave() {
	if l.saver == nil {
		return
	}
	if time.Since(l.lastSave) < l.cfg.SaveDebounce {
		return
	}
	if err := l.saver(); err != nil {
		l.logger.Warn("save failed", "err", err)
		l.report(err)
		return
	}
	l.lastSave = time.Now()
}

func (l *Listener) report(err error) {
	if l.sink != nil {
		l.sink(err)
	}
}
