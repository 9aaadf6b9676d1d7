package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/server"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/wallet"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// fakeClient is a server.Client whose notification channels the test
// feeds directly; every RPC method is inert.
type fakeClient struct {
	numBlocks chan uint32
	status    chan server.AddressStatusEvent
	events    *server.Events
}

func newFakeClient() *fakeClient {
	nb := make(chan uint32, 4)
	st := make(chan server.AddressStatusEvent, 4)
	return &fakeClient{
		numBlocks: nb,
		status:    st,
		events:    &server.Events{NumBlocks: nb, AddressStatus: st},
	}
}

func (f *fakeClient) Version(context.Context, string) (string, error) { return "", nil }
func (f *fakeClient) Banner(context.Context) (string, error)          { return "", nil }
func (f *fakeClient) Peers(context.Context) ([]server.PeerInfo, error) {
	return nil, nil
}
func (f *fakeClient) SubscribeNumBlocks(context.Context) (uint32, error) { return 0, nil }
func (f *fakeClient) SubscribeAddress(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeClient) GetHistory(context.Context, string) ([]models.HistoryEntry, error) {
	return nil, nil
}
func (f *fakeClient) GetTransaction(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) GetMerkle(context.Context, string, uint32) (server.MerkleResult, error) {
	return server.MerkleResult{}, nil
}
func (f *fakeClient) GetHeader(context.Context, uint32) (models.BlockHeader, error) {
	return models.BlockHeader{}, nil
}
func (f *fakeClient) Broadcast(context.Context, string) (string, error) { return "", nil }
func (f *fakeClient) Events() *server.Events                            { return f.events }
func (f *fakeClient) Close() error                                      { return nil }

type recordingApplier struct {
	mu      sync.Mutex
	applied []server.AddressStatusEvent
}

func (r *recordingApplier) ApplyStatus(_ context.Context, _ wallet.ServerClient, address, statusHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, server.AddressStatusEvent{Address: address, StatusHash: statusHash})
	return nil
}

func (r *recordingApplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

type countingTicker struct {
	ticks atomic.Int64
}

func (c *countingTicker) Tick(context.Context) error {
	c.ticks.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestListener_AppliesAddressStatusEvents(t *testing.T) {
	client := newFakeClient()
	applier := &recordingApplier{}

	l := New(Config{TickInterval: time.Hour}, client, applier, nil, nil, nil)
	l.Start(context.Background())
	defer l.Stop()

	client.status <- server.AddressStatusEvent{Address: "1addr", StatusHash: "deadbeef"}

	waitFor(t, func() bool { return applier.count() == 1 })
	if applier.applied[0].Address != "1addr" || applier.applied[0].StatusHash != "deadbeef" {
		t.Errorf("unexpected applied event: %+v", applier.applied[0])
	}
}

func TestListener_TipMovementDrivesVerifier(t *testing.T) {
	client := newFakeClient()
	verifier := &countingTicker{}

	l := New(Config{TickInterval: time.Hour}, client, &recordingApplier{}, verifier, nil, nil)
	l.Start(context.Background())
	defer l.Stop()

	client.numBlocks <- 500000

	waitFor(t, func() bool { return verifier.ticks.Load() >= 1 })
}

func TestListener_SaveDebounce(t *testing.T) {
	client := newFakeClient()
	applier := &recordingApplier{}

	var saves atomic.Int64
	saver := func() error {
		saves.Add(1)
		return nil
	}

	l := New(Config{TickInterval: time.Hour, SaveDebounce: time.Hour}, client, applier, nil, saver, nil)
	l.Start(context.Background())
	defer l.Stop()

	client.status <- server.AddressStatusEvent{Address: "1a", StatusHash: "01"}
	client.status <- server.AddressStatusEvent{Address: "1b", StatusHash: "02"}

	waitFor(t, func() bool { return applier.count() == 2 })
	if got := saves.Load(); got != 1 {
		t.Errorf("debounce should collapse rapid saves to one, got %d", got)
	}
}

func TestListener_SinkReceivesVerifierFailures(t *testing.T) {
	client := newFakeClient()

	var reported atomic.Int64
	sink := func(error) { reported.Add(1) }

	l := New(Config{TickInterval: time.Hour}, client, &recordingApplier{}, failingTicker{}, nil, sink)
	l.Start(context.Background())
	defer l.Stop()

	client.numBlocks <- 1

	waitFor(t, func() bool { return reported.Load() >= 1 })
}

type failingTicker struct{}

func (failingTicker) Tick(context.Context) error {
	return context.DeadlineExceeded
}
