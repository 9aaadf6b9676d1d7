package server

import (
	"context"
	"sync"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
)

// pendingResult is what a completed in-flight request resolves to:
// either a decoded value or an error, never both.
type pendingResult struct {
	value interface{}
	err   error
}

// pendingTable correlates request ids to the goroutine awaiting their
// response. Every entry is removed exactly once, whether it completes,
// times out, or the owning connection drops — never left dangling.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]chan pendingResult)}
}

// register allocates a result channel for id. The caller must eventually
// call await (or remove, on give-up) for the same id.
func (t *pendingTable) register(id uint64) chan pendingResult {
	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.entries[id] = ch
	t.mu.Unlock()
	return ch
}

// complete resolves id with res, if it is still pending. It reports
// whether a waiter was found.
func (t *pendingTable) complete(id uint64, res pendingResult) bool {
	t.mu.Lock()
	ch, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

// remove discards id without resolving it, used when a caller gives up
// waiting (timeout, or the connection it was sent on died).
func (t *pendingTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// failAll resolves every still-pending entry with err, used when a
// connection drops out from under every request it was carrying.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint64]chan pendingResult)
	t.mu.Unlock()
	for _, ch := range entries {
		select {
		case ch <- pendingResult{err: err}:
		default:
		}
	}
}

// await blocks until id resolves or ctx is done, whichever comes first.
func (t *pendingTable) await(ctx context.Context, id uint64, ch chan pendingResult) (interface{}, error) {
	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		t.remove(id)
		return nil, walleterr.ErrTimeout
	}
}
