package spv

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// easyBits expands to a target larger than any 256-bit hash, so
// fabricated test headers always satisfy the proof-of-work check.
const easyBits = 0x227fffff

// hardBits expands to a target of 1; no realistic header hash meets it.
const hardBits = 0x03000001

func concat(a, b [32]byte) []byte {
	out := make([]byte, 64)
	copy(out[:32], a[:])
	copy(out[32:], b[:])
	return out
}

func TestVerifyBranch_TwoSiblings(t *testing.T) {
	var txid, s0, s1 [32]byte
	txid[0] = 0x11
	s0[0] = 0x22
	s1[0] = 0x33

	// pos = 2 (binary 10): level 0 appends the sibling on the right,
	// level 1 prepends it on the left.
	level0 := cryptoutil.Hash256(concat(cryptoutil.Reverse32(txid), cryptoutil.Reverse32(s0)))
	root := cryptoutil.Hash256(concat(cryptoutil.Reverse32(s1), level0))

	if !VerifyBranch(txid, [][32]byte{s0, s1}, 2, root) {
		t.Fatal("correct branch rejected")
	}

	s1Flipped := s1
	s1Flipped[5] ^= 0x01
	if VerifyBranch(txid, [][32]byte{s0, s1Flipped}, 2, root) {
		t.Fatal("tampered sibling accepted")
	}
	if VerifyBranch(txid, [][32]byte{s0, s1}, 3, root) {
		t.Fatal("wrong position accepted")
	}
}

func TestVerifyBranch_EmptyBranchIsSingleTxBlock(t *testing.T) {
	var txid [32]byte
	txid[0] = 0x42
	root := cryptoutil.Reverse32(txid)
	if !VerifyBranch(txid, nil, 0, root) {
		t.Fatal("single-transaction block proof rejected")
	}
}

// testChain builds n linked headers starting from a zero prev hash, with
// seed mixed into each merkle root and nonce so two chains built from
// different seeds diverge.
func testChain(n int, seed byte) []models.BlockHeader {
	out := make([]models.BlockHeader, n)
	for i := range out {
		h := models.BlockHeader{
			Version: 1,
			Time:    1231006505 + uint32(i),
			Bits:    easyBits,
			Nonce:   uint32(seed)<<16 | uint32(i),
		}
		h.MerkleRoot[0] = seed
		h.MerkleRoot[1] = byte(i)
		if i > 0 {
			h.PrevHash = HeaderHash(out[i-1])
		}
		out[i] = h
	}
	return out
}

func TestHeaderStore_AppendValidatesLinkageAndPoW(t *testing.T) {
	chain := testChain(3, 0xa0)
	s := NewHeaderStore()

	for i, h := range chain {
		if err := s.Append(uint32(i), h); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if top, ok := s.TopHeight(); !ok || top != 2 {
		t.Fatalf("top = %d, %v; want 2, true", top, ok)
	}

	if err := s.Append(5, chain[2]); !errors.Is(err, ErrPredecessorMissing) {
		t.Errorf("append with a gap should fail with ErrPredecessorMissing, got %v", err)
	}

	bad := chain[2]
	bad.PrevHash[0] ^= 0xff
	if err := s.Append(3, bad); !errors.Is(err, ErrPrevHashMismatch) {
		t.Errorf("broken linkage should fail with ErrPrevHashMismatch, got %v", err)
	}

	weak := testChain(1, 0xb0)[0]
	weak.Bits = hardBits
	fresh := NewHeaderStore()
	if err := fresh.Append(0, weak); !errors.Is(err, ErrProofOfWork) {
		t.Errorf("impossible target should fail with ErrProofOfWork, got %v", err)
	}
}

func TestHeaderStore_TruncateAt(t *testing.T) {
	chain := testChain(5, 0xc0)
	s := NewHeaderStore()
	for i, h := range chain {
		if err := s.Append(uint32(i), h); err != nil {
			t.Fatal(err)
		}
	}

	s.TruncateAt(3)
	if _, ok := s.Get(3); ok {
		t.Error("header 3 should be gone after TruncateAt(3)")
	}
	if _, ok := s.Get(2); !ok {
		t.Error("header 2 should survive TruncateAt(3)")
	}
	if top, ok := s.TopHeight(); !ok || top != 2 {
		t.Errorf("top = %d, %v; want 2, true", top, ok)
	}
}

// fakeFetcher serves headers and merkle proofs from in-memory maps; the
// test swaps the header map to simulate the server switching chains.
type fakeFetcher struct {
	mu          sync.Mutex
	tip         uint32
	headers     map[uint32]models.BlockHeader
	proofs      map[string]MerkleProof
	merkleCalls int
}

func (f *fakeFetcher) SubscribeNumBlocks(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeFetcher) GetHeader(_ context.Context, height uint32) (models.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.headers[height]
	if !ok {
		return models.BlockHeader{}, errors.New("no header at height")
	}
	return h, nil
}

func (f *fakeFetcher) GetMerkle(_ context.Context, txidHex string, _ uint32) (MerkleProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merkleCalls++
	p, ok := f.proofs[txidHex]
	if !ok {
		return MerkleProof{}, errors.New("no proof")
	}
	return p, nil
}

func (f *fakeFetcher) setChain(headers []models.BlockHeader, tip uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = make(map[uint32]models.BlockHeader, len(headers))
	for i, h := range headers {
		f.headers[uint32(i)] = h
	}
	f.tip = tip
}

type fakeWalletStore struct {
	mu       sync.Mutex
	pending  []PendingTx
	verified map[string]models.VerifiedTx
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{verified: make(map[string]models.VerifiedTx)}
}

func (w *fakeWalletStore) PendingVerification() []PendingTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []PendingTx
	for _, p := range w.pending {
		if _, done := w.verified[p.TxidHex]; !done {
			out = append(out, p)
		}
	}
	return out
}

func (w *fakeWalletStore) MarkVerified(txidHex string, v models.VerifiedTx) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.verified[txidHex] = v
}

func (w *fakeWalletStore) ClearVerifiedFrom(height uint32) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var cleared []string
	for txidHex, v := range w.verified {
		if v.Height >= height {
			cleared = append(cleared, txidHex)
			delete(w.verified, txidHex)
		}
	}
	return cleared
}

func testVerifierConfig() config.Config {
	cfg := config.Default()
	cfg.VerifierMaxRetries = 3
	return cfg
}

func TestVerifier_StampsPendingTransaction(t *testing.T) {
	var txid [32]byte
	txid[0] = 0x99
	txidHex := hex.EncodeToString(txid[:])

	chain := testChain(6, 0xd0)
	// A single-transaction block: the merkle root is the txid itself in
	// internal byte order, proven by an empty branch.
	chain[3].MerkleRoot = cryptoutil.Reverse32(txid)
	for i := 4; i < 6; i++ {
		chain[i].PrevHash = HeaderHash(chain[i-1])
	}

	fetcher := &fakeFetcher{proofs: map[string]MerkleProof{
		txidHex: {Branch: nil, Pos: 0, BlockHeight: 3},
	}}
	fetcher.setChain(chain, 5)

	wstore := newFakeWalletStore()
	wstore.pending = []PendingTx{{TxidHex: txidHex, Height: 3}}

	v := NewVerifier(NewHeaderStore(), fetcher, wstore, testVerifierConfig())
	if err := v.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	stamp, ok := wstore.verified[txidHex]
	if !ok {
		t.Fatal("transaction was not stamped verified")
	}
	if stamp.Height != 3 || stamp.BlockTime != chain[3].Time || stamp.Pos != 0 {
		t.Errorf("unexpected stamp: %+v", stamp)
	}
}

func TestVerifier_ReorgTruncatesAndClearsStamps(t *testing.T) {
	chainA := testChain(11, 0x01)

	// Chain B shares heights 0..7 and diverges from 8 onward.
	chainB := make([]models.BlockHeader, 13)
	copy(chainB, chainA[:8])
	for i := 8; i < 13; i++ {
		h := models.BlockHeader{
			Version: 1,
			Time:    1231006505 + uint32(i),
			Bits:    easyBits,
			Nonce:   0xb0000 | uint32(i),
		}
		h.MerkleRoot[0] = 0x02
		h.MerkleRoot[1] = byte(i)
		h.PrevHash = HeaderHash(chainB[i-1])
		chainB[i] = h
	}

	fetcher := &fakeFetcher{proofs: map[string]MerkleProof{}}
	fetcher.setChain(chainA, 10)

	wstore := newFakeWalletStore()
	v := NewVerifier(NewHeaderStore(), fetcher, wstore, testVerifierConfig())

	if err := v.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if top, _ := v.store.TopHeight(); top != 10 {
		t.Fatalf("after first tick top = %d, want 10", top)
	}

	// A transaction confirmed and verified in the soon-to-be-orphaned
	// part of chain A.
	wstore.verified["aa"] = models.VerifiedTx{Height: 8}
	wstore.verified["bb"] = models.VerifiedTx{Height: 5}

	fetcher.setChain(chainB, 12)
	if err := v.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	if top, _ := v.store.TopHeight(); top != 12 {
		t.Errorf("after reorg top = %d, want 12", top)
	}
	got, ok := v.store.Get(8)
	if !ok || HeaderHash(got) != HeaderHash(chainB[8]) {
		t.Error("height 8 should hold chain B's header after the reorg")
	}
	if _, cleared := wstore.verified["aa"]; cleared {
		t.Error("stamp at height 8 should have been cleared by the reorg")
	}
	if _, kept := wstore.verified["bb"]; !kept {
		t.Error("stamp below the reorg point must survive")
	}
}

func TestVerifier_RefutedProofIsNotRetried(t *testing.T) {
	var txid [32]byte
	txid[0] = 0x77
	txidHex := hex.EncodeToString(txid[:])

	chain := testChain(4, 0xe0)
	fetcher := &fakeFetcher{proofs: map[string]MerkleProof{
		// Non-empty branch that cannot reduce to the stored root.
		txidHex: {Branch: [][32]byte{{0x01}}, Pos: 0, BlockHeight: 2},
	}}
	fetcher.setChain(chain, 3)

	wstore := newFakeWalletStore()
	wstore.pending = []PendingTx{{TxidHex: txidHex, Height: 2}}

	v := NewVerifier(NewHeaderStore(), fetcher, wstore, testVerifierConfig())
	if err := v.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := v.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	fetcher.mu.Lock()
	calls := fetcher.merkleCalls
	fetcher.mu.Unlock()
	if calls != 1 {
		t.Errorf("a refuted proof should be requested once, saw %d requests", calls)
	}
	if _, stamped := wstore.verified[txidHex]; stamped {
		t.Error("refuted transaction must not be stamped verified")
	}
}
