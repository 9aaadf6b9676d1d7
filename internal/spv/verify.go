package spv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/decred/dcrd/lru"
	"golang.org/x/sync/errgroup"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// VerifyBranch reports whether branch, read sibling-by-sibling against
// pos, reduces txid to root. Ported from the legacy SPV.hash_merkle_root:
// bit i of pos selects whether sibling i sits to the left (bit set) or
// right (bit clear) of the hash accumulated so far. txid, branch and root
// follow this codebase's one hashing convention throughout (Hash256,
// never reversed for display) except at the two boundaries where the
// wire protocol hands back display-order hex, which is why txid and
// every branch entry are reversed before entering the accumulator while
// root (read directly off a parsed header) is not.
func VerifyBranch(txid [32]byte, branch [][32]byte, pos uint32, root [32]byte) bool {
	h := cryptoutil.Reverse32(txid)
	for i, sibling := range branch {
		s := cryptoutil.Reverse32(sibling)
		var buf [64]byte
		if (pos>>uint(i))&1 == 1 {
			copy(buf[0:32], s[:])
			copy(buf[32:64], h[:])
		} else {
			copy(buf[0:32], h[:])
			copy(buf[32:64], s[:])
		}
		h = cryptoutil.Hash256(buf[:])
	}
	return h == root
}

// MerkleProof is the shape of a blockchain.transaction.get_merkle
// response, expressed without depending on the server transport package
// (which itself depends on this one for header parsing).
type MerkleProof struct {
	Branch      [][32]byte
	Pos         uint32
	BlockHeight uint32
}

// HeaderFetcher is the narrow slice of the server interface (C5) the
// verifier needs. Defined here rather than imported so this package
// never depends on a concrete transport; internal/server adapts its
// Client to this interface.
type HeaderFetcher interface {
	SubscribeNumBlocks(ctx context.Context) (uint32, error)
	GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error)
	GetMerkle(ctx context.Context, txidHex string, height uint32) (MerkleProof, error)
}

// PendingTx is one stored transaction the wallet has seen at a
// confirmed height but has not yet Merkle-verified.
type PendingTx struct {
	TxidHex string
	Height  uint32
}

// WalletStore is the narrow slice of wallet state the verifier needs in
// order to report and act on verification results, without this package
// importing internal/wallet.
type WalletStore interface {
	// PendingVerification lists every confirmed-but-unverified transaction.
	PendingVerification() []PendingTx
	// MarkVerified stamps txidHex as verified.
	MarkVerified(txidHex string, v models.VerifiedTx)
	// ClearVerifiedFrom drops every verification stamp at or above height
	// (a reorg invalidates them) and returns the cleared txids.
	ClearVerifiedFrom(height uint32) []string
}

// Verifier is C6: it owns a HeaderStore, fetches headers and Merkle
// branches through a HeaderFetcher, and reports results through a
// WalletStore. One Tick call is one pass of the whole loop; callers
// drive it on their own schedule (a ticker, a numblocks.subscribe push).
type Verifier struct {
	store   *HeaderStore
	fetcher HeaderFetcher
	wallet  WalletStore
	cfg     config.Config
	logger  *slog.Logger

	// refuted remembers txids whose Merkle branch hashed to the wrong
	// root, so a server serving bogus proofs is not re-asked on every
	// tick. Bounded; eviction gives a long-lived txid another chance.
	refuted lru.Cache
}

// NewVerifier returns a Verifier over store, fetching through fetcher
// and reporting through wallet.
func NewVerifier(store *HeaderStore, fetcher HeaderFetcher, wallet WalletStore, cfg config.Config) *Verifier {
	return &Verifier{
		store:   store,
		fetcher: fetcher,
		wallet:  wallet,
		cfg:     cfg,
		logger:  slog.Default().With("component", "spv.verifier"),
		refuted: lru.NewCache(256),
	}
}

// Tick performs one verification pass: walk the header chain forward to
// the server's reported tip (handling a reorg by walking back to the
// common ancestor and truncating first), then attempt one Merkle-branch
// check for every pending transaction at or below the new tip.
func (v *Verifier) Tick(ctx context.Context) error {
	tip, err := v.fetcher.SubscribeNumBlocks(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain tip: %w", err)
	}

	if err := v.syncHeaders(ctx, tip); err != nil {
		return err
	}

	top, hasTop := v.store.TopHeight()
	if !hasTop {
		return nil
	}

	var pending []PendingTx
	for _, p := range v.wallet.PendingVerification() {
		if p.Height <= top && !v.refuted.Contains(p.TxidHex) {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range pending {
		p := p
		g.Go(func() error {
			v.verifyOne(gctx, p)
			return nil
		})
	}
	return g.Wait()
}

// syncHeaders fetches every header from the store's current top (or
// genesis, if empty) up to tip, appending each in turn. A prev-hash
// mismatch means the server's chain has reorged since the last tick; the
// walk-back truncates the store to the common ancestor and resumes
// forward from there.
func (v *Verifier) syncHeaders(ctx context.Context, tip uint32) error {
	top, hasTop := v.store.TopHeight()
	start := uint32(0)
	if hasTop {
		start = top + 1
	}

	for height := start; height <= tip; height++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, err := v.fetcher.GetHeader(ctx, height)
		if err != nil {
			return fmt.Errorf("fetch header %d: %w", height, err)
		}

		if err := v.store.Append(height, h); err != nil {
			if errors.Is(err, ErrPrevHashMismatch) && height > 0 {
				ancestor, ok, rerr := v.handleReorg(ctx, height-1)
				if rerr != nil {
					return rerr
				}
				if !ok {
					return fmt.Errorf("reorg walk-back from height %d found no common ancestor", height-1)
				}
				height = ancestor
				continue
			}
			return fmt.Errorf("append header %d: %w", height, err)
		}
	}
	return nil
}

// handleReorg walks backward from fromHeight, re-fetching the server's
// current header at each height and comparing its hash against what's
// already stored, until it finds the common ancestor. It truncates the
// store above that point and clears any verification stamps the
// truncated headers had backed.
func (v *Verifier) handleReorg(ctx context.Context, fromHeight uint32) (uint32, bool, error) {
	var fetchErr error
	ancestor, ok := v.store.CommonAncestor(fromHeight, func(height uint32) ([32]byte, bool) {
		h, err := v.fetcher.GetHeader(ctx, height)
		if err != nil {
			fetchErr = err
			return [32]byte{}, false
		}
		return HeaderHash(h), true
	})
	if fetchErr != nil {
		return 0, false, fmt.Errorf("reorg walk-back: %w", fetchErr)
	}
	if !ok {
		return 0, false, nil
	}

	v.store.TruncateAt(ancestor + 1)
	cleared := v.wallet.ClearVerifiedFrom(ancestor + 1)
	v.logger.Warn("reorg detected, walked back to common ancestor",
		"ancestor_height", ancestor, "cleared_verifications", len(cleared))
	return ancestor, true, nil
}

// verifyOne attempts to Merkle-verify one pending transaction, retrying
// up to cfg.VerifierMaxRetries times within this tick before giving up
// until the next one.
func (v *Verifier) verifyOne(ctx context.Context, pending PendingTx) {
	header, ok := v.store.Get(pending.Height)
	if !ok {
		return
	}

	txid, err := decodeTxidHex(pending.TxidHex)
	if err != nil {
		v.logger.Warn("pending verification has malformed txid", "txid", pending.TxidHex, "err", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < v.cfg.VerifierMaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		proof, err := v.fetcher.GetMerkle(ctx, pending.TxidHex, pending.Height)
		if err != nil {
			lastErr = err
			continue
		}

		if !VerifyBranch(txid, proof.Branch, proof.Pos, header.MerkleRoot) {
			lastErr = fmt.Errorf("merkle branch does not reduce to header %d's root", pending.Height)
			v.refuted.Add(pending.TxidHex)
			break
		}

		v.wallet.MarkVerified(pending.TxidHex, models.VerifiedTx{
			Height:    pending.Height,
			BlockTime: header.Time,
			Pos:       proof.Pos,
		})
		return
	}

	if lastErr != nil {
		v.logger.Warn("merkle verification not completed this tick",
			"txid", pending.TxidHex, "height", pending.Height, "attempts", v.cfg.VerifierMaxRetries, "err", lastErr)
	}
}

func decodeTxidHex(txidHex string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(txidHex)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("invalid txid %q", txidHex)
	}
	copy(out[:], raw)
	return out, nil
}
