package wallet

import (
	"encoding/hex"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/spv"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// heightForTxid returns the first confirmed height it finds for txidHex
// across the address histories (their map order is unspecified), or (0, false)
// if it is still unconfirmed or not referenced at all. Callers must hold
// w.mu.
func (w *Wallet) heightForTxid(txidHex string) (uint32, bool) {
	for _, entries := range w.histories {
		for _, e := range entries {
			if e.Height > 0 && hex.EncodeToString(e.TxHash[:]) == txidHex {
				return e.Height, true
			}
		}
	}
	return 0, false
}

// PendingVerification lists every stored transaction seen confirmed at
// some height but not yet Merkle-verified. It implements spv.WalletStore.
func (w *Wallet) PendingVerification() []spv.PendingTx {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.txs.All()
	if err != nil {
		w.logger.Warn("list transactions for verification failed", "err", err)
		return nil
	}

	var pending []spv.PendingTx
	for txidHex := range all {
		if _, done := w.verified[txidHex]; done {
			continue
		}
		height, confirmed := w.heightForTxid(txidHex)
		if !confirmed {
			continue
		}
		pending = append(pending, spv.PendingTx{TxidHex: txidHex, Height: height})
	}
	return pending
}

// MarkVerified stamps txidHex as Merkle-verified. It implements
// spv.WalletStore.
func (w *Wallet) MarkVerified(txidHex string, v models.VerifiedTx) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.verified[txidHex] = v
}

// ClearVerifiedFrom drops every verification stamp at or above height,
// as the verifier requires once a reorg walk-back truncates the header
// chain past them, and returns the cleared txids. It implements
// spv.WalletStore.
func (w *Wallet) ClearVerifiedFrom(height uint32) []string {
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

// TxState reports the lifecycle stage of txidHex: unseen if the wallet
// holds no record of it at all, seen_unconfirmed/seen_confirmed from the
// most recent history height reported for it, or verified once its
// Merkle branch has been checked against a locally stored header.
func (w *Wallet) TxState(txidHex string) models.TxState {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := w.txs.Get(txidHex)
	if err != nil || rec == nil {
		return models.TxUnseen
	}
	if _, done := w.verified[txidHex]; done {
		return models.TxVerified
	}
	if _, confirmed := w.heightForTxid(txidHex); confirmed {
		return models.TxSeenConfirmed
	}
	return models.TxSeenUnconfirmed
}
