package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/txcodec"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// ServerClient is the narrow slice of the server interface (C5) that the
// wallet state needs in order to drive discovery: subscribe to an
// address, fetch its history, and fetch the raw bytes of a transaction it
// does not yet have. The wallet package never imports the transport
// package directly; a caller wires a concrete client in.
type ServerClient interface {
	Subscribe(ctx context.Context, address string) (statusHash string, err error)
	GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error)
	GetTransaction(ctx context.Context, txidHex string) ([]byte, error)
}

// GetNewAddress returns the next unused receiving address. Per the gap
// limit invariant, the trailing gap_limit window of receiving addresses
// is always reserved empty; asking for one more when that whole window
// is still untouched is refused.
func (w *Wallet) GetNewAddress() (models.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	receiving := w.keychain.Receiving()
	gapLimit := int(w.cfg.GapLimit)

	if len(receiving) >= gapLimit {
		allEmpty := true
		for _, a := range receiving[len(receiving)-gapLimit:] {
			if len(w.histories[a.Encoded]) > 0 {
				allEmpty = false
				break
			}
		}
		if allEmpty {
			return models.Address{}, walleterr.ErrGapLimitReached
		}
	}

	return w.keychain.AppendReceiving(), nil
}

// Synchronize drives the gap-limit discovery loop to quiescence: it
// ensures a spare change address exists, keeps the trailing gap_limit
// window of receiving addresses empty, and subscribes to and fetches the
// history of every newly derived address. Imported addresses sit outside
// the derivation sequences, so they are subscribed up front on every
// pass. It returns once no further address needed deriving.
func (w *Wallet) Synchronize(ctx context.Context, client ServerClient) error {
	if err := w.syncImported(ctx, client); err != nil {
		return err
	}
	for {
		derived, err := w.deriveOneRound(ctx, client)
		if err != nil {
			return err
		}
		if !derived {
			return nil
		}
	}
}

// syncImported subscribes to and fetches the history of every imported
// address, so imported funds show up in the UTXO view and balances like
// any derived address's.
func (w *Wallet) syncImported(ctx context.Context, client ServerClient) error {
	for _, ik := range w.keychain.Imported() {
		if err := w.subscribeAndFetch(ctx, client, ik.Address); err != nil {
			return err
		}
	}
	return nil
}

// ImportKey adds a standalone WIF-encoded private key and immediately
// brings its address under synchronization. A nil client defers
// discovery to the next Synchronize pass.
func (w *Wallet) ImportKey(ctx context.Context, client ServerClient, wif, password string) (models.Address, error) {
	addr, err := w.keychain.ImportKey(wif, password)
	if err != nil {
		return models.Address{}, err
	}
	if client != nil {
		if err := w.subscribeAndFetch(ctx, client, addr.Encoded); err != nil {
			return addr, err
		}
	}
	return addr, nil
}

// deriveOneRound performs a single pass of the loop body and reports
// whether any address was newly derived.
func (w *Wallet) deriveOneRound(ctx context.Context, client ServerClient) (bool, error) {
	w.mu.Lock()
	change := w.keychain.Change()
	needChange := len(change) == 0
	if !needChange {
		last := change[len(change)-1]
		needChange = len(w.histories[last.Encoded]) > 0
	}
	var newChange *models.Address
	if needChange {
		addr := w.keychain.AppendChange()
		newChange = &addr
	}
	w.mu.Unlock()

	if newChange != nil {
		if err := w.subscribeAndFetch(ctx, client, newChange.Encoded); err != nil {
			return false, err
		}
		return true, nil
	}

	w.mu.Lock()
	receiving := w.keychain.Receiving()
	gapLimit := int(w.cfg.GapLimit)

	needReceiving := len(receiving) < gapLimit
	if !needReceiving && len(receiving) >= gapLimit {
		for _, a := range receiving[len(receiving)-gapLimit:] {
			if len(w.histories[a.Encoded]) > 0 {
				needReceiving = true
				break
			}
		}
	}
	var newReceiving *models.Address
	if needReceiving {
		addr := w.keychain.AppendReceiving()
		newReceiving = &addr
	}
	w.mu.Unlock()

	if newReceiving != nil {
		if err := w.subscribeAndFetch(ctx, client, newReceiving.Encoded); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

func (w *Wallet) subscribeAndFetch(ctx context.Context, client ServerClient, address string) error {
	statusHash, err := client.Subscribe(ctx, address)
	if err != nil {
		w.logger.Warn("subscribe failed; address left unsubscribed, not retried", "address", address, "err", err)
		return nil
	}
	return w.ApplyStatus(ctx, client, address, statusHash)
}

// ApplyStatus is the entry point for a server-pushed (or polled) status
// hash update for address. A status hash identical to the one already on
// file is a no-op (at most one history fetch per distinct change, per the
// idempotence property); otherwise the full history is fetched and
// applied. A response that lost a race against a newer notification —
// the recorded hash moved while the fetch was in flight — is discarded
// whole: the newer notification's fetch supersedes it.
func (w *Wallet) ApplyStatus(ctx context.Context, client ServerClient, address, statusHash string) error {
	w.mu.Lock()
	before, known := w.statusHashes[address]
	w.mu.Unlock()

	if known && before == statusHash {
		return nil
	}

	entries, err := client.GetHistory(ctx, address)
	if err != nil {
		w.logger.Warn("get_history failed; status not recorded, not retried", "address", address, "err", err)
		return nil
	}

	if w.statusMoved(address, before, known) {
		w.logger.Info("discarding stale history response", "address", address, "status", statusHash)
		return nil
	}

	if err := w.ApplyHistory(ctx, client, address, entries); err != nil {
		return err
	}

	w.mu.Lock()
	if cur, ok := w.statusHashes[address]; ok == known && (!known || cur == before) {
		w.statusHashes[address] = statusHash
	}
	w.mu.Unlock()

	return nil
}

// statusMoved reports whether the recorded status hash for address has
// changed since (before, known) was read.
func (w *Wallet) statusMoved(address, before string, known bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.statusHashes[address]
	if ok != known {
		return true
	}
	return known && cur != before
}

// ApplyHistory ingests a full history list for address, fetching and
// storing the raw bytes of any transaction not already in the store. An
// entry whose transaction cannot be retrieved is held back (not counted
// toward balance) until a later call succeeds in fetching it; the
// invariant that every history-referenced txid exists in the transaction
// table is never violated.
func (w *Wallet) ApplyHistory(ctx context.Context, client ServerClient, address string, entries []models.HistoryEntry) error {
	resolved := make([]models.HistoryEntry, 0, len(entries))

	for _, e := range entries {
		txidHex := hex.EncodeToString(e.TxHash[:])
		w.mu.Lock()
		existing, err := w.txs.Get(txidHex)
		w.mu.Unlock()
		if err != nil {
			return fmt.Errorf("look up transaction %s: %w", txidHex, err)
		}
		if existing != nil {
			resolved = append(resolved, e)
			continue
		}

		raw, ferr := client.GetTransaction(ctx, txidHex)
		if ferr != nil {
			w.logger.Warn("transaction pending: could not fetch", "txid", txidHex, "err", ferr)
			continue
		}
		tx, perr := txcodec.Parse(raw)
		if perr != nil {
			w.logger.Warn("transaction pending: could not parse", "txid", txidHex, "err", perr)
			continue
		}
		txid := txcodec.Txid(tx)
		canonical := hex.EncodeToString(txid[:])
		if canonical != txidHex {
			w.logger.Warn("fetched transaction txid mismatch", "want", txidHex, "got", canonical)
			continue
		}

		record := &models.TxRecord{Raw: raw, Txid: txid, Tx: *tx, First: time.Now().Unix()}
		w.mu.Lock()
		if putErr := w.txs.Put(txidHex, record); putErr != nil {
			w.mu.Unlock()
			return fmt.Errorf("store transaction %s: %w", txidHex, putErr)
		}
		w.mu.Unlock()

		resolved = append(resolved, e)

		// An outgoing spend introduces its destinations as contacts.
		if e.IsInput {
			w.mu.Lock()
			for _, out := range tx.Outputs {
				hash, ok := txcodec.IsP2PKH(out.ScriptPubKey)
				if !ok {
					continue
				}
				dest := addressFromHash(hash, w.cfg.Network)
				if _, owned := w.keychain.FindOwned(dest); !owned {
					w.addContactLocked(dest)
				}
			}
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	w.histories[address] = resolved
	w.mu.Unlock()

	return nil
}

// addressFromHash encodes a pubkey hash as a Base58Check P2PKH address
// for network, used to identify the destination of an observed output
// without needing its public key.
func addressFromHash(hash [20]byte, network models.Network) string {
	return cryptoutil.Base58CheckEncode(network.AddressVersion(), hash[:])
}

// RestoreFromSeed first subscribes to and fetches the history of every
// address already in the receiving and change sequences (such as the
// receiving address New derives), then drives the same discovery loop as
// Synchronize until neither sequence has grown for a full pass, then
// walks every observed transaction output and records any address that
// is neither owned nor already a contact.
func (w *Wallet) RestoreFromSeed(ctx context.Context, client ServerClient) error {
	existing := append(w.keychain.Receiving(), w.keychain.Change()...)
	for _, a := range existing {
		if err := w.subscribeAndFetch(ctx, client, a.Encoded); err != nil {
			return err
		}
	}
	if err := w.Synchronize(ctx, client); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.txs.All()
	if err != nil {
		return fmt.Errorf("walk transactions: %w", err)
	}
	for _, rec := range all {
		for _, out := range rec.Tx.Outputs {
			hash, ok := txcodec.IsP2PKH(out.ScriptPubKey)
			if !ok {
				continue
			}
			addr := addressFromHash(hash, w.cfg.Network)
			if _, owned := w.keychain.FindOwned(addr); owned {
				continue
			}
			w.addContactLocked(addr)
		}
	}

	return nil
}
