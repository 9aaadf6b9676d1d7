// Package wallet implements the wallet state component: addresses,
// per-address history, the transaction table, labels, contacts, the
// derived UTXO view and balance accounting, and gap-limit
// synchronization. It is the single mutable resource the concurrency
// model funnels every state transition through.
package wallet

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/config"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/keys"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/persist"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/storage"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// Wallet is the core's single mutable resource. Every public operation
// acquires mu for its duration; network and verifier events are expected
// to arrive through Apply* methods called from one state-owner goroutine,
// never concurrently with each other.
type Wallet struct {
	mu sync.Mutex

	cfg      config.Config
	keychain *keys.Keychain
	txs      storage.TxStore

	statusHashes map[string]string
	histories    map[string][]models.HistoryEntry
	verified     map[string]models.VerifiedTx // keyed by lowercase hex txid
	labels       map[string]string
	contacts     []string

	logger *slog.Logger
}

// New creates a brand new wallet: a fresh master keypair derived from
// seedHex, encrypted under password if non-empty, with exactly one
// receiving address generated.
func New(cfg config.Config, seedHex, password string) (*Wallet, error) {
	keychain, err := keys.NewKeychainFromSeed(cfg.Network, seedHex, password)
	if err != nil {
		return nil, err
	}

	w := newEmpty(cfg, keychain)
	w.keychain.AppendReceiving()
	return w, nil
}

func newEmpty(cfg config.Config, keychain *keys.Keychain) *Wallet {
	return &Wallet{
		cfg:          cfg,
		keychain:     keychain,
		txs:          storage.NewMemoryTxStore(),
		statusHashes: make(map[string]string),
		histories:    make(map[string][]models.HistoryEntry),
		verified:     make(map[string]models.VerifiedTx),
		labels:       make(map[string]string),
		logger:       slog.Default().With("component", "wallet"),
	}
}

// Open reconstructs a wallet from a previously validated record. Use
// persist.Load to obtain record from a file first.
func Open(cfg config.Config, record *models.WalletRecord) (*Wallet, error) {
	if err := persist.ValidateRecord(record); err != nil {
		return nil, err
	}

	master, err := keys.NewMasterKeyPairFromPublic(record.MasterPublicKey)
	if err != nil {
		return nil, err
	}

	keychain := keys.NewKeychain(cfg.Network, master, record.SeedEnc, record.UseEncryption)
	keychain.RestoreReceiving(record.Receiving)
	keychain.RestoreChange(record.Change)
	keychain.RestoreImported(record.Imported)

	w := newEmpty(cfg, keychain)
	w.cfg.GapLimit = record.GapLimit
	w.cfg.FeePerKB = record.FeePerKB
	w.cfg.ServerEndpoint = record.ServerEndpoint

	for addr, hash := range record.StatusHashes {
		w.statusHashes[addr] = hash
	}
	for addr, entries := range record.Histories {
		w.histories[addr] = append([]models.HistoryEntry(nil), entries...)
	}
	for txidHex, rec := range record.Transactions {
		recCopy := rec
		if err := w.txs.Put(txidHex, &recCopy); err != nil {
			return nil, fmt.Errorf("%w: %v", walleterr.ErrStoreCorrupt, err)
		}
	}
	for txidHex, v := range record.VerifiedTxs {
		w.verified[txidHex] = v
	}
	for k, v := range record.Labels {
		w.labels[k] = v
	}
	w.contacts = append([]string(nil), record.Contacts...)

	return w, nil
}

// Snapshot captures the wallet's current state as a WalletRecord, ready
// for a Codec to encode.
func (w *Wallet) Snapshot() (*models.WalletRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *Wallet) snapshotLocked() (*models.WalletRecord, error) {
	allTxs, err := w.txs.All()
	if err != nil {
		return nil, fmt.Errorf("snapshot tx store: %w", err)
	}

	imported := w.keychain.Imported()
	importedList := make([]models.ImportedKey, 0, len(imported))
	for _, ik := range imported {
		importedList = append(importedList, ik)
	}

	histories := make(map[string][]models.HistoryEntry, len(w.histories))
	for addr, entries := range w.histories {
		histories[addr] = append([]models.HistoryEntry(nil), entries...)
	}

	statusHashes := make(map[string]string, len(w.statusHashes))
	for k, v := range w.statusHashes {
		statusHashes[k] = v
	}

	verifiedTxs := make(map[string]models.VerifiedTx, len(w.verified))
	for k, v := range w.verified {
		verifiedTxs[k] = v
	}

	labels := make(map[string]string, len(w.labels))
	for k, v := range w.labels {
		labels[k] = v
	}

	record := &models.WalletRecord{
		SeedVersion:     persist.CurrentSeedVersion,
		SeedEnc:         w.keychain.SeedEnc(),
		UseEncryption:   w.keychain.UseEncryption(),
		MasterPublicKey: w.keychain.Master().PublicBytes(),

		Receiving: w.keychain.Receiving(),
		Change:    w.keychain.Change(),
		Imported:  importedList,

		StatusHashes: statusHashes,
		Histories:    histories,
		Transactions: allTxs,
		VerifiedTxs:  verifiedTxs,

		Labels:   labels,
		Contacts: append([]string(nil), w.contacts...),

		GapLimit:       w.cfg.GapLimit,
		FeePerKB:       w.cfg.FeePerKB,
		ServerEndpoint: w.cfg.ServerEndpoint,
	}

	return record, nil
}

// Save snapshots the wallet and writes it atomically to path using codec.
func (w *Wallet) Save(path string, codec persist.Codec) error {
	record, err := w.Snapshot()
	if err != nil {
		return err
	}
	return persist.Save(path, codec, record)
}

// ChangePassword atomically re-encrypts the seed and every imported key.
func (w *Wallet) ChangePassword(old, new string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keychain.ChangePassword(old, new)
}

// Label returns the free-form label for key (an address or txid string),
// if any.
func (w *Wallet) Label(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.labels[key]
	return v, ok
}

// SetLabel sets a free-form label for key.
func (w *Wallet) SetLabel(key, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.labels[key] = text
}

// Contacts returns the list of outgoing addresses the wallet has noted.
func (w *Wallet) Contacts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.contacts...)
}

func (w *Wallet) addContactLocked(address string) {
	for _, c := range w.contacts {
		if c == address {
			return
		}
	}
	w.contacts = append(w.contacts, address)
}

// Keychain exposes the underlying key hierarchy for callers (e.g. the CLI
// front-end) that need address listing or private-key export.
func (w *Wallet) Keychain() *keys.Keychain { return w.keychain }

// GapLimit returns the configured gap limit.
func (w *Wallet) GapLimit() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.GapLimit
}
