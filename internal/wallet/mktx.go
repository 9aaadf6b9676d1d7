package wallet

import (
	"fmt"
	"sort"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/keys"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/txcodec"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// utxo is a derived, not stored, spendable output: a history entry with
// is_input = false whose (tx_hash, pos) has not been referenced as an
// input by any later entry on any owned address.
type utxo struct {
	Address      string
	TxHash       [32]byte
	Pos          uint32
	Value        uint64
	ScriptPubKey []byte
	FirstSeen    int64
	Height       uint32
}

type utxoKey struct {
	txHash [32]byte
	pos    uint32
}

// utxoSetLocked derives the current UTXO set from histories, ordered by
// ascending first-seen time. Caller must hold w.mu.
func (w *Wallet) utxoSetLocked() ([]utxo, error) {
	spent := make(map[utxoKey]bool)
	for _, entries := range w.histories {
		for _, e := range entries {
			if e.IsInput {
				spent[utxoKey{e.TxHash, e.Pos}] = true
			}
		}
	}

	var out []utxo
	for addr, entries := range w.histories {
		for _, e := range entries {
			if e.IsInput || len(e.ScriptPubKey) == 0 {
				continue
			}
			key := utxoKey{e.TxHash, e.Pos}
			if spent[key] {
				continue
			}

			txidHex := fmt.Sprintf("%x", e.TxHash)
			rec, err := w.txs.Get(txidHex)
			if err != nil {
				return nil, fmt.Errorf("look up transaction %s: %w", txidHex, err)
			}
			var firstSeen int64
			if rec != nil {
				firstSeen = rec.First
			}

			out = append(out, utxo{
				Address:      addr,
				TxHash:       e.TxHash,
				Pos:          e.Pos,
				Value:        uint64(e.ValueSigned),
				ScriptPubKey: e.ScriptPubKey,
				FirstSeen:    firstSeen,
				Height:       e.Height,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen < out[j].FirstSeen })
	return out, nil
}

// Balance returns the confirmed and unconfirmed balance, in satoshis, as
// the signed sum of history entries over every owned address split on
// height == 0.
func (w *Wallet) Balance() (confirmed, unconfirmed int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, entries := range w.histories {
		for _, e := range entries {
			if e.Height == 0 {
				unconfirmed += e.ValueSigned
			} else {
				confirmed += e.ValueSigned
			}
		}
	}
	return confirmed, unconfirmed
}

// estimateSize returns a rough serialized-size estimate in bytes for a
// P2PKH transaction with the given number of inputs and outputs, used to
// iterate the fee calculation in lockstep with Bitcoin Core's historical
// estimator: 10 bytes of fixed overhead, ~148 bytes per input, ~34 bytes
// per output.
func estimateSize(numInputs, numOutputs int) int {
	return 10 + numInputs*148 + numOutputs*34
}

// Mktx selects inputs, computes change, builds, and signs a transaction
// paying amountSat to recipient. If feeSat is nil, the fee is derived
// from the configured fee-per-kilobyte rate and the estimated size,
// iterating as each added input grows the estimate.
func (w *Wallet) Mktx(recipient string, amountSat uint64, feeSat *uint64, password string) (*models.Transaction, [32]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	destHash, err := keys.DecodeAddress(recipient, w.cfg.Network)
	if err != nil {
		return nil, [32]byte{}, err
	}

	candidates, err := w.utxoSetLocked()
	if err != nil {
		return nil, [32]byte{}, err
	}

	selected, fee, total, err := selectInputs(candidates, amountSat, feeSat, w.cfg.FeePerKB)
	if err != nil {
		return nil, [32]byte{}, err
	}

	tx := &models.Transaction{Version: 1, LockTime: 0}
	for _, u := range selected {
		// History entries carry display-order txids; the wire wants the
		// internal byte order.
		tx.Inputs = append(tx.Inputs, models.TxIn{
			PrevHash:  cryptoutil.Reverse32(u.TxHash),
			PrevIndex: u.Pos,
			Sequence:  0xffffffff,
		})
	}

	tx.Outputs = append(tx.Outputs, models.TxOut{
		Value:        amountSat,
		ScriptPubKey: txcodec.BuildP2PKHScriptPubKey(destHash),
	})

	changeAmount := total - amountSat - fee
	if changeAmount > 0 {
		changeAddr := w.changeAddressLocked()
		tx.Outputs = append(tx.Outputs, models.TxOut{
			Value:        changeAmount,
			ScriptPubKey: txcodec.BuildP2PKHScriptPubKey(changeAddr.PubKeyHash),
		})
	}

	for i, u := range selected {
		priv, err := w.keychain.GetPrivateKey(u.Address, password)
		if err != nil {
			return nil, [32]byte{}, err
		}
		sighash := txcodec.Sighash(tx, i, u.ScriptPubKey)
		der := cryptoutil.Sign(priv, sighash)

		xy := cryptoutil.UncompressedXY(priv.PubKey())
		var pubBytes [65]byte
		pubBytes[0] = 0x04
		copy(pubBytes[1:], xy[:])

		tx.Inputs[i].ScriptSig = txcodec.BuildP2PKHScriptSig(der, 0x01, pubBytes[:])
	}

	txid := txcodec.Txid(tx)
	return tx, txid, nil
}

// changeAddressLocked returns the first change address with no history
// and no output already pending in this call, deriving a fresh one if
// every existing change address has been used. Caller must hold w.mu.
func (w *Wallet) changeAddressLocked() models.Address {
	for _, a := range w.keychain.Change() {
		if len(w.histories[a.Encoded]) == 0 {
			return a
		}
	}
	return w.keychain.AppendChange()
}

// selectInputs accumulates candidates (already ordered by ascending
// first-seen time) until their sum covers amount plus fee, recomputing
// fee from feePerKB and the growing size estimate when feeSat is nil.
func selectInputs(candidates []utxo, amount uint64, feeSat *uint64, feePerKB uint64) ([]utxo, uint64, uint64, error) {
	var fee uint64
	if feeSat != nil {
		fee = *feeSat
	}

	var selected []utxo
	var total uint64

	for {
		target := amount + fee
		selected = selected[:0]
		total = 0
		for _, u := range candidates {
			if total >= target {
				break
			}
			selected = append(selected, u)
			total += u.Value
		}

		if total < target {
			return nil, 0, 0, walleterr.ErrInsufficientFunds
		}

		if feeSat != nil {
			return selected, fee, total, nil
		}

		numOutputs := 1
		if total-target > 0 {
			numOutputs = 2
		}
		nextFee := feePerKB * uint64(ceilDiv(estimateSize(len(selected), numOutputs), 1000))
		if nextFee == fee {
			return selected, fee, total, nil
		}
		fee = nextFee
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
