package keys

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/cryptoutil"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// Keychain owns the master keypair, the dense receiving/change address
// sequences, and the imported-key table. It has no notion of history or
// balance; that belongs to the wallet state (internal/wallet).
type Keychain struct {
	mu sync.RWMutex

	network models.Network
	master  *MasterKeyPair

	seedEnc       string // hex seed, or ciphertext if useEncryption
	useEncryption bool

	receiving []models.Address
	change    []models.Address
	imported  map[string]models.ImportedKey // keyed by address string
}

// NewKeychain creates a keychain around an existing master keypair. The
// seed (plain or already-encrypted) is stored as given; callers that want
// encryption must encrypt the seed hex before calling this, or use
// NewKeychainFromSeed.
func NewKeychain(network models.Network, master *MasterKeyPair, seedEnc string, useEncryption bool) *Keychain {
	return &Keychain{
		network:       network,
		master:        master,
		seedEnc:       seedEnc,
		useEncryption: useEncryption,
		imported:      make(map[string]models.ImportedKey),
	}
}

// NewKeychainFromSeed creates a fresh keychain, deriving the master
// keypair from seedHex and encrypting it at rest if password is non-empty.
func NewKeychainFromSeed(network models.Network, seedHex, password string) (*Keychain, error) {
	master, err := NewMasterKeyPairFromSeed(seedHex)
	if err != nil {
		return nil, err
	}

	seedEnc := seedHex
	useEncryption := password != ""
	if useEncryption {
		seedEnc, err = cryptoutil.EncryptSecret(seedHex, password)
		if err != nil {
			return nil, fmt.Errorf("encrypt seed: %w", err)
		}
	}

	return NewKeychain(network, master, seedEnc, useEncryption), nil
}

// Network returns the chain this keychain targets.
func (k *Keychain) Network() models.Network { return k.network }

// Master returns the master keypair (public-only if watch-only).
func (k *Keychain) Master() *MasterKeyPair { return k.master }

// UseEncryption reports whether secrets are currently stored as
// ciphertext.
func (k *Keychain) UseEncryption() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.useEncryption
}

// SeedEnc returns the raw stored seed field (hex or ciphertext), for
// persistence.
func (k *Keychain) SeedEnc() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.seedEnc
}

// Receiving returns a copy of the receiving-address sequence.
func (k *Keychain) Receiving() []models.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]models.Address, len(k.receiving))
	copy(out, k.receiving)
	return out
}

// Change returns a copy of the change-address sequence.
func (k *Keychain) Change() []models.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]models.Address, len(k.change))
	copy(out, k.change)
	return out
}

// Imported returns a copy of the imported-key table.
func (k *Keychain) Imported() map[string]models.ImportedKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]models.ImportedKey, len(k.imported))
	for addr, ik := range k.imported {
		out[addr] = ik
	}
	return out
}

// AppendReceiving derives and appends the next receiving address,
// maintaining the dense-prefix invariant.
func (k *Keychain) AppendReceiving() models.Address {
	k.mu.Lock()
	defer k.mu.Unlock()
	addr := k.master.NewChildAddress(uint32(len(k.receiving)), false, k.network)
	k.receiving = append(k.receiving, addr)
	return addr
}

// AppendChange derives and appends the next change address.
func (k *Keychain) AppendChange() models.Address {
	k.mu.Lock()
	defer k.mu.Unlock()
	addr := k.master.NewChildAddress(uint32(len(k.change)), true, k.network)
	k.change = append(k.change, addr)
	return addr
}

// RestoreReceiving and RestoreChange repopulate the sequences when
// loading a persisted record; they assume the caller already validated
// the dense-prefix invariant.
func (k *Keychain) RestoreReceiving(addrs []models.Address) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.receiving = append([]models.Address(nil), addrs...)
}

func (k *Keychain) RestoreChange(addrs []models.Address) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.change = append([]models.Address(nil), addrs...)
}

func (k *Keychain) RestoreImported(entries []models.ImportedKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.imported = make(map[string]models.ImportedKey, len(entries))
	for _, ik := range entries {
		k.imported[ik.Address] = ik
	}
}

// FindOwned reports whether address belongs to the receiving or change
// sequence or the imported table, returning its sequence entry if so.
func (k *Keychain) FindOwned(address string) (models.Address, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, a := range k.receiving {
		if a.Encoded == address {
			return a, true
		}
	}
	for _, a := range k.change {
		if a.Encoded == address {
			return a, true
		}
	}
	if _, ok := k.imported[address]; ok {
		return models.Address{Encoded: address, Imported: true}, true
	}
	return models.Address{}, false
}

// GetPrivateKey decrypts the seed (or imported key) with password and
// re-derives the private key for address.
func (k *Keychain) GetPrivateKey(address, password string) (*secp256k1.PrivateKey, error) {
	k.mu.RLock()
	receiving := k.receiving
	change := k.change
	imported, isImported := k.imported[address]
	seedEnc := k.seedEnc
	useEncryption := k.useEncryption
	k.mu.RUnlock()

	seedHex := seedEnc
	if useEncryption {
		var err error
		seedHex, err = cryptoutil.DecryptSecret(seedEnc, password)
		if err != nil {
			return nil, err
		}
	}

	if isImported {
		wifHex := imported.PrivateKeyEnc
		if useEncryption {
			var err error
			wifHex, err = cryptoutil.DecryptSecret(wifHex, password)
			if err != nil {
				return nil, err
			}
		}
		raw, err := hex.DecodeString(wifHex)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("%w: corrupt imported key", walleterr.ErrStoreCorrupt)
		}
		var arr [32]byte
		copy(arr[:], raw)
		return cryptoutil.ParsePrivateKeyBytes(arr)
	}

	master, err := NewMasterKeyPairFromSeed(seedHex)
	if err != nil {
		return nil, err
	}

	for _, a := range receiving {
		if a.Encoded == address {
			return master.DeriveChildPrivate(a.Index, false)
		}
	}
	for _, a := range change {
		if a.Encoded == address {
			return master.DeriveChildPrivate(a.Index, true)
		}
	}

	return nil, walleterr.ErrUnknownAddress
}

// ImportKey decodes a WIF-encoded private key, derives its address, and
// stores the key encrypted (or plaintext hex, matching the keychain's
// current encryption state) keyed by that address.
func (k *Keychain) ImportKey(wif, password string) (models.Address, error) {
	params := &chaincfg.MainNetParams
	if k.network == models.NetworkTestnet {
		params = &chaincfg.TestNet3Params
	}

	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return models.Address{}, fmt.Errorf("%w: bad WIF: %v", walleterr.ErrInvalidAddress, err)
	}
	if !decoded.IsForNet(params) {
		return models.Address{}, fmt.Errorf("%w: WIF is for the wrong network", walleterr.ErrInvalidAddress)
	}

	priv := decoded.PrivKey
	pub := priv.PubKey()
	addr := AddressFromPublic(pub, k.network)
	addr.Imported = true

	privBytes := priv.Serialize()
	var arr [32]byte
	copy(arr[:], privBytes)
	plainHex := hex.EncodeToString(arr[:])

	stored := plainHex
	k.mu.RLock()
	useEncryption := k.useEncryption
	k.mu.RUnlock()
	if useEncryption {
		stored, err = cryptoutil.EncryptSecret(plainHex, password)
		if err != nil {
			return models.Address{}, fmt.Errorf("encrypt imported key: %w", err)
		}
	}

	k.mu.Lock()
	k.imported[addr.Encoded] = models.ImportedKey{Address: addr.Encoded, PrivateKeyEnc: stored}
	k.mu.Unlock()

	return addr, nil
}

// ChangePassword atomically re-encrypts the seed and every imported key
// under a new password. old must be "" if the keychain currently carries
// no encryption.
func (k *Keychain) ChangePassword(old, new string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	seedHex := k.seedEnc
	if k.useEncryption {
		var err error
		seedHex, err = cryptoutil.DecryptSecret(k.seedEnc, old)
		if err != nil {
			return err
		}
	}

	decryptedImported := make(map[string]string, len(k.imported))
	for addr, ik := range k.imported {
		plain := ik.PrivateKeyEnc
		if k.useEncryption {
			var err error
			plain, err = cryptoutil.DecryptSecret(ik.PrivateKeyEnc, old)
			if err != nil {
				return err
			}
		}
		decryptedImported[addr] = plain
	}

	newUseEncryption := new != ""

	newSeedEnc := seedHex
	if newUseEncryption {
		enc, err := cryptoutil.EncryptSecret(seedHex, new)
		if err != nil {
			return fmt.Errorf("re-encrypt seed: %w", err)
		}
		// Round-trip check: the invariant requires pw_decode(pw_encode(s,p),p) == s.
		rt, err := cryptoutil.DecryptSecret(enc, new)
		if err != nil || rt != seedHex {
			return walleterr.ErrWrongPassword
		}
		newSeedEnc = enc
	}

	newImported := make(map[string]models.ImportedKey, len(decryptedImported))
	for addr, plain := range decryptedImported {
		stored := plain
		if newUseEncryption {
			enc, err := cryptoutil.EncryptSecret(plain, new)
			if err != nil {
				return fmt.Errorf("re-encrypt imported key: %w", err)
			}
			stored = enc
		}
		newImported[addr] = models.ImportedKey{Address: addr, PrivateKeyEnc: stored}
	}

	k.seedEnc = newSeedEnc
	k.useEncryption = newUseEncryption
	k.imported = newImported
	return nil
}
