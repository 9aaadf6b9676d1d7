// Package persist implements the wallet's atomically-written, typed
// store file: a Codec encodes/decodes the single WalletRecord the core
// round-trips, and Save/Load wrap that with the write-temp-then-rename
// and advisory-locking discipline the data model requires. The concrete
// on-disk shape is deliberately just one interface implementation here —
// the spec treats serialization format as an external collaborator's
// concern, the core only requires that Load(Save(r)) == r.
package persist

import "github.com/olehkaliuzhnyi/spv-wallet/pkg/models"

// Codec turns a WalletRecord into bytes and back. SeedVersion in the
// decoded record is the source of truth for whether Decode can make
// sense of the bytes at all; an unrecognized version is the caller's
// cue to report ErrStoreCorrupt.
type Codec interface {
	Encode(record *models.WalletRecord) ([]byte, error)
	Decode(data []byte) (*models.WalletRecord, error)
}
