package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/walleterr"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// Save encodes record with codec and writes it to path atomically: the
// new content goes to a sibling temp file, which is fsynced and then
// renamed over path. An advisory file lock on the sibling file
// path+".lock" is held for the
// duration, so two processes sharing a wallet file don't interleave
// writes.
func Save(path string, codec Codec, record *models.WalletRecord) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock wallet file: %w", err)
	}
	defer lock.Unlock()

	data, err := codec.Encode(record)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file into place: %w", err)
	}

	return nil
}

// Load reads path, decodes it with codec, and validates the resulting
// record's invariants. Any failure at any of those steps is reported as
// ErrStoreCorrupt; the file is never auto-repaired.
func Load(path string, codec Codec) (*models.WalletRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrStoreCorrupt, err)
	}

	record, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", walleterr.ErrStoreCorrupt, err)
	}

	if err := ValidateRecord(record); err != nil {
		return nil, err
	}

	return record, nil
}
