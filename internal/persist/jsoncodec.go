package persist

import (
	"encoding/json"
	"fmt"

	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// JSONCodec is the default Codec: straightforward encoding/json over
// WalletRecord. A front-end is free to supply a different Codec (the
// legacy client's own literal-dict format, for instance) without the
// core caring.
type JSONCodec struct{}

func (JSONCodec) Encode(record *models.WalletRecord) ([]byte, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode wallet record: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*models.WalletRecord, error) {
	var record models.WalletRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode wallet record: %w", err)
	}
	return &record, nil
}
