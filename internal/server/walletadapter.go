package server

import (
	"context"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/wallet"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// WalletAdapter narrows a full Client down to the three methods
// wallet.ServerClient needs, so the wallet package's dependency on the
// server interface stays as small as the synchronizer actually requires.
type WalletAdapter struct {
	Client Client
}

var _ wallet.ServerClient = WalletAdapter{}

func (a WalletAdapter) Subscribe(ctx context.Context, address string) (string, error) {
	return a.Client.SubscribeAddress(ctx, address)
}

func (a WalletAdapter) GetHistory(ctx context.Context, address string) ([]models.HistoryEntry, error) {
	return a.Client.GetHistory(ctx, address)
}

func (a WalletAdapter) GetTransaction(ctx context.Context, txidHex string) ([]byte, error) {
	return a.Client.GetTransaction(ctx, txidHex)
}
