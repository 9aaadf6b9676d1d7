package server

import (
	"context"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/spv"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// SPVAdapter narrows a full Client down to the three methods
// spv.HeaderFetcher needs, and reshapes GetMerkle's result into the
// spv package's own MerkleProof type so that package never has to
// import this one.
type SPVAdapter struct {
	Client Client
}

var _ spv.HeaderFetcher = SPVAdapter{}

func (a SPVAdapter) SubscribeNumBlocks(ctx context.Context) (uint32, error) {
	return a.Client.SubscribeNumBlocks(ctx)
}

func (a SPVAdapter) GetHeader(ctx context.Context, height uint32) (models.BlockHeader, error) {
	return a.Client.GetHeader(ctx, height)
}

func (a SPVAdapter) GetMerkle(ctx context.Context, txidHex string, height uint32) (spv.MerkleProof, error) {
	res, err := a.Client.GetMerkle(ctx, txidHex, height)
	if err != nil {
		return spv.MerkleProof{}, err
	}
	return spv.MerkleProof{Branch: res.Branch, Pos: res.Pos, BlockHeight: res.BlockHeight}, nil
}
