package broadcast

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/internal/storage"
	"github.com/olehkaliuzhnyi/spv-wallet/internal/txcodec"
	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

// fakeClient fails the first failures calls, then succeeds, echoing back
// the txid of whatever it is handed.
type fakeClient struct {
	calls    int
	failures int
}

func (f *fakeClient) Broadcast(_ context.Context, rawHex string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("server unavailable")
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", err
	}
	tx, err := txcodec.Parse(raw)
	if err != nil {
		return "", err
	}
	txid := txcodec.Txid(tx)
	return hex.EncodeToString(txid[:]), nil
}

func testTx() *models.Transaction {
	return &models.Transaction{
		Version: 1,
		Inputs:  []models.TxIn{{PrevHash: [32]byte{0x01}, PrevIndex: 0, Sequence: 0xffffffff}},
		Outputs: []models.TxOut{{Value: 1000, ScriptPubKey: txcodec.BuildP2PKHScriptPubKey([20]byte{0x02})}},
	}
}

func newTestBroadcaster(client Client) *Broadcaster {
	return New(Config{MaxRetries: 3, RetryBase: time.Millisecond}, client, storage.NewMemoryBroadcastStore())
}

func TestSend_RetriesUntilSuccess(t *testing.T) {
	client := &fakeClient{failures: 2}
	b := newTestBroadcaster(client)

	txidHex, err := b.Send(context.Background(), testTx())
	if err != nil {
		t.Fatal(err)
	}
	if client.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", client.calls)
	}

	tx := testTx()
	want := txcodec.Txid(tx)
	if txidHex != hex.EncodeToString(want[:]) {
		t.Errorf("returned txid %s does not match the transaction", txidHex)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeClient{failures: 100}
	b := newTestBroadcaster(client)

	if _, err := b.Send(context.Background(), testTx()); err == nil {
		t.Fatal("expected an error once every retry is exhausted")
	}
	if client.calls != 3 {
		t.Errorf("expected exactly MaxRetries=3 attempts, got %d", client.calls)
	}
}

func TestSend_SecondSendIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	b := newTestBroadcaster(client)

	first, err := b.Send(context.Background(), testTx())
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Send(context.Background(), testTx())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("idempotent resend returned a different txid: %s vs %s", first, second)
	}
	if client.calls != 1 {
		t.Errorf("resend should not contact the server again, saw %d calls", client.calls)
	}
}
