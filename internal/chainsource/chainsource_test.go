package chainsource

import (
	"context"
	"testing"
	"time"

	"github.com/ccoin/shield/internal/crypto"
	"github.com/ccoin/shield/internal/note"
	"github.com/ccoin/shield/pkg/types"
)

func preimageCommitment(value uint64) note.Commitment {
	var npk, txID types.Hash
	npk[0] = 1
	txID[0] = 2
	var token types.TokenID
	token[0] = 3

	preimage := note.Preimage{NotePublicKey: npk, Token: token, Value: value}
	return note.Commitment{
		Kind:            note.KindPreimage,
		Hash:            note.HashForPreimage(preimage),
		TxID:            types.TxID(txID),
		Preimage:        preimage,
		EncryptedRandom: []byte{0xaa, 0xbb, 0xcc},
	}
}

func encryptedCommitment(t *testing.T) note.Commitment {
	sender, err := crypto.GenerateSpendingKey([]byte("chainsource-test-sender-seed-00"))
	if err != nil {
		t.Fatalf("GenerateSpendingKey: %v", err)
	}
	recipient, err := crypto.GenerateSpendingKey([]byte("chainsource-test-recipient-seed"))
	if err != nil {
		t.Fatalf("GenerateSpendingKey: %v", err)
	}
	shared := crypto.ECDH(sender.PrivateScalar, recipient.PublicKey)

	plainNote := note.Note{Value: 100}
	ct, err := note.Encrypt(plainNote, shared[:])
	if err != nil {
		t.Fatalf("note.Encrypt: %v", err)
	}

	var hash, txID types.Hash
	hash[0] = 9
	txID[0] = 10
	return note.Commitment{
		Kind:            note.KindEncrypted,
		Hash:            hash,
		TxID:            types.TxID(txID),
		Ciphertext:      ct,
		EphemeralKeys:   note.EphemeralKeys{crypto.PointToHash(sender.PublicKey), crypto.PointToHash(recipient.PublicKey)},
		SenderPublicKey: crypto.PointToHash(sender.PublicKey),
	}
}

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	batch := Batch{
		Tree:          3,
		StartPosition: 7,
		Leaves:        []note.Commitment{preimageCommitment(42), encryptedCommitment(t)},
	}

	data, err := encodeBatch(batch)
	if err != nil {
		t.Fatalf("encodeBatch: %v", err)
	}

	got, err := decodeBatch(data)
	if err != nil {
		t.Fatalf("decodeBatch: %v", err)
	}
	if got.Tree != batch.Tree || got.StartPosition != batch.StartPosition {
		t.Fatalf("got tree/position %d/%d, want %d/%d", got.Tree, got.StartPosition, batch.Tree, batch.StartPosition)
	}
	if len(got.Leaves) != len(batch.Leaves) {
		t.Fatalf("got %d leaves, want %d", len(got.Leaves), len(batch.Leaves))
	}
	for i, leaf := range got.Leaves {
		want := batch.Leaves[i]
		if leaf.Kind != want.Kind || leaf.Hash != want.Hash || leaf.TxID != want.TxID {
			t.Fatalf("leaf %d mismatch after round trip", i)
		}
	}
}

func TestMemorySourcePublishFansOutToAllSubscribers(t *testing.T) {
	m := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain := types.ChainID(1)
	chA, err := m.Subscribe(ctx, chain)
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	chB, err := m.Subscribe(ctx, chain)
	if err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}

	otherChain := types.ChainID(2)
	chOther, err := m.Subscribe(ctx, otherChain)
	if err != nil {
		t.Fatalf("Subscribe other chain: %v", err)
	}

	batch := Batch{Tree: 0, StartPosition: 0, Leaves: []note.Commitment{preimageCommitment(1)}}
	m.Publish(chain, batch)

	for name, ch := range map[string]<-chan Batch{"A": chA, "B": chB} {
		select {
		case got := <-ch:
			if got.Tree != batch.Tree || len(got.Leaves) != 1 {
				t.Fatalf("subscriber %s got unexpected batch %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the published batch", name)
		}
	}

	select {
	case got := <-chOther:
		t.Fatalf("subscriber on a different chain should not receive anything, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySourceClosesChannelOnContextDone(t *testing.T) {
	m := NewMemorySource()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := m.Subscribe(ctx, types.ChainID(5))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected the channel to be closed, not deliver a value")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
}

func TestTopicNameIsPerChain(t *testing.T) {
	if topicName(types.ChainID(1)) == topicName(types.ChainID(2)) {
		t.Fatal("distinct chains should map to distinct topic names")
	}
}
