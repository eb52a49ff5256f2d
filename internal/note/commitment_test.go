package note

import (
	"testing"

	"github.com/ccoin/shield/pkg/types"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	addr := testAddress(t)
	n := New(addr, []byte{1, 2, 3}, 555, []byte{0x01, 0x02})

	viewingSeed := make([]byte, 32)
	viewingSeed[0] = 0x55

	partial := PartialNote{
		MasterPublicKey: n.MasterPublicKey,
		Token:           n.Token,
		Random:          n.Random,
		Value:           n.Value,
	}

	data, err := Serialize(partial, viewingSeed)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	npk, token, value, random, err := Deserialize(data, viewingSeed)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if npk != partial.NotePublicKey() {
		t.Fatal("notePublicKey mismatch after round trip")
	}
	if token != partial.Token {
		t.Fatal("token mismatch after round trip")
	}
	if value != partial.Value {
		t.Fatal("value mismatch after round trip")
	}
	if random != partial.Random {
		t.Fatal("random mismatch after round trip")
	}
}

func TestHashForPreimageMatchesNoteHash(t *testing.T) {
	addr := testAddress(t)
	n := New(addr, []byte{4, 5, 6}, 10, []byte{0xAB})

	p := Preimage{
		NotePublicKey: n.NotePublicKey(),
		Token:         n.Token,
		Value:         n.Value,
	}

	if HashForPreimage(p) != n.Hash() {
		t.Fatal("HashForPreimage should match Note.Hash for the same fields")
	}
}

func TestCommitmentKindValues(t *testing.T) {
	if KindEncrypted == KindPreimage {
		t.Fatal("KindEncrypted and KindPreimage must be distinct")
	}
	var c Commitment
	c.Kind = KindEncrypted
	c.Hash = types.Hash{1}
	if c.Kind != KindEncrypted {
		t.Fatal("Commitment.Kind assignment failed")
	}
}
