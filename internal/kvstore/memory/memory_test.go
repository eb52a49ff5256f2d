package memory

import (
	"context"
	"testing"

	"github.com/ccoin/shield/internal/kv"
)

func TestGetPutRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.Key{kv.HexComponent([]byte("a")), kv.HexComponent([]byte("b"))}

	if _, err := s.Get(ctx, key); err != kv.ErrNotFound {
		t.Fatalf("Get on missing key = %v, want kv.ErrNotFound", err)
	}

	if err := s.Put(ctx, key, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestGetEncryptedRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := kv.Key{kv.HexComponent([]byte("wallet"))}
	encKey := make([]byte, 32)
	encKey[0] = 0x42

	if err := s.PutEncrypted(ctx, key, encKey, []byte("secret payload")); err != nil {
		t.Fatalf("PutEncrypted: %v", err)
	}

	raw, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) == "secret payload" {
		t.Fatal("expected the stored bytes to be ciphertext, not plaintext")
	}

	got, err := s.GetEncrypted(ctx, key, encKey)
	if err != nil {
		t.Fatalf("GetEncrypted: %v", err)
	}
	if string(got) != "secret payload" {
		t.Fatalf("got %q, want %q", got, "secret payload")
	}

	wrongKey := make([]byte, 32)
	wrongKey[0] = 0x43
	if _, err := s.GetEncrypted(ctx, key, wrongKey); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestBatchWritesAllOps(t *testing.T) {
	s := New()
	ctx := context.Background()
	ops := []kv.Op{
		{Key: kv.Key{kv.HexComponent([]byte("a"))}, Value: []byte("1")},
		{Key: kv.Key{kv.HexComponent([]byte("b"))}, Value: []byte("2")},
	}
	if err := s.Batch(ctx, ops); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	for _, op := range ops {
		got, err := s.Get(ctx, op.Key)
		if err != nil {
			t.Fatalf("Get after batch: %v", err)
		}
		if string(got) != string(op.Value) {
			t.Fatalf("got %q, want %q", got, op.Value)
		}
	}
}

func TestStreamNamespaceReturnsOnlyPrefixedKeysInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	prefix := kv.Key{"wallet", kv.HexComponent([]byte{0x01})}
	inNamespace := []kv.Key{
		append(append(kv.Key{}, prefix...), kv.HexComponent([]byte{0x00})),
		append(append(kv.Key{}, prefix...), kv.HexComponent([]byte{0x01})),
	}
	outOfNamespace := kv.Key{"wallet", kv.HexComponent([]byte{0x02}), kv.HexComponent([]byte{0x00})}

	for _, k := range inNamespace {
		if err := s.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Put(ctx, outOfNamespace, []byte("y")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	count, err := s.CountNamespace(ctx, prefix)
	if err != nil {
		t.Fatalf("CountNamespace: %v", err)
	}
	if count != len(inNamespace) {
		t.Fatalf("CountNamespace = %d, want %d", count, len(inNamespace))
	}

	keys, errs := s.StreamNamespace(ctx, prefix)
	var got []kv.Key
	for k := range keys {
		got = append(got, k)
	}
	if err := <-errs; err != nil {
		t.Fatalf("StreamNamespace: %v", err)
	}
	if len(got) != len(inNamespace) {
		t.Fatalf("got %d keys, want %d", len(got), len(inNamespace))
	}
	for i, want := range inNamespace {
		if got[i].String() != want.String() {
			t.Fatalf("key %d = %s, want %s", i, got[i], want)
		}
	}
}
