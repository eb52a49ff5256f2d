// Package chainsource implements the "chain event source" collaborator
// of §6: whatever delivers batches of newly-appended commitments to a
// scanning wallet. The real chain-indexing/RPC client is out of scope
// (§1's non-goals); what lives here is the thin seam a wallet depends
// on, backed by a libp2p-pubsub subscriber, grounded on the teacher's
// internal/p2p/node.go gossip-node shape generalized from block/tx
// topics to one topic per chain of commitment batches.
package chainsource

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/multiformats/go-multiaddr"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ccoin/shield/internal/note"
	"github.com/ccoin/shield/pkg/types"
)

// Batch is one delivery of newly-appended leaves, per §6's
// "(tree, startPosition, leaves: Commitment[])".
type Batch struct {
	Tree          types.TreeNumber
	StartPosition types.Position
	Leaves        []note.Commitment
}

// Source is what a scanning wallet depends on: a per-chain stream of
// leaf batches, treated as authoritative and idempotent per
// (tree, position) (§6).
type Source interface {
	Subscribe(ctx context.Context, chainID types.ChainID) (<-chan Batch, error)
}

// batchWire is the gossiped wire form: a msgpack envelope around
// individually note.EncodeCommitment-encoded leaves.
type batchWire struct {
	Tree          uint32   `msgpack:"tree"`
	StartPosition uint32   `msgpack:"startPosition"`
	Leaves        [][]byte `msgpack:"leaves"`
}

func encodeBatch(b Batch) ([]byte, error) {
	w := batchWire{
		Tree:          uint32(b.Tree),
		StartPosition: uint32(b.StartPosition),
	}
	for _, leaf := range b.Leaves {
		enc, err := note.EncodeCommitment(leaf)
		if err != nil {
			return nil, fmt.Errorf("chainsource: encode leaf: %w", err)
		}
		w.Leaves = append(w.Leaves, enc)
	}
	return msgpack.Marshal(&w)
}

func decodeBatch(data []byte) (Batch, error) {
	var w batchWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return Batch{}, fmt.Errorf("chainsource: decode batch: %w", err)
	}

	b := Batch{Tree: types.TreeNumber(w.Tree), StartPosition: types.Position(w.StartPosition)}
	for _, raw := range w.Leaves {
		leaf, err := note.DecodeCommitment(raw)
		if err != nil {
			return Batch{}, fmt.Errorf("chainsource: decode leaf: %w", err)
		}
		b.Leaves = append(b.Leaves, leaf)
	}
	return b, nil
}

// topicName is the gossipsub topic a chain's commitment batches are
// published on.
func topicName(chainID types.ChainID) string {
	return fmt.Sprintf("shield/commitments/%d", chainID)
}

// PubSubNode is a libp2p-pubsub-backed Source: one GossipSub host
// joining one topic per chain it is asked to subscribe to, grounded on
// NewNode/joinTopics/processMessages in the teacher's internal/p2p
// package, narrowed to the seam this library actually needs — no DHT,
// no mDNS, no peer bookkeeping, since discovery and transport topology
// belong to the out-of-scope chain-indexing deployment, not this
// library.
type PubSubNode struct {
	mu sync.Mutex

	host   host.Host
	pubsub *pubsub.PubSub
	topics map[types.ChainID]*pubsub.Topic
}

// NewPubSubNode creates a libp2p host listening on listenAddrs and
// joins GossipSub atop it. An empty listenAddrs adds no listen
// addresses of its own, so libp2p's default listen addresses apply.
func NewPubSubNode(ctx context.Context, listenAddrs []string) (*PubSubNode, error) {
	privKey, _, err := p2pcrypto.GenerateKeyPairWithReader(p2pcrypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("chainsource: generate host key: %w", err)
	}

	addrs := make([]multiaddr.Multiaddr, len(listenAddrs))
	for i, a := range listenAddrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("chainsource: invalid listen address %q: %w", a, err)
		}
		addrs[i] = ma
	}

	h, err := libp2p.New(libp2p.Identity(privKey), libp2p.ListenAddrs(addrs...))
	if err != nil {
		return nil, fmt.Errorf("chainsource: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("chainsource: create gossipsub: %w", err)
	}

	return &PubSubNode{
		host:   h,
		pubsub: ps,
		topics: make(map[types.ChainID]*pubsub.Topic),
	}, nil
}

func (n *PubSubNode) topic(chainID types.ChainID) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.topics[chainID]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topicName(chainID))
	if err != nil {
		return nil, fmt.Errorf("chainsource: join topic: %w", err)
	}
	n.topics[chainID] = t
	return t, nil
}

// Subscribe joins chainID's topic and streams decoded batches until ctx
// is done, at which point the returned channel is closed. A batch that
// fails to decode is dropped silently and never reaches the caller;
// the subscription stays open rather than dying over one bad peer.
func (n *PubSubNode) Subscribe(ctx context.Context, chainID types.ChainID) (<-chan Batch, error) {
	t, err := n.topic(chainID)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("chainsource: subscribe: %w", err)
	}

	out := make(chan Batch)
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return // ctx cancelled or subscription torn down
			}
			if msg.ReceivedFrom == n.host.ID() {
				continue
			}
			batch, err := decodeBatch(msg.Data)
			if err != nil {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Publish gossips a batch on chainID's topic.
func (n *PubSubNode) Publish(ctx context.Context, chainID types.ChainID, batch Batch) error {
	t, err := n.topic(chainID)
	if err != nil {
		return err
	}
	data, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Close shuts down the underlying host.
func (n *PubSubNode) Close() error {
	return n.host.Close()
}

// MemorySource is an in-process stub Source for tests: Publish fans a
// batch out to every active Subscribe channel for that chain
// synchronously, with no networking involved.
type MemorySource struct {
	mu   sync.Mutex
	subs map[types.ChainID][]chan Batch
}

// NewMemorySource returns an empty in-process Source.
func NewMemorySource() *MemorySource {
	return &MemorySource{subs: make(map[types.ChainID][]chan Batch)}
}

// Subscribe registers a channel that Publish will deliver to until ctx
// is done.
func (m *MemorySource) Subscribe(ctx context.Context, chainID types.ChainID) (<-chan Batch, error) {
	ch := make(chan Batch, 16)

	m.mu.Lock()
	m.subs[chainID] = append(m.subs[chainID], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[chainID]
		for i, s := range subs {
			if s == ch {
				m.subs[chainID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Publish delivers batch to every subscriber currently registered for
// chainID.
func (m *MemorySource) Publish(chainID types.ChainID, batch Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[chainID] {
		ch <- batch
	}
}
