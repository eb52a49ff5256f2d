// Package zkseam defines the boundary between this wallet core and the
// zk-proof backend that actually produces and verifies spend proofs.
// Generating proofs, re-executing the on-chain verifier, and gas
// estimation are all explicit non-goals (§1) — what lives here is the
// named collaborator interface a caller wires a real prover into,
// carrying over the teacher's CircuitManager proof/verify shape and
// its groth16 key types without any circuit-compilation or proving
// logic of our own.
package zkseam

import (
	"context"
	"errors"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/ccoin/shield/pkg/types"
)

// ErrProverUnavailable is returned by Prover implementations that have
// no backend wired in, e.g. in tests exercising planner/wallet code
// that only needs to observe the seam is called, not produce a real
// proof.
var ErrProverUnavailable = errors.New("zkseam: no proof backend configured")

// ProofType mirrors the teacher's CircuitManager enum; this library
// only ever requests ProofTypeSpend, the others are retained so a host
// application's prover can reuse one ProofType space end to end.
type ProofType uint8

const (
	ProofTypeSpend ProofType = iota
	ProofTypeRangeDisclosure
	ProofTypeIdentityDisclosure
	ProofTypeTemporalDisclosure
)

// SpendWitness is the public/private input shape a spend proof needs:
// the merkle root the spent notes were proven against, the nullifiers
// being revealed, the output commitments being created, and the
// declared fee, per §4.5's spending-solution groups. The actual
// witness assembly (merkle paths, blinders, spending key) is the
// prover's concern, not this library's.
type SpendWitness struct {
	MerkleRoot  types.Hash
	Nullifiers  []types.Hash
	Commitments []types.Hash
	Fee         uint64
}

// ProofData is a generated proof alongside the circuit it targets, the
// same wire shape CircuitManager.GenerateProof returns.
type ProofData struct {
	ProofType    ProofType
	Proof        []byte
	PublicInputs []byte
}

// Prover is the external zk-proof backend a caller supplies. This
// package never implements it with a real circuit: NoopProver below
// exists only so wallet/planner-adjacent code has something to call
// in tests without linking a full groth16 setup.
type Prover interface {
	GenerateProof(ctx context.Context, proofType ProofType, witness SpendWitness) (*ProofData, error)
	VerifyProof(ctx context.Context, proof *ProofData, vk groth16.VerifyingKey) (bool, error)
}

// NoopProver is a Prover that always reports ErrProverUnavailable. It
// lets a caller assemble the full pipeline (plan a spend, hand it to a
// Prover, submit on-chain) and exercise every step up to proof
// generation without depending on an actual circuit backend.
type NoopProver struct{}

func (NoopProver) GenerateProof(ctx context.Context, proofType ProofType, witness SpendWitness) (*ProofData, error) {
	return nil, ErrProverUnavailable
}

func (NoopProver) VerifyProof(ctx context.Context, proof *ProofData, vk groth16.VerifyingKey) (bool, error) {
	return false, ErrProverUnavailable
}
