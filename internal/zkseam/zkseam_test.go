package zkseam

import (
	"context"
	"errors"
	"testing"
)

func TestNoopProverReportsUnavailable(t *testing.T) {
	var p Prover = NoopProver{}
	ctx := context.Background()

	witness := SpendWitness{Fee: 10}
	if _, err := p.GenerateProof(ctx, ProofTypeSpend, witness); !errors.Is(err, ErrProverUnavailable) {
		t.Fatalf("GenerateProof error = %v, want ErrProverUnavailable", err)
	}

	ok, err := p.VerifyProof(ctx, &ProofData{ProofType: ProofTypeSpend}, nil)
	if ok {
		t.Fatal("VerifyProof should never report success with no backend configured")
	}
	if !errors.Is(err, ErrProverUnavailable) {
		t.Fatalf("VerifyProof error = %v, want ErrProverUnavailable", err)
	}
}
