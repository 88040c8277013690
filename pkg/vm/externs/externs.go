package externs

import (
	"context"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	logging "github.com/ipfs/go-log/v2"

	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

var log = logging.Logger("externs")

// RandomnessLength is the size of every randomness value.
const RandomnessLength = 32

// Rand draws randomness from the chain the machine executes on.
type Rand interface {
	GetChainRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error)
	GetBeaconRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error)
}

// Consensus verifies consensus fault proofs. The returned gas is charged to
// the caller after the fact, whatever the outcome.
type Consensus interface {
	VerifyConsensusFault(ctx context.Context, h1, h2, extra []byte) (*runtime.ConsensusFault, int64, error)
}

// Externs are the oracles the embedder provides to the machine.
type Externs interface {
	Rand
	Consensus
}
