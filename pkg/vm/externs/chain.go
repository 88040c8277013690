package externs

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	specsruntime "github.com/filecoin-project/specs-actors/v8/actors/runtime"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

// ChainRandomness is the randomness source of a chain node.
type ChainRandomness interface {
	GetChainRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([]byte, error)
	GetBeaconRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([]byte, error)
}

// BlockHeader is the part of a block header consensus fault checks look at.
type BlockHeader struct {
	Cid     cid.Cid
	Miner   address.Address
	Height  abi.ChainEpoch
	Parents []cid.Cid
}

// HeaderDecoder decodes a serialized block header.
type HeaderDecoder func(raw []byte) (*BlockHeader, error)

// SignatureChecker verifies a header was signed by its miner's worker key
// and reports the gas spent looking the key up.
type SignatureChecker interface {
	VerifyBlockSig(ctx context.Context, raw []byte, hdr *BlockHeader) (int64, error)
}

// ChainExterns implements Externs on top of a chain node.
type ChainExterns struct {
	rand   ChainRandomness
	decode HeaderDecoder
	sigs   SignatureChecker
}

var _ Externs = (*ChainExterns)(nil)

// NewChainExterns builds the externs used in production.
func NewChainExterns(rand ChainRandomness, decode HeaderDecoder, sigs SignatureChecker) *ChainExterns {
	return &ChainExterns{rand: rand, decode: decode, sigs: sigs}
}

func (x *ChainExterns) GetChainRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error) {
	res, err := x.rand.GetChainRandomness(ctx, pers, round, entropy)
	if err != nil {
		return [RandomnessLength]byte{}, xerrors.Errorf("chain randomness at %d: %w", round, err)
	}
	return toRandomness(res)
}

func (x *ChainExterns) GetBeaconRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error) {
	res, err := x.rand.GetBeaconRandomness(ctx, pers, round, entropy)
	if err != nil {
		return [RandomnessLength]byte{}, xerrors.Errorf("beacon randomness at %d: %w", round, err)
	}
	return toRandomness(res)
}

func toRandomness(res []byte) ([RandomnessLength]byte, error) {
	var out [RandomnessLength]byte
	if len(res) != RandomnessLength {
		return out, xerrors.Errorf("randomness has length %d, expected %d", len(res), RandomnessLength)
	}
	copy(out[:], res)
	return out, nil
}

// VerifyConsensusFault never errors: invalid proofs are logged and reported
// as no fault.
func (x *ChainExterns) VerifyConsensusFault(ctx context.Context, a, b, extra []byte) (*runtime.ConsensusFault, int64, error) {
	totalGas := int64(0)

	// (0) cheap preliminary checks

	// can blocks be decoded properly?
	blockA, decodeErr := x.decode(a)
	if decodeErr != nil {
		log.Infof("invalid consensus fault: cannot decode first block header: %s", decodeErr)
		return nil, totalGas, nil
	}

	blockB, decodeErr := x.decode(b)
	if decodeErr != nil {
		log.Infof("invalid consensus fault: cannot decode second block header: %s", decodeErr)
		return nil, totalGas, nil
	}

	// are blocks the same?
	if blockA.Cid.Equals(blockB.Cid) {
		log.Info("invalid consensus fault: submitted blocks are the same")
		return nil, totalGas, nil
	}

	// (1) check conditions necessary to any consensus fault

	// were blocks mined by same miner?
	if blockA.Miner != blockB.Miner {
		log.Info("invalid consensus fault: blocks not mined by the same miner")
		return nil, totalGas, nil
	}

	// block a must be earlier or equal to block b, epoch wise (ie at least as early in the chain).
	if blockB.Height < blockA.Height {
		log.Info("invalid consensus fault: first block must not be of higher height than second")
		return nil, totalGas, nil
	}

	var faultType specsruntime.ConsensusFaultType

	// (2) check for the consensus faults themselves
	// (a) double-fork mining fault
	if blockA.Height == blockB.Height {
		faultType = specsruntime.ConsensusFaultDoubleForkMining
	}

	// (b) time-offset mining fault
	// at same height this would be a different fault.
	if cidArrsEqual(blockA.Parents, blockB.Parents) && blockA.Height != blockB.Height {
		faultType = specsruntime.ConsensusFaultTimeOffsetMining
	}

	// (c) parent-grinding fault
	// Here extra is the "witness", a third block that shows the connection between A and B as
	// A's sibling and B's parent.
	// Specifically, since A is of lower height, it must be that B was mined omitting A from its tipset
	//
	//      B
	//      |
	//  [A, C]
	if len(extra) > 0 {
		blockC, decodeErr := x.decode(extra)
		if decodeErr != nil {
			log.Infof("invalid consensus fault: cannot decode extra: %s", decodeErr)
			return nil, totalGas, nil
		}

		if cidArrsEqual(blockA.Parents, blockC.Parents) && blockA.Height == blockC.Height &&
			cidArrsContains(blockB.Parents, blockC.Cid) && !cidArrsContains(blockB.Parents, blockA.Cid) {
			faultType = specsruntime.ConsensusFaultParentGrinding
		}
	}

	// (3) return if no consensus fault by now
	if faultType == 0 {
		log.Info("invalid consensus fault: no fault detected")
		return nil, totalGas, nil
	}

	// (4) expensive final checks

	// check blocks are properly signed by their respective miner
	// note we do not need to check extra's: it is a parent to block b
	// which itself is signed, so it was willingly included by the miner
	gasA, sigErr := x.sigs.VerifyBlockSig(ctx, a, blockA)
	totalGas += gasA
	if sigErr != nil {
		log.Infof("invalid consensus fault: cannot verify first block sig: %s", sigErr)
		return nil, totalGas, nil
	}

	gasB, sigErr := x.sigs.VerifyBlockSig(ctx, b, blockB)
	totalGas += gasB
	if sigErr != nil {
		log.Infof("invalid consensus fault: cannot verify second block sig: %s", sigErr)
		return nil, totalGas, nil
	}

	return &runtime.ConsensusFault{
		Target: blockA.Miner,
		Epoch:  blockB.Height,
		Type:   faultType,
	}, totalGas, nil
}

func cidArrsEqual(a, b []cid.Cid) bool {
	if len(a) != len(b) {
		return false
	}

	// order ignoring compare...
	s := make(map[cid.Cid]bool)
	for _, c := range a {
		s[c] = true
	}

	for _, c := range b {
		if !s[c] {
			return false
		}
	}
	return true
}

func cidArrsContains(a []cid.Cid, b cid.Cid) bool {
	for _, elem := range a {
		if elem.Equals(b) {
			return true
		}
	}
	return false
}
