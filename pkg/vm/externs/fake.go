package externs

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/minio/blake2b-simd"

	"github.com/tanqiangyes/ref-fvm/pkg/vm/runtime"
)

// FakeExterns is a deterministic Externs for tests. Randomness is a hash of
// the seed and the request, so equal requests always get equal answers.
type FakeExterns struct {
	seed []byte

	lk       sync.Mutex
	fault    *runtime.ConsensusFault
	faultGas int64
	randErr  error
}

var _ Externs = (*FakeExterns)(nil)

// NewFakeExterns builds a FakeExterns from a seed.
func NewFakeExterns(seed []byte) *FakeExterns {
	return &FakeExterns{seed: append([]byte{}, seed...)}
}

// SetConsensusFault makes VerifyConsensusFault report `fault` and charge `gas`.
func (f *FakeExterns) SetConsensusFault(fault *runtime.ConsensusFault, gas int64) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.fault = fault
	f.faultGas = gas
}

// SetRandomnessError makes every randomness request fail with err.
func (f *FakeExterns) SetRandomnessError(err error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	f.randErr = err
}

func (f *FakeExterns) GetChainRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error) {
	return f.draw("chain", pers, round, entropy)
}

func (f *FakeExterns) GetBeaconRandomness(ctx context.Context, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error) {
	return f.draw("beacon", pers, round, entropy)
}

func (f *FakeExterns) draw(kind string, pers crypto.DomainSeparationTag, round abi.ChainEpoch, entropy []byte) ([RandomnessLength]byte, error) {
	f.lk.Lock()
	err := f.randErr
	f.lk.Unlock()
	if err != nil {
		return [RandomnessLength]byte{}, err
	}

	h := blake2b.New256()
	var buf [8]byte
	_, _ = h.Write(f.seed)
	_, _ = h.Write([]byte(kind))
	binary.BigEndian.PutUint64(buf[:], uint64(pers))
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(round))
	_, _ = h.Write(buf[:])
	_, _ = h.Write(entropy)

	var out [RandomnessLength]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (f *FakeExterns) VerifyConsensusFault(ctx context.Context, h1, h2, extra []byte) (*runtime.ConsensusFault, int64, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fault == nil {
		return nil, f.faultGas, nil
	}
	fault := *f.fault
	return &fault, f.faultGas, nil
}
