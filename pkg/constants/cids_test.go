package constants

import (
	"testing"

	"github.com/minio/blake2b-simd"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipfs/go-cid"

	tf "github.com/tanqiangyes/ref-fvm/pkg/testhelpers/testflags"
)

func TestEmptyArrCID(t *testing.T) {
	tf.UnitTest(t)

	assert.Equal(t, uint64(cid.DagCBOR), EmptyArrCID.Prefix().Codec)
	assert.Equal(t, uint64(multihash.BLAKE2B_MIN+31), EmptyArrCID.Prefix().MhType)

	decoded, err := multihash.Decode(EmptyArrCID.Hash())
	require.NoError(t, err)
	sum := blake2b.Sum256([]byte{0x80})
	assert.Equal(t, sum[:], decoded.Digest)

	again, err := DefaultCidBuilder.Sum([]byte{0x80})
	require.NoError(t, err)
	assert.True(t, again.Equals(EmptyArrCID))
	assert.False(t, EmptyArrCID.Equals(EmptyObjectCID))
}
