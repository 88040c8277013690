package constants

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// DefaultCidBuilder is the cid builder used for every object the machine writes.
var DefaultCidBuilder = cid.V1Builder{Codec: cid.DagCBOR, MhType: multihash.BLAKE2B_MIN + 31}

// EmptyArrCID is the cid of the DAG-CBOR encoded empty array.
var EmptyArrCID cid.Cid

// EmptyObjectCID is the cid of the DAG-CBOR encoded empty map.
var EmptyObjectCID cid.Cid

func init() {
	EmptyArrCID = mustSum([]byte{0x80})
	EmptyObjectCID = mustSum([]byte{0xa0})
}

func mustSum(data []byte) cid.Cid {
	c, err := DefaultCidBuilder.Sum(data)
	if err != nil {
		panic(err)
	}
	return c
}
