package blockstore

import (
	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	bstore "github.com/ipfs/go-ipfs-blockstore"
	cbor "github.com/ipfs/go-ipld-cbor"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("blockstore")

// Blockstore is the content addressed store the machine reads from and writes to.
type Blockstore = bstore.Blockstore

// ErrNotFound is returned when a block is missing from every layer.
var ErrNotFound = bstore.ErrNotFound

// NewMemory returns a thread safe in-memory blockstore.
func NewMemory() Blockstore {
	return bstore.NewBlockstore(dssync.MutexWrap(ds.NewMapDatastore()))
}

// NewIpldStore wraps a blockstore with the cbor object store.
func NewIpldStore(bs Blockstore) cbor.IpldStore {
	return cbor.NewCborStore(bs)
}
