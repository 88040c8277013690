package types

import "github.com/ipfs/go-cid"

// StateTreeVersion is the version of the state tree's root object.
type StateTreeVersion uint64

const (
	// StateTreeVersion0 roots are the bare actors HAMT.
	StateTreeVersion0 StateTreeVersion = iota
	StateTreeVersion1
	StateTreeVersion2
	StateTreeVersion3
	StateTreeVersion4
)

// StateRoot is the root object of state trees from version 1 onwards.
type StateRoot struct {
	// Version of the state tree.
	Version StateTreeVersion
	// Actors is the actors HAMT.
	Actors cid.Cid
	// Info is an empty array, reserved for future state tree metadata.
	Info cid.Cid
}
