package testhelpers

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/minio/blake2b-simd"
)

func RequireIDAddress(t *testing.T, i int) address.Address {
	a, err := address.NewIDAddress(uint64(i))
	if err != nil {
		t.Fatalf("failed to make address: %v", err)
	}
	return a
}

// RequireSecpAddress returns a secp256k1 address derived from seed.
func RequireSecpAddress(t *testing.T, seed string) address.Address {
	a, err := address.NewSecp256k1Address([]byte(seed))
	if err != nil {
		t.Fatalf("failed to make address: %v", err)
	}
	return a
}

// RequireBLSAddress returns a bls address whose key is derived from seed.
func RequireBLSAddress(t *testing.T, seed string) address.Address {
	sum := blake2b.Sum512([]byte(seed))
	a, err := address.NewBLSAddress(sum[:address.BlsPublicKeyBytes])
	if err != nil {
		t.Fatalf("failed to make address: %v", err)
	}
	return a
}
