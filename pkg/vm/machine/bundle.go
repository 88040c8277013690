package machine

import (
	"context"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-car"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/blockstore"
)

// LoadBundle imports a builtin actor bundle in CAR format into `bs` and
// returns its manifest cid, the bundle's only root.
func LoadBundle(ctx context.Context, bs blockstore.Blockstore, r io.Reader) (cid.Cid, error) {
	hdr, err := car.LoadCar(ctx, bs, r)
	if err != nil {
		return cid.Undef, xerrors.Errorf("error loading builtin actors bundle: %w", err)
	}
	if len(hdr.Roots) != 1 {
		return cid.Undef, xerrors.Errorf("expected one root in actors bundle, got %d", len(hdr.Roots))
	}

	manifestCid := hdr.Roots[0]
	if _, err := LoadManifest(ctx, blockstore.NewIpldStore(bs), manifestCid); err != nil {
		return cid.Undef, xerrors.Errorf("invalid manifest in actors bundle: %w", err)
	}
	return manifestCid, nil
}
