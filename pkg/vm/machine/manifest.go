package machine

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"

	"github.com/tanqiangyes/ref-fvm/pkg/types"
)

var singletonKeys = []string{
	types.SystemKey,
	types.InitKey,
	types.RewardKey,
	types.CronKey,
	types.PowerKey,
	types.MarketKey,
	types.VerifregKey,
}

// Manifest maps builtin actor names to their code cids.
type Manifest struct {
	byName map[string]cid.Cid
	byCode map[cid.Cid]string
}

// NewManifest builds a manifest from its entries, reporting every invalid
// entry at once.
func NewManifest(data *types.ManifestData) (*Manifest, error) {
	mf := &Manifest{
		byName: make(map[string]cid.Cid, len(data.Entries)),
		byCode: make(map[cid.Cid]string, len(data.Entries)),
	}

	var result error
	for _, e := range data.Entries {
		if e.Name == "" {
			result = multierror.Append(result, xerrors.Errorf("entry with code %s has no name", e.Code))
			continue
		}
		if !e.Code.Defined() {
			result = multierror.Append(result, xerrors.Errorf("entry %s has no code", e.Name))
			continue
		}
		if _, ok := mf.byName[e.Name]; ok {
			result = multierror.Append(result, xerrors.Errorf("duplicate entry %s", e.Name))
			continue
		}
		if other, ok := mf.byCode[e.Code]; ok {
			result = multierror.Append(result, xerrors.Errorf("entries %s and %s share code %s", other, e.Name, e.Code))
			continue
		}
		mf.byName[e.Name] = e.Code
		mf.byCode[e.Code] = e.Name
	}
	if result != nil {
		return nil, result
	}
	return mf, nil
}

// LoadManifest reads the manifest object at `root` and its entry table.
func LoadManifest(ctx context.Context, store cbor.IpldStore, root cid.Cid) (*Manifest, error) {
	var mf types.Manifest
	if err := store.Get(ctx, root, &mf); err != nil {
		return nil, xerrors.Errorf("loading manifest %s: %w", root, err)
	}
	if mf.Version != types.ManifestVersion {
		return nil, xerrors.Errorf("unsupported manifest version %d", mf.Version)
	}

	var data types.ManifestData
	if err := store.Get(ctx, mf.Data, &data); err != nil {
		return nil, xerrors.Errorf("loading manifest data %s: %w", mf.Data, err)
	}
	return NewManifest(&data)
}

// Get returns the code of the named builtin actor.
func (mf *Manifest) Get(name string) (cid.Cid, bool) {
	c, ok := mf.byName[name]
	return c, ok
}

// Name returns the builtin actor name of `code`.
func (mf *Manifest) Name(code cid.Cid) (string, bool) {
	name, ok := mf.byCode[code]
	return name, ok
}

// Len is the number of entries.
func (mf *Manifest) Len() int {
	return len(mf.byName)
}

func (mf *Manifest) IsAccountActor(code cid.Cid) bool {
	c, ok := mf.byName[types.AccountKey]
	return ok && c == code
}

func (mf *Manifest) IsBuiltinActor(code cid.Cid) bool {
	_, ok := mf.byCode[code]
	return ok
}

func (mf *Manifest) IsSingletonActor(code cid.Cid) bool {
	name, ok := mf.byCode[code]
	if !ok {
		return false
	}
	for _, k := range singletonKeys {
		if k == name {
			return true
		}
	}
	return false
}
