package blockstore

import (
	"bytes"
	"context"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"
	"go.opencensus.io/trace"
	"golang.org/x/xerrors"
)

// Buffered holds writes in memory until Flush copies the blocks reachable
// from a root into the base store. Reads fall through to the base store.
type Buffered struct {
	read  Blockstore
	write Blockstore
}

var _ Blockstore = (*Buffered)(nil)

// NewBuffered puts a write buffer in front of `base`.
func NewBuffered(base Blockstore) *Buffered {
	return &Buffered{
		read:  base,
		write: NewMemory(),
	}
}

// Base returns the store writes are flushed into.
func (bs *Buffered) Base() Blockstore {
	return bs.read
}

// Flush copies every block reachable from `root` out of the write buffer
// into the base store.
func (bs *Buffered) Flush(ctx context.Context, root cid.Cid) error {
	ctx, span := trace.StartSpan(ctx, "blockstore.Flush")
	defer span.End()

	n, err := Copy(ctx, bs.write, bs.read, root)
	if err != nil {
		return xerrors.Errorf("copying reachable blocks of %s: %w", root, err)
	}
	span.AddAttributes(trace.Int64Attribute("blocks", int64(n)))
	log.Debugw("flushed write buffer", "root", root, "blocks", n)
	return nil
}

func (bs *Buffered) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return xerrors.Errorf("buffered blockstore is append only")
}

func (bs *Buffered) Has(ctx context.Context, c cid.Cid) (bool, error) {
	has, err := bs.write.Has(ctx, c)
	if err != nil || has {
		return has, err
	}
	return bs.read.Has(ctx, c)
}

func (bs *Buffered) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	blk, err := bs.write.Get(ctx, c)
	if err == nil {
		return blk, nil
	}
	if !xerrors.Is(err, ErrNotFound) {
		return nil, err
	}
	return bs.read.Get(ctx, c)
}

func (bs *Buffered) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	size, err := bs.write.GetSize(ctx, c)
	if err == nil {
		return size, nil
	}
	if !xerrors.Is(err, ErrNotFound) {
		return 0, err
	}
	return bs.read.GetSize(ctx, c)
}

func (bs *Buffered) Put(ctx context.Context, blk blocks.Block) error {
	return bs.write.Put(ctx, blk)
}

func (bs *Buffered) PutMany(ctx context.Context, blks []blocks.Block) error {
	return bs.write.PutMany(ctx, blks)
}

func (bs *Buffered) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return bs.write.AllKeysChan(ctx)
}

func (bs *Buffered) HashOnRead(enabled bool) {
	bs.read.HashOnRead(enabled)
	bs.write.HashOnRead(enabled)
}

// Copy walks the DAG under `root` in `from` and writes every block `to` does
// not already have. It returns the number of blocks written.
func Copy(ctx context.Context, from, to Blockstore, root cid.Cid) (int, error) {
	seen := cid.NewSet()
	var batch []blocks.Block
	if err := copyRec(ctx, from, to, root, seen, &batch); err != nil {
		return 0, err
	}
	if err := to.PutMany(ctx, batch); err != nil {
		return 0, xerrors.Errorf("batch put in copy: %w", err)
	}
	return len(batch), nil
}

func copyRec(ctx context.Context, from, to Blockstore, c cid.Cid, seen *cid.Set, batch *[]blocks.Block) error {
	if c.Prefix().MhType == mh.IDENTITY || !seen.Visit(c) {
		return nil
	}

	blk, err := from.Get(ctx, c)
	if xerrors.Is(err, ErrNotFound) {
		// only blocks written through the buffer need copying
		return nil
	}
	if err != nil {
		return xerrors.Errorf("get %s failed: %w", c, err)
	}

	var linkErr error
	if err := linksForObj(blk, func(link cid.Cid) {
		if linkErr != nil {
			return
		}
		if has, err := to.Has(ctx, link); err != nil {
			linkErr = err
			return
		} else if has {
			return
		}
		linkErr = copyRec(ctx, from, to, link, seen, batch)
	}); err != nil {
		return xerrors.Errorf("scanning links of %s: %w", c, err)
	}
	if linkErr != nil {
		return linkErr
	}

	*batch = append(*batch, blk)
	return nil
}

func linksForObj(blk blocks.Block, cb func(cid.Cid)) error {
	switch blk.Cid().Prefix().Codec {
	case cid.DagCBOR:
		return cbg.ScanForLinks(bytes.NewReader(blk.RawData()), cb)
	case cid.Raw:
		return nil
	default:
		return xerrors.Errorf("vm flush copy method only supports dag cbor")
	}
}
