package blockstore

import (
	"context"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
)

// LogStore traces every block operation at debug level. The machine wraps its
// store with it when running in debug mode.
type LogStore struct {
	logger *logging.ZapEventLogger
	bs     Blockstore
}

var _ Blockstore = (*LogStore)(nil)

// NewLogStore wraps `bs`, logging to the named subsystem.
func NewLogStore(subsystem string, bs Blockstore) *LogStore {
	return &LogStore{
		logger: logging.Logger(subsystem),
		bs:     bs,
	}
}

// DeleteBlock implements blockstore.Blockstore.
func (l *LogStore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	l.log(c, "delete")
	return l.bs.DeleteBlock(ctx, c)
}

// Get implements blockstore.Blockstore.
func (l *LogStore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	l.log(c, "get")
	return l.bs.Get(ctx, c)
}

// GetSize implements blockstore.Blockstore.
func (l *LogStore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	l.log(c, "getsize")
	return l.bs.GetSize(ctx, c)
}

// Has implements blockstore.Blockstore.
func (l *LogStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	l.log(c, "has")
	return l.bs.Has(ctx, c)
}

// HashOnRead implements blockstore.Blockstore.
func (l *LogStore) HashOnRead(enabled bool) {
	l.bs.HashOnRead(enabled)
}

// Put implements blockstore.Blockstore.
func (l *LogStore) Put(ctx context.Context, b blocks.Block) error {
	l.log(b.Cid(), "put")
	return l.bs.Put(ctx, b)
}

// PutMany implements blockstore.Blockstore.
func (l *LogStore) PutMany(ctx context.Context, bs []blocks.Block) error {
	for _, b := range bs {
		l.log(b.Cid(), "put")
	}
	return l.bs.PutMany(ctx, bs)
}

// AllKeysChan implements blockstore.Blockstore.
func (l *LogStore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return l.bs.AllKeysChan(ctx)
}

func (l *LogStore) log(c cid.Cid, op string) {
	l.logger.Debugw("block op", "op", op, "cid", c)
}
