package kv

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// PebbleRepository is a Repository backed by a pebble on-disk LSM store.
// pebble plays the role RocksDB plays in the original C++ engine; both are
// LSM-tree key/value engines with the same batch-and-iterator shape, which
// is why the Repository/Batch/Cursor contract above maps onto it directly.
type PebbleRepository struct {
	db *pebble.DB
}

// OpenPebble opens (creating if necessary) a pebble database at dir.
// WAL is disabled per the persistence contract: the engine re-derives any
// state lost by an uncommitted batch during recovery rather than syncing
// every write to disk.
func OpenPebble(dir string) (*PebbleRepository, error) {
	opts := &pebble.Options{
		DisableWAL: true,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "kv: open pebble at %q", dir)
	}
	return &PebbleRepository{db: db}, nil
}

func (p *PebbleRepository) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "kv: pebble get")
	}
	defer closer.Close()
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

func (p *PebbleRepository) Put(key, value []byte) error {
	if err := p.db.Set(key, value, pebble.NoSync); err != nil {
		return errors.Wrap(err, "kv: pebble put")
	}
	return nil
}

func (p *PebbleRepository) Remove(key []byte) error {
	if err := p.db.Delete(key, pebble.NoSync); err != nil {
		return errors.Wrap(err, "kv: pebble remove")
	}
	return nil
}

func (p *PebbleRepository) GetMany(keys [][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := p.Get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[string(k)] = v
	}
	return out, nil
}

func (p *PebbleRepository) Clear() error {
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return errors.Wrap(err, "kv: pebble clear iter")
	}
	defer iter.Close()
	batch := p.db.NewBatch()
	defer batch.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(iter.Key(), nil); err != nil {
			return errors.Wrap(err, "kv: pebble clear delete")
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return errors.Wrap(err, "kv: pebble clear commit")
	}
	return nil
}

func (p *PebbleRepository) Close() error {
	return errors.Wrap(p.db.Close(), "kv: pebble close")
}

func (p *PebbleRepository) NewBatch() Batch {
	return &pebbleBatch{db: p.db, batch: p.db.NewBatch()}
}

func (p *PebbleRepository) NewCursor(prefix, start []byte) Cursor {
	lower := start
	if len(lower) == 0 {
		lower = prefix
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return &pebbleCursor{err: err}
	}
	return &pebbleCursor{iter: iter, started: false}
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if prefix is empty (no upper bound).
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil // prefix was all 0xff
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
	n     int
}

func (b *pebbleBatch) Put(key, value []byte) {
	_ = b.batch.Set(key, value, nil)
	b.n++
}

func (b *pebbleBatch) Remove(key []byte) {
	_ = b.batch.Delete(key, nil)
	b.n++
}

func (b *pebbleBatch) Len() int { return b.n }

func (b *pebbleBatch) Commit() error {
	if err := b.batch.Commit(pebble.NoSync); err != nil {
		return errors.Wrap(err, "kv: pebble batch commit")
	}
	b.batch = b.db.NewBatch()
	b.n = 0
	return nil
}

func (b *pebbleBatch) Reset() {
	b.batch.Reset()
	b.n = 0
}

type pebbleCursor struct {
	iter    *pebble.Iterator
	started bool
	err     error
}

func (c *pebbleCursor) Next() bool {
	if c.err != nil || c.iter == nil {
		return false
	}
	if !c.started {
		c.started = true
		return c.iter.First()
	}
	return c.iter.Next()
}

func (c *pebbleCursor) Key() []byte {
	if c.iter == nil {
		return nil
	}
	return c.iter.Key()
}

func (c *pebbleCursor) Value() []byte {
	if c.iter == nil {
		return nil
	}
	v, err := c.iter.ValueAndErr()
	if err != nil {
		return nil
	}
	return v
}

func (c *pebbleCursor) Release() {
	if c.iter != nil {
		_ = c.iter.Close()
	}
}
