package kv

// ColumnFamily namespaces a Repository by prepending a fixed prefix to every
// key, so several logical stores (BTC blocks, VBK blocks, ALT blocks,
// payload index, ...) can share one physical Repository without collisions.
type ColumnFamily struct {
	db     Repository
	prefix []byte
}

// NewColumnFamily returns a ColumnFamily over db scoped to name.
func NewColumnFamily(db Repository, name string) *ColumnFamily {
	return &ColumnFamily{db: db, prefix: []byte(name)}
}

func (c *ColumnFamily) prefixed(key []byte) []byte {
	out := make([]byte, len(c.prefix)+len(key))
	copy(out, c.prefix)
	copy(out[len(c.prefix):], key)
	return out
}

func (c *ColumnFamily) Get(key []byte) ([]byte, error) { return c.db.Get(c.prefixed(key)) }
func (c *ColumnFamily) Put(key, value []byte) error    { return c.db.Put(c.prefixed(key), value) }
func (c *ColumnFamily) Remove(key []byte) error        { return c.db.Remove(c.prefixed(key)) }

func (c *ColumnFamily) GetMany(keys [][]byte) (map[string][]byte, error) {
	prefixed := make([][]byte, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefixed(k)
	}
	raw, err := c.db.GetMany(prefixed)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k[len(c.prefix):]] = v
	}
	return out, nil
}

// Clear removes every key under this column family's prefix by scanning
// and deleting through a batch; Repository.Clear would wipe every family.
func (c *ColumnFamily) Clear() error {
	cur := c.NewCursor(nil, nil)
	defer cur.Release()
	batch := c.db.NewBatch()
	for cur.Next() {
		batch.Remove(c.prefixed(cur.Key()))
	}
	return batch.Commit()
}

func (c *ColumnFamily) Close() error { return nil }

func (c *ColumnFamily) NewBatch() Batch {
	return &columnFamilyBatch{inner: c.db.NewBatch(), prefix: c.prefix}
}

func (c *ColumnFamily) NewCursor(prefix, start []byte) Cursor {
	full := c.prefixed(prefix)
	var fullStart []byte
	if len(start) > 0 {
		fullStart = c.prefixed(start)
	}
	return &columnFamilyCursor{inner: c.db.NewCursor(full, fullStart), prefixLen: len(c.prefix)}
}

type columnFamilyBatch struct {
	inner  Batch
	prefix []byte
}

func (b *columnFamilyBatch) prefixed(key []byte) []byte {
	out := make([]byte, len(b.prefix)+len(key))
	copy(out, b.prefix)
	copy(out[len(b.prefix):], key)
	return out
}

func (b *columnFamilyBatch) Put(key, value []byte) { b.inner.Put(b.prefixed(key), value) }
func (b *columnFamilyBatch) Remove(key []byte)     { b.inner.Remove(b.prefixed(key)) }
func (b *columnFamilyBatch) Len() int              { return b.inner.Len() }
func (b *columnFamilyBatch) Commit() error         { return b.inner.Commit() }
func (b *columnFamilyBatch) Reset()                { b.inner.Reset() }

type columnFamilyCursor struct {
	inner     Cursor
	prefixLen int
}

func (c *columnFamilyCursor) Next() bool  { return c.inner.Next() }
func (c *columnFamilyCursor) Release()    { c.inner.Release() }
func (c *columnFamilyCursor) Value() []byte { return c.inner.Value() }

func (c *columnFamilyCursor) Key() []byte {
	k := c.inner.Key()
	if len(k) < c.prefixLen {
		return k
	}
	return k[c.prefixLen:]
}
