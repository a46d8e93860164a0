package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository. It is safe for concurrent
// use and is the default for tests and for embedders that do not need
// durability across restarts.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string][]byte)}
}

func (m *MemoryRepository) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

func (m *MemoryRepository) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemoryRepository) Remove(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryRepository) GetMany(keys [][]byte) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[string(k)]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
		}
	}
	return out, nil
}

func (m *MemoryRepository) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) NewBatch() Batch {
	return &memoryBatch{db: m}
}

func (m *MemoryRepository) NewCursor(prefix, start []byte) Cursor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		kb := []byte(k)
		if len(prefix) > 0 && !bytes.HasPrefix(kb, prefix) {
			continue
		}
		if len(start) > 0 && bytes.Compare(kb, start) < 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]kvItem, len(keys))
	for i, k := range keys {
		v := m.data[k]
		val := make([]byte, len(v))
		copy(val, v)
		items[i] = kvItem{key: []byte(k), value: val}
	}
	return &memoryCursor{items: items, pos: -1}
}

type kvItem struct {
	key   []byte
	value []byte
}

type memoryCursor struct {
	items []kvItem
	pos   int
}

func (c *memoryCursor) Next() bool {
	c.pos++
	return c.pos < len(c.items)
}

func (c *memoryCursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos].key
}

func (c *memoryCursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos].value
}

func (c *memoryCursor) Release() {}

type memoryOp struct {
	key    []byte
	value  []byte
	remove bool
}

// memoryBatch buffers operations and applies them under a single lock
// acquisition so concurrent readers never observe a partial batch.
type memoryBatch struct {
	db  *MemoryRepository
	ops []memoryOp
}

func (b *memoryBatch) Put(key, value []byte) {
	keyCp := append([]byte(nil), key...)
	valCp := append([]byte(nil), value...)
	b.ops = append(b.ops, memoryOp{key: keyCp, value: valCp})
}

func (b *memoryBatch) Remove(key []byte) {
	b.ops = append(b.ops, memoryOp{key: append([]byte(nil), key...), remove: true})
}

func (b *memoryBatch) Len() int { return len(b.ops) }

func (b *memoryBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.remove {
			delete(b.db.data, string(op.key))
		} else {
			b.db.data[string(op.key)] = op.value
		}
	}
	b.ops = b.ops[:0]
	return nil
}

func (b *memoryBatch) Reset() { b.ops = b.ops[:0] }
