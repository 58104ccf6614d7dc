package ob

import (
	"sort"
	"sync"
)

type mapEntry[T any] struct {
	key  uint64
	seq  uint64
	obj  *Object[T]
	next *mapEntry[T]
}

// Map is a hash table from a uint64 key to a counted object reference. The
// map owns exactly one reference per entry: Insert acquires, Remove and
// replacement release. Structural mutations are serialized; lookups and
// iteration run in parallel under the read lock.
type Map[T any] struct {
	mu      sync.RWMutex
	buckets []*mapEntry[T]
	count   int
	seq     uint64
}

func NewMap[T any](capacityHint int) *Map[T] {
	return &Map[T]{buckets: make([]*mapEntry[T], bucketCount(capacityHint))}
}

func (m *Map[T]) bucket(key uint64) int {
	return int(hashKey(key) & uint64(len(m.buckets)-1))
}

// Insert stores obj under key, acquiring a reference on behalf of the map.
// Last write wins: it reports whether an existing entry was replaced, in
// which case the prior value's reference is released after the map lock is
// dropped. A dead handle is rejected with ErrInvalidHandle.
func (m *Map[T]) Insert(key uint64, obj *Object[T]) (bool, error) {
	if obj.Acquire() == nil {
		return false, ErrInvalidHandle
	}
	var prior *Object[T]
	m.mu.Lock()
	i := m.bucket(key)
	for e := m.buckets[i]; e != nil; e = e.next {
		if e.key == key {
			prior = e.obj
			e.obj = obj
			break
		}
	}
	if prior == nil {
		if m.count+1 > len(m.buckets)*loadFactorNum/loadFactorDen {
			m.grow()
			i = m.bucket(key)
		}
		m.seq++
		m.buckets[i] = &mapEntry[T]{key: key, seq: m.seq, obj: obj, next: m.buckets[i]}
		m.count++
	}
	m.mu.Unlock()
	if prior != nil {
		prior.Release()
		return true, nil
	}
	return false, nil
}

// grow doubles the bucket table and rehashes every entry. Reference counts
// are untouched; entries only move between chains. Caller holds the write
// lock.
func (m *Map[T]) grow() {
	old := m.buckets
	m.buckets = make([]*mapEntry[T], len(old)*2)
	for _, e := range old {
		for e != nil {
			next := e.next
			i := m.bucket(e.key)
			e.next = m.buckets[i]
			m.buckets[i] = e
			e = next
		}
	}
}

// Lookup returns a borrowed view of the value under key. The view is valid
// only until the next mutating call on the map.
func (m *Map[T]) Lookup(key uint64) (*T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for e := m.buckets[m.bucket(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.obj.Value(), true
		}
	}
	return nil, false
}

// Acquire returns a newly counted reference to the value under key. The
// caller owns the returned reference and must release it.
func (m *Map[T]) Acquire(key uint64) (*Object[T], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for e := m.buckets[m.bucket(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.obj.Acquire(), true
		}
	}
	return nil, false
}

// Remove deletes the entry under key and releases its reference, reporting
// whether the key was present.
func (m *Map[T]) Remove(key uint64) bool {
	var victim *Object[T]
	m.mu.Lock()
	i := m.bucket(key)
	for p := &m.buckets[i]; *p != nil; p = &(*p).next {
		if (*p).key == key {
			victim = (*p).obj
			*p = (*p).next
			m.count--
			break
		}
	}
	m.mu.Unlock()
	if victim == nil {
		return false
	}
	victim.Release()
	return true
}

func (m *Map[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// snapshot copies the live entries under the read lock. Iteration then runs
// without the lock so callbacks may mutate the map; a pass is consistent
// only when no mutation interleaves.
func (m *Map[T]) snapshot() []*mapEntry[T] {
	m.mu.RLock()
	out := make([]*mapEntry[T], 0, m.count)
	for _, e := range m.buckets {
		for ; e != nil; e = e.next {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
// Values are borrowed views.
func (m *Map[T]) Range(fn func(key uint64, val *T) bool) {
	ents := m.snapshot()
	sort.Slice(ents, func(i, j int) bool { return ents[i].seq < ents[j].seq })
	for _, e := range ents {
		if !fn(e.key, e.obj.Value()) {
			return
		}
	}
}

// RangeByKey is Range in ascending key order.
func (m *Map[T]) RangeByKey(fn func(key uint64, val *T) bool) {
	ents := m.snapshot()
	sort.Slice(ents, func(i, j int) bool { return ents[i].key < ents[j].key })
	for _, e := range ents {
		if !fn(e.key, e.obj.Value()) {
			return
		}
	}
}

// Clear removes every entry and releases every held reference.
func (m *Map[T]) Clear() {
	m.mu.Lock()
	victims := make([]*Object[T], 0, m.count)
	for i, e := range m.buckets {
		for ; e != nil; e = e.next {
			victims = append(victims, e.obj)
		}
		m.buckets[i] = nil
	}
	m.count = 0
	m.mu.Unlock()
	for _, v := range victims {
		v.Release()
	}
}
