package ob

import (
	"sort"
	"sync"
)

type setEntry struct {
	key  uint64
	seq  uint64
	next *setEntry
}

// Set is a hash set of uint64 keys. Same buckets, hashing and growth as Map,
// no value payload and so no lifetime management.
type Set struct {
	mu      sync.RWMutex
	buckets []*setEntry
	count   int
	seq     uint64
}

func NewSet(capacityHint int) *Set {
	return &Set{buckets: make([]*setEntry, bucketCount(capacityHint))}
}

func (s *Set) bucket(key uint64) int {
	return int(hashKey(key) & uint64(len(s.buckets)-1))
}

// Insert adds key, reporting whether it was newly added.
func (s *Set) Insert(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.bucket(key)
	for e := s.buckets[i]; e != nil; e = e.next {
		if e.key == key {
			return false
		}
	}
	if s.count+1 > len(s.buckets)*loadFactorNum/loadFactorDen {
		s.grow()
		i = s.bucket(key)
	}
	s.seq++
	s.buckets[i] = &setEntry{key: key, seq: s.seq, next: s.buckets[i]}
	s.count++
	return true
}

func (s *Set) grow() {
	old := s.buckets
	s.buckets = make([]*setEntry, len(old)*2)
	for _, e := range old {
		for e != nil {
			next := e.next
			i := s.bucket(e.key)
			e.next = s.buckets[i]
			s.buckets[i] = e
			e = next
		}
	}
}

func (s *Set) Contains(key uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for e := s.buckets[s.bucket(key)]; e != nil; e = e.next {
		if e.key == key {
			return true
		}
	}
	return false
}

func (s *Set) Remove(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := &s.buckets[s.bucket(key)]; *p != nil; p = &(*p).next {
		if (*p).key == key {
			*p = (*p).next
			s.count--
			return true
		}
	}
	return false
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *Set) snapshot() []*setEntry {
	s.mu.RLock()
	out := make([]*setEntry, 0, s.count)
	for _, e := range s.buckets {
		for ; e != nil; e = e.next {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	return out
}

// Range calls fn for each key in insertion order until fn returns false.
func (s *Set) Range(fn func(key uint64) bool) {
	ents := s.snapshot()
	sort.Slice(ents, func(i, j int) bool { return ents[i].seq < ents[j].seq })
	for _, e := range ents {
		if !fn(e.key) {
			return
		}
	}
}

// RangeByKey is Range in ascending key order.
func (s *Set) RangeByKey(fn func(key uint64) bool) {
	ents := s.snapshot()
	sort.Slice(ents, func(i, j int) bool { return ents[i].key < ents[j].key })
	for _, e := range ents {
		if !fn(e.key) {
			return
		}
	}
}

func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buckets {
		s.buckets[i] = nil
	}
	s.count = 0
}
