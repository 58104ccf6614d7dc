package ob

import (
	"errors"
	"sync/atomic"

	"vmmfs/config"
)

var (
	ErrOutOfMemory   = errors.New("ob: object memory limit exceeded")
	ErrInvalidHandle = errors.New("ob: invalid object handle")
)

// Tag identifies the payload shape of an object. Containers and hosts use it
// to reject foreign or stale handles before touching the payload.
type Tag uint8

const (
	TagNone Tag = iota
	TagProcess
	TagModule
	TagTable
	TagHandle
	TagBlob
)

const objMagic uint32 = 0x0b5ea1ed

var (
	liveObjects atomic.Int64
	liveBytes   atomic.Int64
)

// Object is a reference-counted unit of heap ownership. It starts with one
// reference, owned by the caller of Alloc. When the count reaches zero the
// destructor runs exactly once and the object is dead; a dead handle fails
// Valid and cannot be re-acquired.
type Object[T any] struct {
	magic atomic.Uint32
	refs  atomic.Int64
	tag   Tag
	size  int64
	dtor  func(*T)
	val   T
}

// Alloc returns a new object with reference count 1 and a zero-valued
// payload, charging size bytes against config.ObjectMemoryLimit. A limit of
// zero or below disables the budget.
func Alloc[T any](tag Tag, size int, dtor func(*T)) (*Object[T], error) {
	if size < 0 {
		size = 0
	}
	if limit := config.ObjectMemoryLimit; limit > 0 && liveBytes.Add(int64(size)) > limit {
		liveBytes.Add(-int64(size))
		return nil, ErrOutOfMemory
	} else if limit <= 0 {
		liveBytes.Add(int64(size))
	}
	o := &Object[T]{tag: tag, size: int64(size), dtor: dtor}
	o.refs.Store(1)
	o.magic.Store(objMagic)
	liveObjects.Add(1)
	return o, nil
}

// New is Alloc with the payload set.
func New[T any](tag Tag, size int, val T, dtor func(*T)) (*Object[T], error) {
	o, err := Alloc[T](tag, size, dtor)
	if err != nil {
		return nil, err
	}
	o.val = val
	return o, nil
}

// Acquire increments the reference count and returns o. A dead handle (count
// already zero) is not resurrected; Acquire returns nil instead.
func (o *Object[T]) Acquire() *Object[T] {
	if o == nil {
		return nil
	}
	for {
		n := o.refs.Load()
		if n <= 0 {
			return nil
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return o
		}
	}
}

// Release decrements the reference count. The caller releasing the last
// reference clears the liveness marker and finishes all accounting before
// the destructor runs, so a destructor releasing other objects re-enters a
// consistent core and no lock is held across the callback. Returns whether
// this call destroyed the object.
func (o *Object[T]) Release() bool {
	if o == nil {
		return false
	}
	n := o.refs.Add(-1)
	if n > 0 {
		return false
	}
	if n < 0 {
		// over-release by the host; absorb rather than underflow
		o.refs.Add(1)
		return false
	}
	o.magic.Store(0)
	liveObjects.Add(-1)
	liveBytes.Add(-o.size)
	if o.dtor != nil {
		o.dtor(&o.val)
	}
	return true
}

// Valid reports whether o is a live handle of the expected tag.
func (o *Object[T]) Valid(tag Tag) bool {
	return o != nil && o.magic.Load() == objMagic && o.tag == tag && o.refs.Load() > 0
}

// Validate is Valid as an error for callers that propagate.
func Validate[T any](o *Object[T], tag Tag) error {
	if !o.Valid(tag) {
		return ErrInvalidHandle
	}
	return nil
}

func (o *Object[T]) alive() bool {
	return o != nil && o.magic.Load() == objMagic && o.refs.Load() > 0
}

// Value returns the payload. The pointer is owned by the object: it must not
// be used after the caller's reference is released.
func (o *Object[T]) Value() *T {
	return &o.val
}

func (o *Object[T]) Tag() Tag {
	return o.tag
}

// Refs returns the current reference count. Diagnostic only; the value may
// be stale by the time the caller sees it.
func (o *Object[T]) Refs() int64 {
	return o.refs.Load()
}

// LiveObjects returns the number of objects not yet destroyed.
func LiveObjects() int64 {
	return liveObjects.Load()
}

// LiveBytes returns the accounted payload bytes of live objects.
func LiveBytes() int64 {
	return liveBytes.Load()
}
