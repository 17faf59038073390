package messaging

import (
	"sync/atomic"

	"github.com/vortexdb/vortex/errwrap"
)

// Foreign carries a value owned by another core. Sending one transfers
// ownership: only the inner value travels on the wire and the receiver
// rebuilds the wrapper on its own core.
type Foreign[T any] struct {
	value     T
	ownerCore int
}

func MakeForeign[T any](ownerCore int, value T) Foreign[T] {
	return Foreign[T]{value: value, ownerCore: ownerCore}
}

func (f Foreign[T]) Get() T {
	return f.value
}

func (f Foreign[T]) OwnerCore() int {
	return f.ownerCore
}

// NewForeignCodec adapts the codec of T to Foreign[T]. The wrapper is
// invisible on the wire: encoding unwraps, decoding re-wraps on localCore.
func NewForeignCodec[T any](inner Codec, localCore int) Codec {
	return &foreignCodec[T]{inner: inner, localCore: localCore}
}

type foreignCodec[T any] struct {
	inner     Codec
	localCore int
}

func (c *foreignCodec[T]) Encode(value interface{}, buff []byte) ([]byte, error) {
	f, ok := value.(Foreign[T])
	if !ok {
		return nil, errwrap.Errorf("expected Foreign value, got %T", value)
	}
	return c.inner.Encode(f.Get(), buff)
}

func (c *foreignCodec[T]) Decode(buff []byte) (interface{}, error) {
	v, err := c.inner.Decode(buff)
	if err != nil {
		return nil, err
	}
	tv, ok := v.(T)
	if !ok {
		return nil, errwrap.Errorf("inner codec produced %T", v)
	}
	return MakeForeign(c.localCore, tv), nil
}

// Shared is a reference-counted shared value. The count only tracks sharing
// intent for diagnostics - reclamation is the garbage collector's job.
type Shared[T any] struct {
	box *sharedBox[T]
}

type sharedBox[T any] struct {
	value T
	refs  int32
}

func NewShared[T any](value T) Shared[T] {
	return Shared[T]{box: &sharedBox[T]{value: value, refs: 1}}
}

func (s Shared[T]) Get() T {
	return s.box.value
}

func (s Shared[T]) Share() Shared[T] {
	atomic.AddInt32(&s.box.refs, 1)
	return s
}

func (s Shared[T]) Release() {
	atomic.AddInt32(&s.box.refs, -1)
}

func (s Shared[T]) Refs() int32 {
	return atomic.LoadInt32(&s.box.refs)
}

// NewSharedCodec adapts the codec of T to Shared[T]; like NewForeignCodec the
// wrapper does not appear on the wire.
func NewSharedCodec[T any](inner Codec) Codec {
	return &sharedCodec[T]{inner: inner}
}

type sharedCodec[T any] struct {
	inner Codec
}

func (c *sharedCodec[T]) Encode(value interface{}, buff []byte) ([]byte, error) {
	s, ok := value.(Shared[T])
	if !ok {
		return nil, errwrap.Errorf("expected Shared value, got %T", value)
	}
	return c.inner.Encode(s.Get(), buff)
}

func (c *sharedCodec[T]) Decode(buff []byte) (interface{}, error) {
	v, err := c.inner.Decode(buff)
	if err != nil {
		return nil, err
	}
	tv, ok := v.(T)
	if !ok {
		return nil, errwrap.Errorf("inner codec produced %T", v)
	}
	return NewShared(tv), nil
}
