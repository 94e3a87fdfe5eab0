package ringbuffer

import (
	"context"

	"github.com/xaionaro-go/xsync"
)

// RingBuffer is a bounded FIFO; when it is full the oldest items are
// overwritten by new ones.
type RingBuffer[T any] struct {
	Storage   []T
	ReadIndex uint
	Length    uint
	Locker    xsync.Mutex
}

func New[T any](size uint) *RingBuffer[T] {
	if size == 0 {
		size = 1
	}
	return &RingBuffer[T]{
		Storage: make([]T, size),
	}
}

func (r *RingBuffer[T]) Cap() uint {
	return uint(len(r.Storage))
}

// Write appends the items and returns how many old items got overwritten.
func (r *RingBuffer[T]) Write(ctx context.Context, items ...T) uint {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() uint {
		return r.writeLocked(items)
	})
}

func (r *RingBuffer[T]) writeLocked(items []T) uint {
	var overwritten uint
	size := uint(len(r.Storage))
	for _, item := range items {
		writeIndex := (r.ReadIndex + r.Length) % size
		r.Storage[writeIndex] = item
		if r.Length < size {
			r.Length++
			continue
		}
		r.ReadIndex = (r.ReadIndex + 1) % size
		overwritten++
	}
	return overwritten
}

func (r *RingBuffer[T]) Len(ctx context.Context) uint {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() uint {
		return r.Length
	})
}

func (r *RingBuffer[T]) IsEmpty(ctx context.Context) bool {
	return r.Len(ctx) == 0
}

// Peek returns a copy of the oldest n items, or nil if fewer than n are
// buffered.
func (r *RingBuffer[T]) Peek(ctx context.Context, n uint) []T {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() []T {
		return r.peekLocked(n)
	})
}

func (r *RingBuffer[T]) peekLocked(n uint) []T {
	if n > r.Length {
		return nil
	}
	size := uint(len(r.Storage))
	result := make([]T, n)
	for i := uint(0); i < n; i++ {
		result[i] = r.Storage[(r.ReadIndex+i)%size]
	}
	return result
}

// Discard drops up to n oldest items and returns how many were dropped.
func (r *RingBuffer[T]) Discard(ctx context.Context, n uint) uint {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() uint {
		return r.discardLocked(n)
	})
}

func (r *RingBuffer[T]) discardLocked(n uint) uint {
	if n > r.Length {
		n = r.Length
	}
	size := uint(len(r.Storage))
	var zeroValue T
	for i := uint(0); i < n; i++ {
		r.Storage[(r.ReadIndex+i)%size] = zeroValue
	}
	r.ReadIndex = (r.ReadIndex + n) % size
	r.Length -= n
	return n
}

// PeekAndDiscard returns a copy of the oldest n items and then drops the
// oldest advance items, atomically. It returns nil (and drops nothing)
// if fewer than n items are buffered.
func (r *RingBuffer[T]) PeekAndDiscard(ctx context.Context, n, advance uint) []T {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() []T {
		result := r.peekLocked(n)
		if result == nil {
			return nil
		}
		r.discardLocked(advance)
		return result
	})
}

// DeleteLast drops up to n newest items and returns how many were dropped.
func (r *RingBuffer[T]) DeleteLast(ctx context.Context, n uint) uint {
	return xsync.DoR1(xsync.WithNoLogging(ctx, true), &r.Locker, func() uint {
		if n > r.Length {
			n = r.Length
		}
		size := uint(len(r.Storage))
		var zeroValue T
		for i := uint(0); i < n; i++ {
			r.Storage[(r.ReadIndex+r.Length-1-i)%size] = zeroValue
		}
		r.Length -= n
		return n
	})
}

func (r *RingBuffer[T]) Clear(ctx context.Context) {
	r.Locker.Do(xsync.WithNoLogging(ctx, true), func() {
		clear(r.Storage)
		r.ReadIndex = 0
		r.Length = 0
	})
}
