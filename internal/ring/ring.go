// Package ring is a fixed-capacity FIFO buffer. Pushing into a full buffer
// overwrites the oldest element.
//
// Buffer is not safe for concurrent use; owners guard it with their own lock.
package ring

type Buffer[T any] struct {
	items []T
	start int // index of the oldest element
	n     int
}

// New returns a buffer holding at most capacity elements. capacity < 1 is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
// Returns true if an element was evicted.
func (b *Buffer[T]) Push(v T) bool {
	if b.n < len(b.items) {
		b.items[(b.start+b.n)%len(b.items)] = v
		b.n++
		return false
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
	return true
}

func (b *Buffer[T]) Len() int { return b.n }
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Snapshot copies the contents, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Each calls fn oldest first until fn returns false.
func (b *Buffer[T]) Each(fn func(T) bool) {
	for i := 0; i < b.n; i++ {
		if !fn(b.items[(b.start+i)%len(b.items)]) {
			return
		}
	}
}

// Reset drops all elements and releases references held by the backing array.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start, b.n = 0, 0
}
