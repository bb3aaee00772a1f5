package utils

import "sync"

// RingBuffer is a fixed-size circular buffer holding elements of type T.
// Pushing into a full buffer evicts the oldest element. Elements are kept in
// arrival order, oldest to newest. All methods are safe for concurrent use.
//
// Usage:
//
//	rb := NewRingBuffer[int](3)
//	rb.Push(1)
//	rb.Push(2)
//	rb.Push(3)
//	rb.Push(4) // evicts 1
//	fmt.Println(rb.ToSlice()) // [2 3 4]
type RingBuffer[T any] struct {
	data  []T // backing array
	size  int // capacity (maximum number of elements)
	count int // current number of elements
	head  int // index of the oldest element
	tail  int // index of the next free write position
	mu    sync.RWMutex
}

// NewRingBuffer creates a new ring buffer of the given size.
// The size must be positive, otherwise the call panics.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		panic("ring buffer size must be positive")
	}
	return &RingBuffer[T]{
		data: make([]T, size),
		size: size,
	}
}

// Push appends an element to the end of the buffer. When the buffer is full,
// the oldest element is evicted.
func (rb *RingBuffer[T]) Push(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.tail] = item
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// Len returns the current number of elements. Always within [0, Cap()].
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the buffer capacity: the number of elements it holds without
// eviction.
func (rb *RingBuffer[T]) Cap() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// At returns the element at index i, where i=0 is the oldest element and
// i=Len()-1 the newest. Panics when i is outside [0, Len()).
func (rb *RingBuffer[T]) At(i int) T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.at(i)
}

// at is the lock-free variant used internally while a lock is already held.
func (rb *RingBuffer[T]) at(i int) T {
	if i < 0 || i >= rb.count {
		panic("index out of range")
	}
	return rb.data[(rb.head+i)%rb.size]
}

// ToSlice returns a copy of all elements, oldest to newest. An empty buffer
// yields an empty slice.
func (rb *RingBuffer[T]) ToSlice() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	result := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		result[i] = rb.at(i)
	}
	return result
}
