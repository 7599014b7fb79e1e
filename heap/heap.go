// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package heap implements a generic binary heap
// and a bounded variant that retains the k least
// items pushed into it.
package heap

// Heap is a binary min-heap ordered by less.
type Heap[T any] struct {
	items []T
	less  func(x, y T) bool
}

// New returns an empty heap ordered by less.
func New[T any](less func(x, y T) bool) *Heap[T] {
	return &Heap[T]{less: less}
}

// Len returns the number of items in the heap.
func (h *Heap[T]) Len() int { return len(h.items) }

// Peek returns the least item without removing it.
// Peek panics if the heap is empty.
func (h *Heap[T]) Peek() T { return h.items[0] }

// Push adds x to the heap.
func (h *Heap[T]) Push(x T) {
	h.items = append(h.items, x)
	h.up(len(h.items) - 1)
}

// Pop removes and returns the least item.
// Pop panics if the heap is empty.
func (h *Heap[T]) Pop() T {
	ret := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	var zero T
	h.items[last] = zero
	h.items = h.items[:last]
	if last > 0 {
		h.down(0)
	}
	return ret
}

// Replace overwrites the least item with x
// and restores the heap order.
func (h *Heap[T]) Replace(x T) {
	h.items[0] = x
	h.down(0)
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.items[p], h.items[i] = h.items[i], h.items[p]
		i = p
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		c := 2*i + 1
		if c >= n {
			return
		}
		if r := c + 1; r < n && h.less(h.items[r], h.items[c]) {
			c = r
		}
		if !h.less(h.items[c], h.items[i]) {
			return
		}
		h.items[c], h.items[i] = h.items[i], h.items[c]
		i = c
	}
}

// Bounded retains the k least items
// of everything added to it.
type Bounded[T any] struct {
	k    int
	less func(x, y T) bool
	h    *Heap[T] // max-heap of the retained items
}

// NewBounded returns a Bounded that keeps
// at most k items, ordered by less.
func NewBounded[T any](k int, less func(x, y T) bool) *Bounded[T] {
	return &Bounded[T]{
		k:    k,
		less: less,
		h:    New(func(x, y T) bool { return less(y, x) }),
	}
}

// Len returns the number of retained items.
func (b *Bounded[T]) Len() int { return b.h.Len() }

// Add offers x; it is retained if fewer than k
// items are held or if it is less than the
// greatest retained item.
func (b *Bounded[T]) Add(x T) {
	if b.k <= 0 {
		return
	}
	if b.h.Len() < b.k {
		b.h.Push(x)
		return
	}
	if b.less(x, b.h.Peek()) {
		b.h.Replace(x)
	}
}

// Sorted drains the retained items
// in ascending order.
func (b *Bounded[T]) Sorted() []T {
	out := make([]T, b.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = b.h.Pop()
	}
	return out
}
