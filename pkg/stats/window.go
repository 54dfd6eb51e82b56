package stats

import (
	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window keeps the last Capacity samples and their exact sum. Slots not yet
// written hold zero, so Mean is biased towards zero until the window fills.
type Window[T constraints.Signed] struct {
	samples  fifo.Fifo[T]
	capacity int
	sum      T
}

func NewWindow[T constraints.Signed](capacity int) *Window[T] {
	if capacity < 1 {
		panic("stats: window capacity must be positive")
	}
	w := &Window[T]{
		capacity: capacity,
	}
	for range capacity {
		w.samples.Enqueue(0)
	}
	return w
}

// SampleIn replaces the oldest slot with x.
func (w *Window[T]) SampleIn(x T) {
	if old, ok := w.samples.Dequeue(); ok {
		w.sum -= old
	}
	w.samples.Enqueue(x)
	w.sum += x
}

func (w *Window[T]) Sum() T {
	return w.sum
}

func (w *Window[T]) Capacity() int {
	return w.capacity
}

// Mean divides by the capacity, not by the number of samples seen.
func (w *Window[T]) Mean() float64 {
	return float64(w.sum) / float64(w.capacity)
}
