package stats

import "golang.org/x/exp/constraints"

type Cumulative[T constraints.Signed] struct {
	total T
	count int64
}

func (c *Cumulative[T]) SampleIn(x T) {
	c.total += x
	c.count++
}

func (c *Cumulative[T]) Total() T {
	return c.total
}

func (c *Cumulative[T]) SampleCount() int64 {
	return c.count
}

// Mean returns false when no sample has been seen yet.
func (c *Cumulative[T]) Mean() (float64, bool) {
	if c.count == 0 {
		return 0, false
	}
	return float64(c.total) / float64(c.count), true
}
