package window

import "math"

// Number is the set of scalar types a Window can hold.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Window is a fixed-capacity FIFO ring buffer. The oldest value is evicted on overflow.
type Window[T Number] struct {
	buf   []T
	head  int
	count int
}

// New creates a window holding at most capacity values.
func New[T Number](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (w *Window[T]) Push(v T) {
	idx := (w.head + w.count) % len(w.buf)
	if w.count == len(w.buf) {
		w.buf[w.head] = v
		w.head = (w.head + 1) % len(w.buf)
		return
	}
	w.buf[idx] = v
	w.count++
}

// Len returns the number of stored values.
func (w *Window[T]) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Full reports whether the window reached capacity.
func (w *Window[T]) Full() bool { return w.count == len(w.buf) }

// Reset drops all values.
func (w *Window[T]) Reset() {
	w.head = 0
	w.count = 0
}

// At returns the i-th value, oldest first.
func (w *Window[T]) At(i int) T {
	return w.buf[(w.head+i)%len(w.buf)]
}

// Last returns the newest value and false when empty.
func (w *Window[T]) Last() (T, bool) {
	var zero T
	if w.count == 0 {
		return zero, false
	}
	return w.At(w.count - 1), true
}

// Values returns a copy of the stored values, oldest first.
func (w *Window[T]) Values() []T {
	out := make([]T, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.At(i)
	}
	return out
}

// Tail returns a copy of the newest n values, oldest first.
func (w *Window[T]) Tail(n int) []T {
	if n > w.count {
		n = w.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	start := w.count - n
	for i := 0; i < n; i++ {
		out[i] = w.At(start + i)
	}
	return out
}

// Mean returns the arithmetic mean of xs, 0 when empty.
func Mean[T Number](xs []T) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation of xs, 0 for fewer than two values.
func StdDev[T Number](xs []T) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := float64(x) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// MinMax returns the smallest and largest value of xs.
func MinMax[T Number](xs []T) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi := float64(xs[0]), float64(xs[0])
	for _, x := range xs[1:] {
		v := float64(x)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
