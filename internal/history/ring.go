package history

// Ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
// It is not safe for concurrent use; Recorder serialises access.
type Ring[T any] struct {
	items []T
	next  int
	full  bool
}

// NewRing creates a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, 0, capacity)}
}

// Push appends v, evicting the oldest item once the ring is full.
func (r *Ring[T]) Push(v T) {
	if !r.full {
		r.items = append(r.items, v)
		if len(r.items) == cap(r.items) {
			r.full = true
		}
		return
	}
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
}

// Len reports the number of stored items.
func (r *Ring[T]) Len() int { return len(r.items) }

// Cap reports the ring capacity.
func (r *Ring[T]) Cap() int { return cap(r.items) }

// Items returns a copy, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, len(r.items))
	if !r.full {
		return append(out, r.items...)
	}
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if len(r.items) == 0 {
		return zero, false
	}
	if !r.full || r.next == 0 {
		return r.items[len(r.items)-1], true
	}
	return r.items[r.next-1], true
}
