package events

// replay remembers the most recent value handed to Notify so late listeners
// can be primed with it. Callers hold the owning event's lock.
type replay[T any] struct {
	enabled bool
	last    T
	has     bool
}

func (r *replay[T]) record(value T) {
	if r.enabled {
		r.last = value
		r.has = true
	}
}

func (r *replay[T]) value() (T, bool) {
	if !r.enabled || !r.has {
		var zero T
		return zero, false
	}
	return r.last, true
}
