package breaker

import "time"

// Sample is one observed metric value.
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Ring is a fixed-capacity circular buffer of samples. Once full, each push
// overwrites the oldest sample. Not safe for concurrent use; the engine
// serializes access.
type Ring struct {
	arena []Sample
	head  int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{arena: make([]Sample, capacity)}
}

func (r *Ring) Push(s Sample) {
	r.arena[r.head] = s
	r.head = (r.head + 1) % len(r.arena)
	if r.size < len(r.arena) {
		r.size++
	}
}

func (r *Ring) Len() int { return r.size }

// Snapshot returns the buffered samples, oldest first.
func (r *Ring) Snapshot() []Sample {
	out := make([]Sample, 0, r.size)
	start := r.head - r.size
	if start < 0 {
		start += len(r.arena)
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.arena[(start+i)%len(r.arena)])
	}
	return out
}

// Window returns the samples observed strictly after cutoff, oldest first.
func (r *Ring) Window(cutoff time.Time) []Sample {
	all := r.Snapshot()
	for i, s := range all {
		if s.At.After(cutoff) {
			return all[i:]
		}
	}
	return nil
}

// Reset drops all buffered samples.
func (r *Ring) Reset() {
	r.head = 0
	r.size = 0
}
