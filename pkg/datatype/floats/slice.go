package floats

import "math"

// Slice is a float64 vector with the small helpers the estimation code needs.
type Slice []float64

func New(values ...float64) Slice {
	var s Slice
	return append(s, values...)
}

// Filled returns a slice of the given length with every entry set to value.
func Filled(length int, value float64) Slice {
	s := make(Slice, length)
	for i := range s {
		s[i] = value
	}
	return s
}

func (s Slice) Clone() Slice {
	out := make(Slice, len(s))
	copy(out, s)
	return out
}

func (s Slice) Length() int { return len(s) }

func (s Slice) Sum() float64 {
	total := 0.0
	for _, v := range s {
		total += v
	}
	return total
}

func (s Slice) Max() float64 {
	max := math.Inf(-1)
	for _, v := range s {
		if v > max {
			max = v
		}
	}
	return max
}

func (s Slice) Min() float64 {
	min := math.Inf(1)
	for _, v := range s {
		if v < min {
			min = v
		}
	}
	return min
}

// AddScalar returns a new slice with c added to every entry.
func (s Slice) AddScalar(c float64) Slice {
	out := make(Slice, len(s))
	for i, v := range s {
		out[i] = v + c
	}
	return out
}

// MulScalar returns a new slice with every entry multiplied by c.
func (s Slice) MulScalar(c float64) Slice {
	out := make(Slice, len(s))
	for i, v := range s {
		out[i] = v * c
	}
	return out
}

// ClampAboveZero floors every entry at 0 in place and returns the slice.
func (s Slice) ClampAboveZero() Slice {
	for i, v := range s {
		if v < 0 {
			s[i] = 0
		}
	}
	return s
}

// MaxRelativeDiff returns the largest entry-wise relative change from prev to
// next. An entry that was 0 contributes its absolute new value instead, so a
// parameter appearing from nothing still counts as a change.
func MaxRelativeDiff(next, prev Slice) float64 {
	max := 0.0
	for i, v := range next {
		p := prev[i]
		diff := math.Abs(v - p)
		if p != 0 {
			diff /= math.Abs(p)
		}
		if diff > max {
			max = diff
		}
	}
	return max
}
