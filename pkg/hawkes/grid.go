package hawkes

import (
	"math"

	"github.com/pkg/errors"
)

// edgeSpacingTolerance bounds the relative jitter allowed between consecutive
// bin widths when a grid is built from an explicit edge sequence.
const edgeSpacingTolerance = 1e-9

// Discretization owns the uniform grid a kernel tensor is estimated on. The
// canonical triple (support, size, dt) always satisfies support == size * dt;
// every mutator re-derives the dependent fields atomically, so the triple can
// never be observed in a half-updated state.
type Discretization struct {
	support float64
	size    int
	dt      float64

	edges []float64 // cached, rebuilt lazily after a mutation
}

// NewDiscretization builds a grid over [0, support) with the given number of
// equally sized bins.
func NewDiscretization(support float64, size int) (*Discretization, error) {
	d := &Discretization{}
	if err := d.SetSupport(support); err != nil {
		return nil, err
	}
	if err := d.SetSize(size); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDiscretizationWithDt builds a grid over [0, support) from a requested bin
// width. The realized width may be slightly smaller than the requested one:
// the bin count is rounded up so the grid still covers the full support.
func NewDiscretizationWithDt(support, dt float64) (*Discretization, error) {
	if support <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "kernel support must be positive, got %v", support)
	}
	d := &Discretization{support: support, size: 1, dt: support}
	if err := d.SetDt(dt); err != nil {
		return nil, err
	}
	return d, nil
}

// NewDiscretizationFromEdges derives the (support, size, dt) triple from an
// explicit edge sequence. Edges must start at 0, increase strictly, and be
// uniformly spaced within a small relative tolerance.
func NewDiscretizationFromEdges(edges []float64) (*Discretization, error) {
	if len(edges) < 2 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "need at least 2 edges, got %d", len(edges))
	}
	if edges[0] != 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "first edge must be 0, got %v", edges[0])
	}

	size := len(edges) - 1
	support := edges[size]
	dt := support / float64(size)
	for i := 1; i < len(edges); i++ {
		width := edges[i] - edges[i-1]
		if width <= 0 {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "edges must increase strictly at index %d", i)
		}
		if math.Abs(width-dt) > edgeSpacingTolerance*math.Max(1, dt) {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "edges must be uniformly spaced, bin %d has width %v, expected %v", i-1, width, dt)
		}
	}

	return &Discretization{support: support, size: size, dt: dt}, nil
}

// SetSupport changes the grid extent, keeping the bin count and re-deriving
// the bin width.
func (d *Discretization) SetSupport(support float64) error {
	if support <= 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "kernel support must be positive, got %v", support)
	}
	d.support = support
	if d.size == 0 {
		d.size = 1
	}
	d.dt = d.support / float64(d.size)
	d.edges = nil
	return nil
}

// SetSize changes the bin count, keeping the support and re-deriving the bin
// width.
func (d *Discretization) SetSize(size int) error {
	if size <= 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "kernel size must be positive, got %d", size)
	}
	d.size = size
	d.dt = d.support / float64(d.size)
	d.edges = nil
	return nil
}

// SetDt requests a bin width. This is the only mutator that may change the bin
// count: size becomes ceil(support/dt) and the realized width support/size is
// stored, which may differ from the requested value when dt does not divide
// the support evenly.
func (d *Discretization) SetDt(dt float64) error {
	if dt <= 0 {
		return errors.Wrapf(ErrInvalidConfiguration, "kernel dt must be positive, got %v", dt)
	}
	if dt > d.support {
		return errors.Wrapf(ErrInvalidConfiguration, "kernel dt %v exceeds support %v", dt, d.support)
	}
	d.size = int(math.Ceil(d.support / dt))
	d.dt = d.support / float64(d.size)
	d.edges = nil
	return nil
}

func (d *Discretization) Support() float64 { return d.support }

func (d *Discretization) Size() int { return d.size }

func (d *Discretization) Dt() float64 { return d.dt }

// Edges returns the size+1 grid edges from 0 to the support. The slice is
// cached until the next mutation; callers must not modify it.
func (d *Discretization) Edges() []float64 {
	if d.edges == nil {
		d.edges = make([]float64, d.size+1)
		for i := 1; i < d.size; i++ {
			d.edges[i] = float64(i) * d.dt
		}
		d.edges[d.size] = d.support
	}
	return d.edges
}

// Bin maps a delay to its bin index, or -1 when the delay falls outside
// [0, support). A delay just below the support that rounds up to the edge is
// clamped into the last bin.
func (d *Discretization) Bin(delay float64) int {
	if delay < 0 || delay >= d.support {
		return -1
	}
	idx := int(delay / d.dt)
	if idx >= d.size {
		idx = d.size - 1
	}
	return idx
}
