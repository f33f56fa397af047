package hawkes

import (
	"github.com/pkg/errors"
	gfloats "gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernel is the dense (nNodes, nNodes, size) triggering tensor over a shared
// discretization grid. Entry (i, j, b) is the intensity an event on node j
// contributes to node i after a delay falling in bin b. Outside [0, support)
// the kernel is exactly 0.
type Kernel struct {
	nNodes int
	disc   *Discretization
	data   []float64 // row-major: i*nNodes*size + j*size + b
}

// NewKernel allocates a zero kernel tensor on the given grid.
func NewKernel(nNodes int, disc *Discretization) *Kernel {
	return &Kernel{
		nNodes: nNodes,
		disc:   disc,
		data:   make([]float64, nNodes*nNodes*disc.Size()),
	}
}

// NewKernelFromValues wraps literal per-pair histograms into a kernel tensor,
// validating the shape against the grid and rejecting negative entries.
func NewKernelFromValues(values [][][]float64, disc *Discretization) (*Kernel, error) {
	nNodes := len(values)
	size := disc.Size()
	k := NewKernel(nNodes, disc)
	for i, row := range values {
		if len(row) != nNodes {
			return nil, errors.Wrapf(ErrDimensionMismatch, "kernel row %d has %d columns, expected %d", i, len(row), nNodes)
		}
		for j, hist := range row {
			if len(hist) != size {
				return nil, errors.Wrapf(ErrDimensionMismatch, "kernel (%d, %d) has %d bins, expected %d", i, j, len(hist), size)
			}
			for b, v := range hist {
				if v < 0 {
					return nil, errors.Wrapf(ErrInvalidConfiguration, "kernel (%d, %d) bin %d is negative: %v", i, j, b, v)
				}
			}
			copy(k.pair(i, j), hist)
		}
	}
	return k, nil
}

func (k *Kernel) NNodes() int { return k.nNodes }

func (k *Kernel) Discretization() *Discretization { return k.disc }

// pair returns the mutable histogram slice for target i, source j.
func (k *Kernel) pair(i, j int) []float64 {
	size := k.disc.Size()
	offset := (i*k.nNodes + j) * size
	return k.data[offset : offset+size]
}

func (k *Kernel) At(i, j, b int) float64 {
	return k.pair(i, j)[b]
}

func (k *Kernel) Set(i, j, b int, v float64) {
	k.pair(i, j)[b] = v
}

// Fill sets every entry to v.
func (k *Kernel) Fill(v float64) {
	for i := range k.data {
		k.data[i] = v
	}
}

func (k *Kernel) Clone() *Kernel {
	out := NewKernel(k.nNodes, k.disc)
	copy(out.data, k.data)
	return out
}

// Value evaluates the piecewise-constant kernel (i, j) at delay t.
func (k *Kernel) Value(i, j int, t float64) float64 {
	b := k.disc.Bin(t)
	if b < 0 {
		return 0
	}
	return k.pair(i, j)[b]
}

// Values evaluates the kernel (i, j) at every delay in ts.
func (k *Kernel) Values(i, j int, ts []float64) []float64 {
	out := make([]float64, len(ts))
	for n, t := range ts {
		out[n] = k.Value(i, j, t)
	}
	return out
}

// Norm returns the L1 norm of kernel (i, j): the discrete integral over the
// full support.
func (k *Kernel) Norm(i, j int) float64 {
	return gfloats.Sum(k.pair(i, j)) * k.disc.Dt()
}

// Norms returns the nNodes x nNodes matrix of kernel L1 norms, the estimated
// branching matrix of the process.
func (k *Kernel) Norms() *mat.Dense {
	out := mat.NewDense(k.nNodes, k.nNodes, nil)
	for i := 0; i < k.nNodes; i++ {
		for j := 0; j < k.nNodes; j++ {
			out.Set(i, j, k.Norm(i, j))
		}
	}
	return out
}

// Supports returns the per-pair support matrix. The grid is shared across the
// whole tensor, so every entry equals the global support.
func (k *Kernel) Supports() *mat.Dense {
	out := mat.NewDense(k.nNodes, k.nNodes, nil)
	support := k.disc.Support()
	for i := 0; i < k.nNodes; i++ {
		for j := 0; j < k.nNodes; j++ {
			out.Set(i, j, support)
		}
	}
	return out
}

// maxRelativeDiff returns the largest entry-wise relative change between two
// tensors of identical shape.
func (k *Kernel) maxRelativeDiff(prev *Kernel) float64 {
	max := 0.0
	for n, v := range k.data {
		p := prev.data[n]
		diff := v - p
		if diff < 0 {
			diff = -diff
		}
		if p != 0 {
			if p < 0 {
				diff /= -p
			} else {
				diff /= p
			}
		}
		if diff > max {
			max = diff
		}
	}
	return max
}

// clampAboveZero floors every entry at 0, recovering entries that rounding
// pushed below zero.
func (k *Kernel) clampAboveZero() {
	for i, v := range k.data {
		if v < 0 {
			k.data[i] = 0
		}
	}
}
