package hawkes

import (
	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/c9s/hawkes/pkg/datatype/floats"
)

var log = logrus.WithField("component", "hawkes")

const (
	defaultKernelSize  = 10
	defaultMaxIter     = 100
	defaultTol         = 1e-5
	defaultPrintEvery  = 10
	defaultRecordEvery = 1

	// defaultStartValue seeds baseline and kernel when no warm start is
	// given. It must be strictly positive: an event whose every candidate
	// cause starts at zero has zero intensity and undefined responsibilities.
	defaultStartValue = 0.1
)

// Options configures a HawkesEM estimator. Exactly one consistent grid
// specification must be supplied: KernelSupport alone, KernelSupport with
// KernelSize or KernelDt, or an explicit KernelDiscretization edge sequence.
type Options struct {
	KernelSupport        float64   `json:"kernelSupport"`
	KernelSize           int       `json:"kernelSize"`
	KernelDt             float64   `json:"kernelDt"`
	KernelDiscretization []float64 `json:"kernelDiscretization,omitempty"`

	// NThreads is the number of workers accumulating the EM updates
	NThreads int `json:"nThreads"`

	// MaxIter bounds the number of EM iterations
	MaxIter int `json:"maxIter"`

	// Tol is the relative-change threshold for early stopping, 0 disables it
	Tol float64 `json:"tol"`

	Verbose     bool `json:"verbose"`
	PrintEvery  int  `json:"printEvery"`
	RecordEvery int  `json:"recordEvery"`

	tolSet bool
}

// SetDefaultValues applies default settings to unspecified fields
func (o *Options) SetDefaultValues() {
	if o.NThreads <= 0 {
		o.NThreads = 1
	}

	if o.MaxIter <= 0 {
		o.MaxIter = defaultMaxIter
	}

	if o.Tol == 0 && !o.tolSet {
		o.Tol = defaultTol
	}

	if o.PrintEvery <= 0 {
		o.PrintEvery = defaultPrintEvery
	}

	if o.RecordEvery <= 0 {
		o.RecordEvery = defaultRecordEvery
	}
}

// DisableEarlyStop forces the full iteration budget to run regardless of the
// convergence metric.
func (o *Options) DisableEarlyStop() {
	o.Tol = 0
	o.tolSet = true
}

func (o *Options) discretization() (*Discretization, error) {
	if len(o.KernelDiscretization) > 0 {
		if o.KernelSupport != 0 || o.KernelSize != 0 || o.KernelDt != 0 {
			return nil, errors.Wrap(ErrInvalidConfiguration, "kernelDiscretization conflicts with kernelSupport/kernelSize/kernelDt")
		}
		return NewDiscretizationFromEdges(o.KernelDiscretization)
	}

	if o.KernelSupport <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "kernel support must be positive, got %v", o.KernelSupport)
	}
	if o.KernelSize != 0 && o.KernelDt != 0 {
		return nil, errors.Wrap(ErrInvalidConfiguration, "kernelSize conflicts with kernelDt")
	}

	if o.KernelDt != 0 {
		return NewDiscretizationWithDt(o.KernelSupport, o.KernelDt)
	}

	size := o.KernelSize
	if size == 0 {
		size = defaultKernelSize
	}
	return NewDiscretization(o.KernelSupport, size)
}

// IterationRecord is one entry of the convergence history.
type IterationRecord struct {
	Iteration   int
	RelBaseline float64
	RelKernel   float64
}

// HawkesEM estimates the baseline vector and the piecewise-constant triggering
// kernels of a multivariate Hawkes process by an expectation-maximization
// fixed point. The estimation state is rebuilt on every Fit call; readers only
// ever observe a fully converged (or fully iterated) state.
type HawkesEM struct {
	*Options

	disc *Discretization

	baseline floats.Slice
	kernel   *Kernel

	nNodes        int
	nRealizations int
	history       []IterationRecord
	fitted        bool
}

// New creates an estimator over [0, kernelSupport) with the default number of
// bins.
func New(kernelSupport float64) (*HawkesEM, error) {
	return NewWithOptions(Options{KernelSupport: kernelSupport})
}

// NewWithOptions creates an estimator with the specified options.
func NewWithOptions(options Options) (*HawkesEM, error) {
	options.SetDefaultValues()
	disc, err := options.discretization()
	if err != nil {
		return nil, err
	}
	return &HawkesEM{Options: &options, disc: disc}, nil
}

// KernelSupport returns the grid extent.
func (e *HawkesEM) KernelSupport() float64 { return e.disc.Support() }

// KernelSize returns the number of grid bins.
func (e *HawkesEM) KernelSize() int { return e.disc.Size() }

// KernelDt returns the realized bin width.
func (e *HawkesEM) KernelDt() float64 { return e.disc.Dt() }

// KernelDiscretization returns the grid edges.
func (e *HawkesEM) KernelDiscretization() []float64 { return e.disc.Edges() }

// SetKernelSupport rescales the grid extent, keeping the bin count. Fitted
// state is discarded: it was estimated on the old grid.
func (e *HawkesEM) SetKernelSupport(support float64) error {
	if err := e.disc.SetSupport(support); err != nil {
		return err
	}
	e.reset()
	return nil
}

// SetKernelSize changes the bin count, keeping the extent. Fitted state is
// discarded: it was estimated on the old grid.
func (e *HawkesEM) SetKernelSize(size int) error {
	if err := e.disc.SetSize(size); err != nil {
		return err
	}
	e.reset()
	return nil
}

// SetKernelDt requests a bin width; the realized width is support divided by
// the rounded-up bin count. Fitted state is discarded: it was estimated on
// the old grid.
func (e *HawkesEM) SetKernelDt(dt float64) error {
	if err := e.disc.SetDt(dt); err != nil {
		return err
	}
	e.reset()
	return nil
}

// reset drops the estimation state after a grid mutation, so stale tensors
// sized for the previous bin count can never be queried against the new grid.
func (e *HawkesEM) reset() {
	e.fitted = false
	e.baseline = nil
	e.kernel = nil
	e.history = nil
}

func (e *HawkesEM) NNodes() int { return e.nNodes }

func (e *HawkesEM) NRealizations() int { return e.nRealizations }

// Fitted reports whether a fit has completed since the last configuration.
func (e *HawkesEM) Fitted() bool { return e.fitted }

// Baseline returns the estimated exogenous intensity per node.
func (e *HawkesEM) Baseline() floats.Slice { return e.baseline }

// Kernel returns the estimated triggering tensor.
func (e *HawkesEM) Kernel() *Kernel { return e.kernel }

// History returns the recorded convergence metrics.
func (e *HawkesEM) History() []IterationRecord { return e.history }

// KernelValue evaluates the estimated kernel (i, j) at every delay in ts.
func (e *HawkesEM) KernelValue(i, j int, ts []float64) []float64 {
	return e.kernel.Values(i, j, ts)
}

// KernelNorms returns the matrix of estimated kernel L1 norms.
func (e *HawkesEM) KernelNorms() *mat.Dense { return e.kernel.Norms() }

// KernelSupports returns the per-pair support matrix, uniform by construction.
func (e *HawkesEM) KernelSupports() *mat.Dense { return e.kernel.Supports() }

// Fit estimates baseline and kernels from raw events, one ascending timestamp
// slice per node per realization, starting from the default uniform values.
func (e *HawkesEM) Fit(events [][][]float64) error {
	return e.FitStart(events, nil, nil)
}

// FitStart estimates baseline and kernels starting from the given warm-start
// values. A nil baselineStart or kernelStart falls back to the default.
func (e *HawkesEM) FitStart(events [][][]float64, baselineStart []float64, kernelStart [][][]float64) error {
	tl, err := NewTimeline(events)
	if err != nil {
		return err
	}
	return e.FitTimeline(tl, baselineStart, kernelStart)
}

// FitTimeline is FitStart over a prepared Timeline, for callers that need
// explicit observation end times.
func (e *HawkesEM) FitTimeline(tl *Timeline, baselineStart []float64, kernelStart [][][]float64) error {
	e.nNodes = tl.NNodes()
	e.nRealizations = tl.NRealizations()
	e.history = nil
	e.fitted = false

	if baselineStart != nil {
		if len(baselineStart) != e.nNodes {
			return errors.Wrapf(ErrDimensionMismatch, "baseline start has %d entries, expected %d", len(baselineStart), e.nNodes)
		}
		for i, b := range baselineStart {
			if b < 0 {
				return errors.Wrapf(ErrInvalidConfiguration, "baseline start entry %d is negative: %v", i, b)
			}
		}
		e.baseline = floats.New(baselineStart...)
	} else {
		e.baseline = floats.Filled(e.nNodes, defaultStartValue)
	}

	if kernelStart != nil {
		if len(kernelStart) != e.nNodes {
			return errors.Wrapf(ErrDimensionMismatch, "kernel start has %d rows, expected %d", len(kernelStart), e.nNodes)
		}
		kernel, err := NewKernelFromValues(kernelStart, e.disc)
		if err != nil {
			return err
		}
		e.kernel = kernel
	} else {
		e.kernel = NewKernel(e.nNodes, e.disc)
		e.kernel.Fill(defaultStartValue)
	}

	exposure := computeExposure(tl, e.disc)

	if e.Verbose {
		for _, summary := range tl.Describe() {
			log.WithFields(logrus.Fields{
				"node":      summary.Node,
				"events":    summary.NumEvents,
				"meanGap":   summary.MeanGap,
				"medianGap": summary.MedianGap,
			}).Info("node summary")
		}
	}

	var bar *pb.ProgressBar
	if e.Verbose {
		bar = pb.Full.Start(e.MaxIter)
	}

	for iter := 1; iter <= e.MaxIter; iter++ {
		nextBaseline, nextKernel, err := e.iterate(tl, exposure)
		if err != nil {
			if bar != nil {
				bar.Finish()
			}
			return err
		}

		relBaseline := floats.MaxRelativeDiff(nextBaseline, e.baseline)
		relKernel := nextKernel.maxRelativeDiff(e.kernel)

		// swap in the fresh buffers, the previous iteration's state is
		// never mutated in place
		e.baseline = nextBaseline
		e.kernel = nextKernel

		converged := e.Tol > 0 && relBaseline <= e.Tol && relKernel <= e.Tol

		if iter%e.RecordEvery == 0 || converged || iter == e.MaxIter {
			e.history = append(e.history, IterationRecord{
				Iteration:   iter,
				RelBaseline: relBaseline,
				RelKernel:   relKernel,
			})
		}

		if bar != nil {
			bar.Increment()
		}
		if e.Verbose && iter%e.PrintEvery == 0 {
			log.WithFields(logrus.Fields{
				"iteration":   iter,
				"relBaseline": relBaseline,
				"relKernel":   relKernel,
			}).Info("em iteration")
		}

		if converged {
			if e.Verbose {
				log.Infof("converged after %d iterations", iter)
			}
			break
		}
	}

	if bar != nil {
		bar.Finish()
	}

	e.fitted = true
	return nil
}

// iterate runs one EM iteration against the current state and returns fresh
// baseline and kernel buffers. Work is partitioned by target node: every
// worker writes only to baseline entry i and kernel row i, so accumulation is
// lock-free and its result independent of the worker count.
func (e *HawkesEM) iterate(tl *Timeline, exposure [][]float64) (floats.Slice, *Kernel, error) {
	nextBaseline := make(floats.Slice, e.nNodes)
	nextKernel := NewKernel(e.nNodes, e.disc)

	g := new(errgroup.Group)
	g.SetLimit(e.NThreads)
	for i := 0; i < e.nNodes; i++ {
		i := i
		g.Go(func() error {
			e.accumulateNode(i, tl, nextBaseline, nextKernel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	horizon := tl.TotalHorizon()
	for i := range nextBaseline {
		if horizon > 0 {
			nextBaseline[i] /= horizon
		} else {
			nextBaseline[i] = 0
		}
	}
	nextBaseline.ClampAboveZero()

	size := e.disc.Size()
	for i := 0; i < e.nNodes; i++ {
		for j := 0; j < e.nNodes; j++ {
			row := nextKernel.pair(i, j)
			for b := 0; b < size; b++ {
				if exposure[j][b] > 0 {
					row[b] /= exposure[j][b]
				} else {
					// a bin with no exposure has no mass either, 0/0 -> 0
					row[b] = 0
				}
			}
		}
	}
	nextKernel.clampAboveZero()

	return nextBaseline, nextKernel, nil
}

// accumulateNode assigns responsibilities for every event of target node i and
// accumulates the unnormalized M-step masses into nextBaseline[i] and kernel
// row i. Source cursors advance monotonically with the target event time, so
// each realization costs O(events + window pairs).
func (e *HawkesEM) accumulateNode(i int, tl *Timeline, nextBaseline floats.Slice, nextKernel *Kernel) {
	size := e.disc.Size()
	support := e.disc.Support()

	contrib := make([]float64, e.nNodes*size)
	touched := make([]int, 0, e.nNodes*size)
	starts := make([]int, e.nNodes)

	for r := 0; r < tl.NRealizations(); r++ {
		for j := range starts {
			starts[j] = 0
		}

		for _, t := range tl.Events(r, i) {
			total := e.baseline[i]
			touched = touched[:0]

			for j := 0; j < e.nNodes; j++ {
				source := tl.Events(r, j)

				idx := starts[j]
				for idx < len(source) && source[idx] <= t-support {
					idx++
				}
				starts[j] = idx

				for ; idx < len(source); idx++ {
					delay := t - source[idx]
					if delay <= 0 {
						// only strictly earlier events are candidate causes
						break
					}
					b := e.disc.Bin(delay)
					if b < 0 {
						continue
					}
					v := e.kernel.At(i, j, b)
					if v == 0 {
						continue
					}
					total += v
					n := j*size + b
					contrib[n] += v
					touched = append(touched, n)
				}
			}

			if total <= 0 {
				// zero intensity at an observed event, recover 0/0 as zero
				// responsibility everywhere
				for _, n := range touched {
					contrib[n] = 0
				}
				continue
			}

			nextBaseline[i] += e.baseline[i] / total

			offset := i * e.nNodes * size
			row := nextKernel.data[offset : offset+e.nNodes*size]
			for _, n := range touched {
				if contrib[n] != 0 {
					row[n] += contrib[n] / total
					contrib[n] = 0
				}
			}
		}
	}
}

// computeExposure returns, per source node j and bin b, the total time the
// observation windows could have seen a delay in bin b after one of node j's
// events. Bins reaching past a realization's end time are truncated, which is
// what keeps the M-step unbiased near window boundaries.
func computeExposure(tl *Timeline, disc *Discretization) [][]float64 {
	size := disc.Size()
	dt := disc.Dt()

	exposure := make([][]float64, tl.NNodes())
	for j := range exposure {
		exposure[j] = make([]float64, size)
	}

	for r := 0; r < tl.NRealizations(); r++ {
		endTime := tl.EndTime(r)
		for j := 0; j < tl.NNodes(); j++ {
			for _, t := range tl.Events(r, j) {
				for b := 0; b < size; b++ {
					lo := t + float64(b)*dt
					if lo >= endTime {
						break
					}
					hi := lo + dt
					if hi > endTime {
						hi = endTime
					}
					exposure[j][b] += hi - lo
				}
			}
		}
	}

	return exposure
}
