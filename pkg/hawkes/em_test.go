package hawkes

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// two realizations over three nodes with increasing synthetic timestamps
var testEvents = [][][]float64{
	{
		{0.3, 1.1, 2.0, 4.1},
		{0.5, 1.7, 2.2, 3.3, 4.4},
		{0.9, 2.5, 3.1, 4.0, 4.9, 5.5},
	},
	{
		{0.2, 0.8, 1.9, 3.2},
		{0.4, 1.2, 2.8, 4.2, 5.1},
		{0.6, 1.5, 2.4, 3.6, 4.3, 5.0},
	},
}

func uniformStart(nNodes, size int, baseline, kernel float64) ([]float64, [][][]float64) {
	b := make([]float64, nNodes)
	k := make([][][]float64, nNodes)
	for i := range b {
		b[i] = baseline
		k[i] = make([][]float64, nNodes)
		for j := range k[i] {
			k[i][j] = make([]float64, size)
			for n := range k[i][j] {
				k[i][j][n] = kernel
			}
		}
	}
	return b, k
}

func TestHawkesEMAttributes(t *testing.T) {
	em, err := New(10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, em.KernelSupport())
	assert.Equal(t, defaultKernelSize, em.KernelSize())
	assert.False(t, em.Fitted())

	require.NoError(t, em.Fit(testEvents))
	assert.True(t, em.Fitted())
	assert.Equal(t, 3, em.NNodes())
	assert.Equal(t, 2, em.NRealizations())
}

func TestHawkesEMGridPassthrough(t *testing.T) {
	em, err := NewWithOptions(Options{KernelSupport: 4, KernelSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 0.4, em.KernelDt())

	require.NoError(t, em.SetKernelDt(0.199))
	assert.Equal(t, 21, em.KernelSize())
	assert.Equal(t, 0.19047619047619047, em.KernelDt())

	require.NoError(t, em.SetKernelSupport(6.2))
	assert.Equal(t, 6.2, em.KernelSupport())
	assert.Equal(t, 21, em.KernelSize())

	assert.Len(t, em.KernelDiscretization(), 22)
}

// single node, support 1, one bin: every EM quantity can be derived by hand.
//
// Events [0, 0.5], horizon 0.5, warm start baseline 0.2, kernel 0.4:
// the event at 0.5 splits its responsibility 1/3 baseline, 2/3 kernel, the
// kernel exposure is 0.5, so one iteration gives baseline 8/3, kernel 4/3 and
// a second iteration gives 10/3 and 2/3.
func TestHawkesEMAnalyticIterations(t *testing.T) {
	tests := []struct {
		name     string
		maxIter  int
		baseline float64
		kernel   float64
	}{
		{name: "one iteration", maxIter: 1, baseline: 8.0 / 3, kernel: 4.0 / 3},
		{name: "two iterations", maxIter: 2, baseline: 10.0 / 3, kernel: 2.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em, err := NewWithOptions(Options{KernelSupport: 1, KernelSize: 1, MaxIter: tt.maxIter})
			require.NoError(t, err)
			em.DisableEarlyStop()

			err = em.FitStart([][][]float64{{{0, 0.5}}}, []float64{0.2}, [][][]float64{{{0.4}}})
			require.NoError(t, err)

			assert.InDelta(t, tt.baseline, em.Baseline()[0], 1e-12)
			assert.InDelta(t, tt.kernel, em.Kernel().At(0, 0, 0), 1e-12)
		})
	}
}

// a delay equal to the support carries no excitation: with events at 1 and 2
// and support 1 the process degenerates to a pure Poisson fit.
func TestHawkesEMOutOfSupportDelay(t *testing.T) {
	em, err := NewWithOptions(Options{KernelSupport: 1, KernelSize: 1, MaxIter: 5})
	require.NoError(t, err)

	err = em.FitStart([][][]float64{{{1, 2}}}, []float64{0.2}, [][][]float64{{{0.4}}})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, em.Baseline()[0], 1e-12)
	assert.InDelta(t, 0.0, em.Kernel().At(0, 0, 0), 1e-12)

	// the fixed point is reached on the second iteration
	history := em.History()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, 2, last.Iteration)
	assert.Zero(t, last.RelBaseline)
	assert.Zero(t, last.RelKernel)
}

func fitTestEvents(t *testing.T, options Options) *HawkesEM {
	t.Helper()
	em, err := NewWithOptions(options)
	require.NoError(t, err)
	em.DisableEarlyStop()

	baseline, kernel := uniformStart(3, em.KernelSize(), 0.2, 0.4)
	require.NoError(t, em.FitStart(testEvents, baseline, kernel))
	return em
}

func TestHawkesEMDeterminism(t *testing.T) {
	em1 := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10})
	em2 := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10})

	assert.Equal(t, em1.Baseline(), em2.Baseline())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for b := 0; b < 3; b++ {
				assert.Equal(t, em1.Kernel().At(i, j, b), em2.Kernel().At(i, j, b))
			}
		}
	}
}

func TestHawkesEMThreadCountEquivalence(t *testing.T) {
	single := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10, NThreads: 1})
	multi := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10, NThreads: 2})

	for i := 0; i < 3; i++ {
		assert.InDelta(t, single.Baseline()[i], multi.Baseline()[i], 1e-9)
		for j := 0; j < 3; j++ {
			for b := 0; b < 3; b++ {
				assert.InDelta(t, single.Kernel().At(i, j, b), multi.Kernel().At(i, j, b), 1e-9)
			}
		}
	}
}

func TestHawkesEMExplicitDiscretization(t *testing.T) {
	bySize := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10})
	byEdges := fitTestEvents(t, Options{KernelDiscretization: []float64{0, 1, 2, 3}, MaxIter: 10})

	for i := 0; i < 3; i++ {
		assert.InDelta(t, bySize.Baseline()[i], byEdges.Baseline()[i], 1e-12)
		for j := 0; j < 3; j++ {
			for b := 0; b < 3; b++ {
				assert.InDelta(t, bySize.Kernel().At(i, j, b), byEdges.Kernel().At(i, j, b), 1e-12)
			}
		}
	}
}

// pins the full estimate on the synthetic two-realization input so any change
// to accumulation order, exposure truncation, or normalization shows up as a
// numeric diff
func TestHawkesEMRegressionFixture(t *testing.T) {
	em := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10})

	expectedBaseline := []float64{0.6938, 0.2673, 0.1607}
	expectedKernel := [][][]float64{
		{{0.0003, 0.0036, 0.0006}, {0.0448, 0.0003, 0.0017}, {0.0179, 0.0046, 0.0000}},
		{{0.3468, 0.3195, 0.0019}, {0.0000, 0.0817, 0.0328}, {0.1091, 0.0244, 0.0158}},
		{{0.0598, 0.0700, 0.2468}, {0.4901, 0.0273, 0.4396}, {0.0056, 0.0553, 0.0809}},
	}

	for i := 0; i < 3; i++ {
		assert.InDelta(t, expectedBaseline[i], em.Baseline()[i], 1e-4, "baseline %d", i)
		for j := 0; j < 3; j++ {
			for b := 0; b < 3; b++ {
				assert.InDelta(t, expectedKernel[i][j][b], em.Kernel().At(i, j, b), 1e-4, "kernel (%d, %d, %d)", i, j, b)
			}
		}
	}

	expectedNorms := [][]float64{
		{0.0046, 0.0468, 0.0225},
		{0.6683, 0.1145, 0.1493},
		{0.3767, 0.9570, 0.1418},
	}
	norms := em.KernelNorms()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, expectedNorms[i][j], norms.At(i, j), 1e-3, "norm (%d, %d)", i, j)
		}
	}
}

func TestHawkesEMEndToEnd(t *testing.T) {
	em := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 10})

	require.Len(t, em.Baseline(), 3)
	for i, b := range em.Baseline() {
		assert.GreaterOrEqual(t, b, 0.0, "baseline %d", i)
	}

	dt := em.KernelDt()
	norms := em.KernelNorms()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var integral float64
			for b := 0; b < 3; b++ {
				value := em.Kernel().At(i, j, b)
				assert.GreaterOrEqual(t, value, 0.0)
				integral += value * dt
			}
			assert.InDelta(t, integral, norms.At(i, j), 1e-12)
		}
	}

	// zero outside the support, in both directions
	values := em.KernelValue(1, 0, []float64{-1, 3, 5})
	assert.Equal(t, []float64{0, 0, 0}, values)

	supports := em.KernelSupports()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, 3.0, supports.At(i, j))
		}
	}

	// early stop disabled: the full budget runs and every iteration is recorded
	history := em.History()
	require.Len(t, history, 10)
	assert.Equal(t, 10, history[len(history)-1].Iteration)
}

func TestHawkesEMEmptyNode(t *testing.T) {
	em, err := NewWithOptions(Options{KernelSupport: 1, KernelSize: 2, MaxIter: 3})
	require.NoError(t, err)

	// node 0 never fires: its baseline and all kernels involving it as a
	// source must settle at zero without any numeric failure
	require.NoError(t, em.Fit([][][]float64{{{}, {0.5, 1.5}}}))

	assert.Zero(t, em.Baseline()[0])
	assert.Greater(t, em.Baseline()[1], 0.0)
	for i := 0; i < 2; i++ {
		for b := 0; b < 2; b++ {
			assert.Zero(t, em.Kernel().At(i, 0, b))
		}
	}
}

func TestHawkesEMEmptyInput(t *testing.T) {
	em, err := New(1)
	require.NoError(t, err)
	assert.True(t, errors.Is(em.Fit(nil), ErrEmptyInput))
}

func TestHawkesEMWarmStartValidation(t *testing.T) {
	em, err := NewWithOptions(Options{KernelSupport: 3, KernelSize: 3})
	require.NoError(t, err)

	err = em.FitStart(testEvents, []float64{0.2, 0.2}, nil)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	// wrong bin count
	_, kernel := uniformStart(3, 2, 0.2, 0.4)
	err = em.FitStart(testEvents, nil, kernel)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	// wrong node count
	_, shortKernel := uniformStart(2, 3, 0.2, 0.4)
	err = em.FitStart(testEvents, nil, shortKernel)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestHawkesEMGridMutationResetsFit(t *testing.T) {
	em := fitTestEvents(t, Options{KernelSupport: 3, KernelSize: 3, MaxIter: 5})
	require.True(t, em.Fitted())

	// the fitted tensor is sized for the old bin count, it must not survive
	// a grid mutation
	require.NoError(t, em.SetKernelSize(6))
	assert.False(t, em.Fitted())
	assert.Nil(t, em.Kernel())
	assert.Nil(t, em.Baseline())
	assert.Empty(t, em.History())

	// refitting on the new grid works
	require.NoError(t, em.Fit(testEvents))
	assert.True(t, em.Fitted())
	assert.Equal(t, 6, em.KernelSize())

	// a failed mutation keeps the fitted state
	assert.Error(t, em.SetKernelSize(-1))
	assert.True(t, em.Fitted())
}

func TestHawkesEMNegativeWarmStart(t *testing.T) {
	em, err := NewWithOptions(Options{KernelSupport: 3, KernelSize: 3})
	require.NoError(t, err)

	baseline, kernel := uniformStart(3, 3, 0.2, 0.4)
	baseline[1] = -0.2
	err = em.FitStart(testEvents, baseline, kernel)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	baseline, kernel = uniformStart(3, 3, 0.2, 0.4)
	kernel[2][0][1] = -0.4
	err = em.FitStart(testEvents, baseline, kernel)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestHawkesEMOptionConflicts(t *testing.T) {
	_, err := NewWithOptions(Options{})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	_, err = NewWithOptions(Options{KernelSupport: 1, KernelSize: 2, KernelDt: 0.3})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	_, err = NewWithOptions(Options{KernelSupport: 1, KernelDiscretization: []float64{0, 1}})
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestHawkesEMUnsortedInput(t *testing.T) {
	em, err := New(1)
	require.NoError(t, err)
	assert.True(t, errors.Is(em.Fit([][][]float64{{{3, 1}}}), ErrUnsortedEvents))
}
