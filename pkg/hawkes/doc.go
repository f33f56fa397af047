// Package hawkes estimates multivariate Hawkes processes nonparametrically.
//
// Events observed on a set of interacting nodes, possibly across several
// independent realizations, are explained by a constant exogenous baseline per
// node plus pairwise triggering kernels represented as piecewise-constant
// histograms on a shared discretization grid. The estimator is an
// expectation-maximization fixed point: each iteration distributes every
// event's probability mass over its candidate causes, then renormalizes the
// baseline by the total observation time and each kernel bin by its
// edge-truncated exposure.
//
// Typical usage:
//
//	em, err := hawkes.NewWithOptions(hawkes.Options{
//		KernelSupport: 3,
//		KernelSize:    3,
//		MaxIter:       100,
//	})
//	if err != nil {
//		return err
//	}
//	if err := em.Fit(events); err != nil {
//		return err
//	}
//	norms := em.KernelNorms()
package hawkes
