package scalar

import (
	"math"

	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/beagle/kernel"
)

// clampEdgeLength clamps negative edge lengths to zero rather than
// rejecting them, since a caller-side numerical proposal that dips
// fractionally below zero (e.g. during branch-length optimization line
// search) shouldn't abort an otherwise valid batch.
func clampEdgeLength(t float64) float64 {
	if t < 0 {
		return 0
	}
	return t
}

// UpdateTransitionMatrices reconstructs, for every (branch, category) pair,
// M = U * diag(exp(lambda*t*rate)) * U^-1 from the eigen buffer, following
// the same V*diag*V^-1 product cmodel.EMatrix.Exp performs, generalized to
// arbitrary state count and to the optional first and second derivative
// matrices the original EMatrix never computed.
func (b *Backend) UpdateTransitionMatrices(eigenIndex int, probIdx, d1Idx, d2Idx []int, edgeLengths []float64) (ec kernel.ErrorCode) {
	if eigenIndex < 0 || eigenIndex >= len(b.eigen) || b.eigen[eigenIndex] == nil {
		return kernel.ErrOutOfRange
	}
	k := len(probIdx)
	if len(edgeLengths) != k {
		return kernel.ErrOutOfRange
	}
	wantD1 := d1Idx != nil
	wantD2 := d2Idx != nil
	if wantD1 && len(d1Idx) != k {
		return kernel.ErrOutOfRange
	}
	if wantD2 && len(d2Idx) != k {
		return kernel.ErrOutOfRange
	}
	for _, idx := range probIdx {
		if idx < 0 || idx >= len(b.matrices) {
			return kernel.ErrOutOfRange
		}
	}
	if wantD1 {
		for _, idx := range d1Idx {
			if idx < 0 || idx >= len(b.matrices) {
				return kernel.ErrOutOfRange
			}
		}
	}
	if wantD2 {
		for _, idx := range d2Idx {
			if idx < 0 || idx >= len(b.matrices) {
				return kernel.ErrOutOfRange
			}
		}
	}

	eb := b.eigen[eigenIndex]
	s := b.sizing.StateCount

	defer func() {
		if r := recover(); r != nil {
			log.Warningf("recovered from panic in UpdateTransitionMatrices: %v", r)
			ec = kernel.ErrUnidentifiedException
		}
	}()

	tmp := mat64.NewDense(s, s, nil)
	res := mat64.NewDense(s, s, nil)

	// expand reconstructs U*diag(scale(lambda))*U^-1 into out. clampNeg is
	// only appropriate for the probability matrix itself: row entries are
	// probabilities and small negative numerical noise should floor to
	// zero, but the derivative matrices are legitimately signed (diagonal
	// dM/dt entries are negative) and must not be clamped.
	expand := func(scale func(lam float64) float64, out []float64, c int, clampNeg bool) {
		for i, lam := range eb.gamma {
			b.diag.Set(i, i, scale(lam))
		}
		tmp.Mul(eb.u, b.diag)
		res.Mul(tmp, eb.uinv)
		for row := 0; row < s; row++ {
			for col := 0; col < s; col++ {
				v := res.At(row, col)
				if clampNeg && v < 0 {
					v = 0
				}
				out[b.matrixIndex(c, row, col)] = v
			}
		}
	}

	for i := 0; i < k; i++ {
		t := clampEdgeLength(edgeLengths[i])
		for c := 0; c < b.sizing.CategoryCount; c++ {
			rate := b.rates[c]
			et := t * rate

			expand(func(lam float64) float64 {
				return safeExp(lam * et)
			}, b.matrices[probIdx[i]], c, true)

			if wantD1 {
				expand(func(lam float64) float64 {
					return lam * rate * safeExp(lam*et)
				}, b.matrices[d1Idx[i]], c, false)
			}
			if wantD2 {
				expand(func(lam float64) float64 {
					return lam * lam * rate * rate * safeExp(lam*et)
				}, b.matrices[d2Idx[i]], c, false)
			}
		}
	}
	return kernel.Success
}

// rowSumAbs is a small diagnostic helper mirroring codon.Sum: the absolute
// row sum of an S x S transition matrix slice for one category, used by
// tests checking row-stochasticity.
func rowSumAbs(m []float64, s, row int) float64 {
	sum := 0.0
	for col := 0; col < s; col++ {
		sum += math.Abs(m[row*s+col])
	}
	return sum
}
