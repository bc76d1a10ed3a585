package vector

import (
	"github.com/gonum/matrix/mat64"

	"bitbucket.org/Davydov/beagle/kernel"
)

func clampEdgeLength(t float64) float64 {
	if t < 0 {
		return 0
	}
	return t
}

// UpdateTransitionMatrices mirrors scalar's eigen-reconstruction: the
// problem itself is a small S x S matter per (branch,
// category), not worth dispatching through BLAS, so it is built with the
// same mat64 product chain as the scalar backend.
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

	// clampNeg is only valid for the probability matrix: the derivative
	// matrices are legitimately signed (diagonal dM/dt entries are
	// negative) and must pass through unclamped.
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
