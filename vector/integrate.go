package vector

import (
	"math"

	"github.com/gonum/blas/blas64"

	"bitbucket.org/Davydov/beagle/kernel"
)

func (b *Backend) scalingCorrection(indices []int, p int) float64 {
	if len(indices) == 0 {
		return 1
	}
	logSum := 0.0
	for _, idx := range indices {
		sf, ok := b.scale[idx]
		if ok {
			logSum += sf[p]
		}
	}
	return safeExp(logSum)
}

func (b *Backend) siteSum(p int, weights, freqs []float64, transform func(c, s int) float64) float64 {
	S, C := b.sizing.StateCount, b.sizing.CategoryCount
	res := 0.0
	for s := 0; s < S; s++ {
		catSum := 0.0
		for c := 0; c < C; c++ {
			catSum += weights[c] * transform(c, s)
		}
		res += freqs[s] * catSum
	}
	return res
}

// CalculateRootLogLikelihoods contracts category/state partials at the
// root into a per-pattern log-likelihood, one pattern at a time with the
// same loop as scalar's root integration.
func (b *Backend) CalculateRootLogLikelihoods(req kernel.RootRequest) kernel.ErrorCode {
	k := len(req.BufferIndices)
	S, C, P := b.sizing.StateCount, b.sizing.CategoryCount, b.sizing.PatternCount
	if len(req.Weights) != k || len(req.Freqs) != k || len(req.ScalingIndices) != k {
		return kernel.ErrOutOfRange
	}
	if len(req.OutSiteLogL) != P {
		return kernel.ErrOutOfRange
	}
	for i := 0; i < k; i++ {
		idx := req.BufferIndices[i]
		if idx < 0 || idx >= len(b.partials) {
			return kernel.ErrOutOfRange
		}
		if len(req.Weights[i]) != C || len(req.Freqs[i]) != S {
			return kernel.ErrOutOfRange
		}
	}

	for p := 0; p < P; p++ {
		total := 0.0
		for i := 0; i < k; i++ {
			root := b.partials[req.BufferIndices[i]]
			rawL := b.siteSum(p, req.Weights[i], req.Freqs[i], func(c, s int) float64 {
				return root[b.partialsIndex(c, p, s)]
			})
			total += rawL * b.scalingCorrection(req.ScalingIndices[i], p)
		}
		req.OutSiteLogL[p] = math.Log(total)
	}
	return kernel.Success
}

// edgeRowDot contracts one parent state's row of the transition matrix
// against the child's conditional likelihood vector via blas64.Dot, in
// place of scalar's hand-rolled accumulation loop.
func edgeRowDot(matRow, child []float64) float64 {
	n := len(matRow)
	return blas64.Dot(n, blas64.Vector{Inc: 1, Data: matRow}, blas64.Vector{Inc: 1, Data: child})
}

// CalculateEdgeLogLikelihoods contracts parent and transformed-child
// partials across an edge into log-likelihood plus its first and second
// derivatives with respect to branch length.
func (b *Backend) CalculateEdgeLogLikelihoods(req kernel.EdgeRequest) kernel.ErrorCode {
	k := len(req.ParentIndices)
	S, C, P := b.sizing.StateCount, b.sizing.CategoryCount, b.sizing.PatternCount
	if len(req.ChildIndices) != k || len(req.ProbIndices) != k ||
		len(req.Weights) != k || len(req.Freqs) != k || len(req.ScalingIndices) != k {
		return kernel.ErrOutOfRange
	}
	wantD1 := req.FirstDerivIndices != nil
	wantD2 := req.SecondDerivIndices != nil
	if wantD1 && len(req.FirstDerivIndices) != k {
		return kernel.ErrOutOfRange
	}
	if wantD2 && len(req.SecondDerivIndices) != k {
		return kernel.ErrOutOfRange
	}
	if len(req.OutSiteLogL) != P {
		return kernel.ErrOutOfRange
	}
	if wantD1 && len(req.OutFirstDerivative) != P {
		return kernel.ErrOutOfRange
	}
	if wantD2 && len(req.OutSecondDerivative) != P {
		return kernel.ErrOutOfRange
	}
	for i := 0; i < k; i++ {
		if req.ParentIndices[i] < 0 || req.ParentIndices[i] >= len(b.partials) {
			return kernel.ErrOutOfRange
		}
		if req.ChildIndices[i] < 0 || req.ChildIndices[i] >= len(b.partials) {
			return kernel.ErrOutOfRange
		}
		if req.ProbIndices[i] < 0 || req.ProbIndices[i] >= len(b.matrices) {
			return kernel.ErrOutOfRange
		}
		if wantD1 && (req.FirstDerivIndices[i] < 0 || req.FirstDerivIndices[i] >= len(b.matrices)) {
			return kernel.ErrOutOfRange
		}
		if wantD2 && (req.SecondDerivIndices[i] < 0 || req.SecondDerivIndices[i] >= len(b.matrices)) {
			return kernel.ErrOutOfRange
		}
		if len(req.Weights[i]) != C || len(req.Freqs[i]) != S {
			return kernel.ErrOutOfRange
		}
	}

	// childTerm mirrors computeChildBlock's compact-tip shortcut: a tip
	// populated via SetTipStates is looked up directly rather than dotted
	// against a zero-filled partials slot.
	childTerm := func(row []float64, childIdx, c, p int) float64 {
		if childIdx < b.sizing.TipCount && b.tipIsCompact[childIdx] {
			state := b.compact[childIdx][p]
			if state == S {
				sum := 0.0
				for _, v := range row {
					sum += v
				}
				return sum
			}
			return row[state]
		}
		child := b.partials[childIdx][b.partialsIndex(c, p, 0) : b.partialsIndex(c, p, 0)+S]
		return edgeRowDot(row, child)
	}

	edgeSum := func(matrixIdx, parentIdx, childIdx, p int, weights, freqs []float64) float64 {
		return b.siteSum(p, weights, freqs, func(c, s int) float64 {
			parent := b.partials[parentIdx][b.partialsIndex(c, p, s)]
			row := b.matrices[matrixIdx][c*S*S+s*S : c*S*S+s*S+S]
			return parent * childTerm(row, childIdx, c, p)
		})
	}

	for p := 0; p < P; p++ {
		totalL, totalD1, totalD2 := 0.0, 0.0, 0.0
		for i := 0; i < k; i++ {
			correction := b.scalingCorrection(req.ScalingIndices[i], p)
			l := edgeSum(req.ProbIndices[i], req.ParentIndices[i], req.ChildIndices[i], p, req.Weights[i], req.Freqs[i])
			totalL += l * correction
			if wantD1 {
				d1 := edgeSum(req.FirstDerivIndices[i], req.ParentIndices[i], req.ChildIndices[i], p, req.Weights[i], req.Freqs[i])
				totalD1 += d1 * correction
			}
			if wantD2 {
				d2 := edgeSum(req.SecondDerivIndices[i], req.ParentIndices[i], req.ChildIndices[i], p, req.Weights[i], req.Freqs[i])
				totalD2 += d2 * correction
			}
		}
		req.OutSiteLogL[p] = math.Log(totalL)
		if wantD1 {
			req.OutFirstDerivative[p] = totalD1 / totalL
		}
		if wantD2 {
			d1overL := totalD1 / totalL
			req.OutSecondDerivative[p] = totalD2/totalL - d1overL*d1overL
		}
	}
	return kernel.Success
}
