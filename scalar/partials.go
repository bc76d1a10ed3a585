package scalar

import (
	"math"

	"bitbucket.org/Davydov/beagle/kernel"
)

// childContribution writes into out[s] (length S) the quantity
// Σ_s' M[c, s, s'] * partials[c,p,s'] for every parent state s, for one
// (category, pattern) pair and one child. This is the per-child factor of
// the Felsenstein recursion.
//
// When the child is a tip populated via SetTipStates, it takes the
// compact-state shortcut instead of a full dot product: M[c,s,state] for
// an observed state, or the row sum Σ_s' M[c,s,s'] for the missing
// sentinel, exactly as cmodel.fullSubL special-cases codon.NOCODON.
func (b *Backend) childContribution(c, p, child, childMatrix int, out []float64) {
	S := b.sizing.StateCount
	mat := b.matrices[childMatrix][c*S*S : c*S*S+S*S]

	if child < b.sizing.TipCount && b.tipIsCompact[child] {
		state := b.compact[child][p]
		for s := 0; s < S; s++ {
			row := mat[s*S : s*S+S]
			if state == S {
				sum := 0.0
				for _, v := range row {
					sum += v
				}
				out[s] = sum
			} else {
				out[s] = row[state]
			}
		}
		return
	}

	cplh := b.partials[child][b.partialsIndex(c, p, 0) : b.partialsIndex(c, p, 0)+S]
	for s := 0; s < S; s++ {
		row := mat[s*S : s*S+S]
		sum := 0.0
		for s2 := 0; s2 < S; s2++ {
			sum += row[s2] * cplh[s2]
		}
		out[s] = sum
	}
}

// validateOp checks every index an Op references is within range and that
// destScaling is strictly greater than tipCount, so a scaling-history
// buffer never aliases a tip.
func (b *Backend) validateOp(op kernel.Op) kernel.ErrorCode {
	T := b.sizing.TipCount
	np := len(b.partials)
	nm := len(b.matrices)
	if op.Dest < 0 || op.Dest >= np || op.Child1 < 0 || op.Child1 >= np || op.Child2 < 0 || op.Child2 >= np {
		return kernel.ErrOutOfRange
	}
	if op.Child1Matrix < 0 || op.Child1Matrix >= nm || op.Child2Matrix < 0 || op.Child2Matrix >= nm {
		return kernel.ErrOutOfRange
	}
	if op.DestScaling <= T {
		return kernel.ErrOutOfRange
	}
	return kernel.Success
}

// UpdatePartials runs the Felsenstein peeling recursion for every operation
// in ops, in order: an op's inputs are either pre-existing buffers or an
// earlier op's dest in the same list, so a caller-ordered list is also a
// valid dependency order. This is a direct generalization of
// cmodel.BaseModel.fullSubL from a fixed codon alphabet/tree walk to an
// explicit operation list over arbitrary state/category counts.
func (b *Backend) UpdatePartials(ops []kernel.Op, rescale bool) kernel.ErrorCode {
	S, P, C := b.sizing.StateCount, b.sizing.PatternCount, b.sizing.CategoryCount

	for _, op := range ops {
		if ec := b.validateOp(op); ec != kernel.Success {
			return ec
		}
	}

	left := make([]float64, S)
	right := make([]float64, S)

	for _, op := range ops {
		dest := b.partials[op.Dest]

		for p := 0; p < P; p++ {
			maxVal := 0.0
			for c := 0; c < C; c++ {
				b.childContribution(c, p, op.Child1, op.Child1Matrix, left)
				b.childContribution(c, p, op.Child2, op.Child2Matrix, right)
				base := b.partialsIndex(c, p, 0)
				for s := 0; s < S; s++ {
					v := left[s] * right[s]
					dest[base+s] = v
					if v > maxVal {
						maxVal = v
					}
				}
			}

			if rescale {
				scaler := maxVal
				if scaler <= 0 || math.IsNaN(scaler) || math.IsInf(scaler, 0) {
					scaler = 1
				}
				for c := 0; c < C; c++ {
					base := b.partialsIndex(c, p, 0)
					for s := 0; s < S; s++ {
						dest[base+s] /= scaler
					}
				}
				sf, ok := b.scale[op.DestScaling]
				if !ok {
					sf = make([]float64, P)
					b.scale[op.DestScaling] = sf
				}
				sf[p] = math.Log(scaler)
			}
		}
	}
	return kernel.Success
}

// WaitForPartials is a no-op on the synchronous scalar backend: every
// UpdatePartials call has already completed by the time it returns.
func (b *Backend) WaitForPartials(destIndices []int) kernel.ErrorCode {
	for _, idx := range destIndices {
		if idx < 0 || idx >= len(b.partials) {
			return kernel.ErrOutOfRange
		}
	}
	return kernel.Success
}
