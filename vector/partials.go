package vector

import (
	"math"

	"github.com/gonum/blas/blas64"

	"bitbucket.org/Davydov/beagle/kernel"
)

// computeChildBlock fills out (length P*S, pattern-major state-fastest)
// with the per-child Felsenstein factor for one category: a compact tip
// takes the lookup/row-sum shortcut exactly as scalar.childContribution,
// otherwise the whole P x S slab is produced by one Dgemm call against the
// child's transition matrix, realized across every pattern at once
// instead of scalar's per-pattern loop.
func (b *Backend) computeChildBlock(child, childMatrix, c int, out []float64) {
	S, P := b.sizing.StateCount, b.sizing.PatternCount

	if child < b.sizing.TipCount && b.tipIsCompact[child] {
		mat := b.matrices[childMatrix][c*S*S : c*S*S+S*S]
		for p := 0; p < P; p++ {
			state := b.compact[child][p]
			base := p * S
			for s := 0; s < S; s++ {
				row := mat[s*S : s*S+S]
				if state == S {
					sum := 0.0
					for _, v := range row {
						sum += v
					}
					out[base+s] = sum
				} else {
					out[base+s] = row[state]
				}
			}
		}
		return
	}

	childG := b.partialsGeneral(child, c)
	mG := b.matrixGeneral(childMatrix, c)
	outG := blas64.General{Rows: P, Cols: S, Stride: S, Data: out}
	gemmChildTransform(childG, mG, outG)
}

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

// UpdatePartials runs the peeling recursion: per category, both children's
// contributions are produced as whole P x S slabs (via computeChildBlock)
// and combined with one elementwise pass, rather than scalar's per-pattern
// per-state loop nest.
func (b *Backend) UpdatePartials(ops []kernel.Op, rescale bool) kernel.ErrorCode {
	S, P, C := b.sizing.StateCount, b.sizing.PatternCount, b.sizing.CategoryCount

	for _, op := range ops {
		if ec := b.validateOp(op); ec != kernel.Success {
			return ec
		}
	}

	left := make([]float64, P*S)
	right := make([]float64, P*S)

	for _, op := range ops {
		dest := b.partials[op.Dest]

		for c := 0; c < C; c++ {
			b.computeChildBlock(op.Child1, op.Child1Matrix, c, left)
			b.computeChildBlock(op.Child2, op.Child2Matrix, c, right)
			base := c * P * S
			for i := 0; i < P*S; i++ {
				dest[base+i] = left[i] * right[i]
			}
		}

		if rescale {
			sf, ok := b.scale[op.DestScaling]
			if !ok {
				sf = make([]float64, P)
				b.scale[op.DestScaling] = sf
			}
			for p := 0; p < P; p++ {
				maxVal := 0.0
				for c := 0; c < C; c++ {
					off := c*P*S + p*S
					for s := 0; s < S; s++ {
						if v := dest[off+s]; v > maxVal {
							maxVal = v
						}
					}
				}
				scaler := maxVal
				if scaler <= 0 || math.IsNaN(scaler) || math.IsInf(scaler, 0) {
					scaler = 1
				}
				for c := 0; c < C; c++ {
					off := c*P*S + p*S
					for s := 0; s < S; s++ {
						dest[off+s] /= scaler
					}
				}
				sf[p] = math.Log(scaler)
			}
		}
	}
	return kernel.Success
}

// WaitForPartials is a no-op: the vector backend is synchronous.
func (b *Backend) WaitForPartials(destIndices []int) kernel.ErrorCode {
	for _, idx := range destIndices {
		if idx < 0 || idx >= len(b.partials) {
			return kernel.ErrOutOfRange
		}
	}
	return kernel.Success
}
