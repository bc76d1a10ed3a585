// Package vector implements the vectorized CPU backend: the same four
// kernels as scalar, but with the Felsenstein recursion's per-category
// child contraction expressed as a single BLAS matrix-matrix product
// across every pattern at once (github.com/gonum/blas's blas64.Gemm)
// instead of scalar's per-pattern, per-state nested loops.
//
// "Vectorized" describes the arithmetic, not the scheduling: like scalar,
// this backend is synchronous and completes every call before returning.
package vector

import (
	"math"

	"github.com/gonum/blas"
	"github.com/gonum/blas/blas64"
	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"

	"bitbucket.org/Davydov/beagle/kernel"
	"bitbucket.org/Davydov/beagle/resource"
)

var log = logging.MustGetLogger("vector")

func init() {
	resource.Register("CPU-vector", resource.Double|resource.Sync|resource.CPU|resource.SSE, New)
}

type eigenBuffer struct {
	u     *mat64.Dense
	uinv  *mat64.Dense
	gamma []float64
}

// Backend is the CPU vectorized engine.
type Backend struct {
	sizing kernel.Sizing

	partials     [][]float64
	compact      [][]int
	tipIsCompact []bool

	eigen    []*eigenBuffer
	matrices [][]float64
	rates    []float64

	scale map[int][]float64

	diag *mat64.Dense
}

// New is the resource.Factory registered under "CPU-vector".
func New(sizing kernel.Sizing) (kernel.Backend, error) {
	b := &Backend{}
	if err := b.CreateBuffers(sizing); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) CreateBuffers(sizing kernel.Sizing) error {
	s, p, c := sizing.StateCount, sizing.PatternCount, sizing.CategoryCount
	b.sizing = sizing

	b.partials = make([][]float64, sizing.PartialsBufferCount)
	for i := range b.partials {
		b.partials[i] = make([]float64, s*p*c)
	}
	b.compact = make([][]int, sizing.CompactBufferCount)
	for i := range b.compact {
		b.compact[i] = make([]int, p)
	}
	b.tipIsCompact = make([]bool, sizing.TipCount)

	b.eigen = make([]*eigenBuffer, sizing.EigenBufferCount)
	b.matrices = make([][]float64, sizing.MatrixBufferCount)
	for i := range b.matrices {
		b.matrices[i] = make([]float64, s*s*c)
	}
	b.rates = make([]float64, c)
	for i := range b.rates {
		b.rates[i] = 1
	}
	b.scale = make(map[int][]float64)
	b.diag = mat64.NewDense(s, s, nil)

	log.Debugf("allocated vector buffers: S=%d P=%d C=%d T=%d Bp=%d Bc=%d Be=%d Bm=%d",
		s, p, c, sizing.TipCount, sizing.PartialsBufferCount, sizing.CompactBufferCount,
		sizing.EigenBufferCount, sizing.MatrixBufferCount)
	return nil
}

func (b *Backend) Synchronous() bool { return true }

func (b *Backend) Finalize() kernel.ErrorCode {
	b.partials, b.compact, b.eigen, b.matrices, b.scale = nil, nil, nil, nil, nil
	return kernel.Success
}

func (b *Backend) partialsIndex(c, p, s int) int {
	S, P := b.sizing.StateCount, b.sizing.PatternCount
	return c*P*S + p*S + s
}

func (b *Backend) matrixIndex(c, row, col int) int {
	S := b.sizing.StateCount
	return c*S*S + row*S + col
}

func (b *Backend) SetPartials(bufferIndex int, in []float64) kernel.ErrorCode {
	if bufferIndex < 0 || bufferIndex >= len(b.partials) || len(in) != len(b.partials[bufferIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(b.partials[bufferIndex], in)
	if bufferIndex < b.sizing.TipCount {
		b.tipIsCompact[bufferIndex] = false
	}
	return kernel.Success
}

func (b *Backend) GetPartials(bufferIndex int, out []float64) kernel.ErrorCode {
	if bufferIndex < 0 || bufferIndex >= len(b.partials) || len(out) != len(b.partials[bufferIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(out, b.partials[bufferIndex])
	return kernel.Success
}

func (b *Backend) SetTipStates(tipIndex int, in []int) kernel.ErrorCode {
	if tipIndex < 0 || tipIndex >= len(b.compact) || len(in) != b.sizing.PatternCount {
		return kernel.ErrOutOfRange
	}
	for _, st := range in {
		if st < 0 || st > b.sizing.StateCount {
			return kernel.ErrOutOfRange
		}
	}
	copy(b.compact[tipIndex], in)
	if tipIndex < b.sizing.TipCount {
		b.tipIsCompact[tipIndex] = true
	}
	return kernel.Success
}

func (b *Backend) SetEigenDecomposition(eigenIndex int, evec, ievec, eval []float64) kernel.ErrorCode {
	if eigenIndex < 0 || eigenIndex >= len(b.eigen) {
		return kernel.ErrOutOfRange
	}
	s := b.sizing.StateCount
	if len(evec) != s*s || len(ievec) != s*s || len(eval) != s {
		return kernel.ErrOutOfRange
	}
	u := make([]float64, s*s)
	copy(u, evec)
	uinv := make([]float64, s*s)
	copy(uinv, ievec)
	gamma := make([]float64, s)
	copy(gamma, eval)
	b.eigen[eigenIndex] = &eigenBuffer{u: mat64.NewDense(s, s, u), uinv: mat64.NewDense(s, s, uinv), gamma: gamma}
	return kernel.Success
}

func (b *Backend) SetCategoryRates(rates []float64) kernel.ErrorCode {
	if len(rates) != len(b.rates) {
		return kernel.ErrOutOfRange
	}
	copy(b.rates, rates)
	return kernel.Success
}

func (b *Backend) SetTransitionMatrix(matrixIndex int, in []float64) kernel.ErrorCode {
	if matrixIndex < 0 || matrixIndex >= len(b.matrices) || len(in) != len(b.matrices[matrixIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(b.matrices[matrixIndex], in)
	return kernel.Success
}

func (b *Backend) GetScaleFactors(bufferIndex int, out []float64) kernel.ErrorCode {
	if bufferIndex <= b.sizing.TipCount || len(out) != b.sizing.PatternCount {
		return kernel.ErrOutOfRange
	}
	sf, ok := b.scale[bufferIndex]
	if !ok {
		for i := range out {
			out[i] = 0
		}
		return kernel.Success
	}
	copy(out, sf)
	return kernel.Success
}

func (b *Backend) SetScaleFactors(bufferIndex int, in []float64) kernel.ErrorCode {
	if bufferIndex <= b.sizing.TipCount || len(in) != b.sizing.PatternCount {
		return kernel.ErrOutOfRange
	}
	sf := make([]float64, len(in))
	copy(sf, in)
	b.scale[bufferIndex] = sf
	return kernel.Success
}

func safeExp(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > 700:
		return math.Exp(700)
	case x < -700:
		return 0
	default:
		return math.Exp(x)
	}
}

// matrixGeneral returns a blas64.General view (no copy) over the S x S
// transition-matrix slab of matrixIndex at category c.
func (b *Backend) matrixGeneral(matrixIndex, c int) blas64.General {
	S := b.sizing.StateCount
	return blas64.General{Rows: S, Cols: S, Stride: S, Data: b.matrices[matrixIndex][c*S*S : c*S*S+S*S]}
}

// partialsGeneral returns a blas64.General view (no copy) over the P x S
// slab of a partials buffer at category c: this is valid because the
// buffer layout (category-major, pattern-major, state-fastest) makes that
// slab contiguous and already row-major.
func (b *Backend) partialsGeneral(bufferIndex, c int) blas64.General {
	S, P := b.sizing.StateCount, b.sizing.PatternCount
	return blas64.General{Rows: P, Cols: S, Stride: S, Data: b.partials[bufferIndex][c*P*S : c*P*S+P*S]}
}

var blasImpl = blas64.Implementation()

// gemmChildTransform computes, for every pattern at once,
// out[p,s] = Σ_s' child[p,s'] * M[s,s'], i.e. child * M^T, via a single
// Dgemm call (blas.NoTrans on child, blas.Trans on M).
func gemmChildTransform(child, m, out blas64.General) {
	blasImpl.Dgemm(blas.NoTrans, blas.Trans, out.Rows, out.Cols, m.Rows,
		1, child.Data, child.Stride, m.Data, m.Stride,
		0, out.Data, out.Stride)
}
