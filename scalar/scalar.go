// Package scalar implements the CPU scalar double-precision backend: the
// reference realization of the transition-matrix, peeling, and integration
// kernels, grounded on cmodel.BaseModel's peeling loops and cmodel.EMatrix's
// eigen-exponentiation, generalized from a fixed codon model to an
// arbitrary state count, pattern count, and category count supplied at
// instance-creation time.
package scalar

import (
	"math"

	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"

	"bitbucket.org/Davydov/beagle/kernel"
	"bitbucket.org/Davydov/beagle/resource"
)

var log = logging.MustGetLogger("scalar")

func init() {
	resource.Register("CPU-scalar", resource.Double|resource.Sync|resource.CPU, New)
}

// eigenBuffer holds the raw (U, U^-1, lambda) triple copied in verbatim by
// SetEigenDecomposition. Unlike cmodel.EMatrix, scalar never computes an
// eigen-decomposition itself; the caller supplies it, since model
// parameterization lives outside this library's boundary.
type eigenBuffer struct {
	u     *mat64.Dense // S x S
	uinv  *mat64.Dense // S x S
	gamma []float64    // S eigenvalues
}

// Backend is the CPU scalar engine. It is synchronous: every call
// completes before returning, so WaitForPartials is a no-op and reads are
// always consistent.
type Backend struct {
	sizing kernel.Sizing

	partials [][]float64 // B_p buffers, each S*P*C
	compact  [][]int     // B_c buffers, each P
	tipIsCompact []bool  // length TipCount; true if SetTipStates populated this tip index

	eigen    []*eigenBuffer // B_e
	matrices [][]float64    // B_m buffers, each S*S*C
	rates    []float64      // C

	scale map[int][]float64 // destScaling index -> P log-scalers

	// scratch reused across UpdateTransitionMatrices calls to avoid
	// per-branch allocation, mirroring cmodel.ExpBranches' single cD.
	diag *mat64.Dense
}

// New constructs a fresh scalar Backend for the given sizing. It is the
// resource.Factory registered under "CPU-scalar".
func New(sizing kernel.Sizing) (kernel.Backend, error) {
	b := &Backend{}
	if err := b.CreateBuffers(sizing); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBuffers allocates every buffer named by sizing. No per-buffer
// allocation happens after this call; buffers live for the instance's
// whole lifetime.
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

	log.Debugf("allocated scalar buffers: S=%d P=%d C=%d T=%d Bp=%d Bc=%d Be=%d Bm=%d",
		s, p, c, sizing.TipCount, sizing.PartialsBufferCount, sizing.CompactBufferCount,
		sizing.EigenBufferCount, sizing.MatrixBufferCount)
	return nil
}

func (b *Backend) Synchronous() bool { return true }

func (b *Backend) Finalize() kernel.ErrorCode {
	b.partials = nil
	b.compact = nil
	b.eigen = nil
	b.matrices = nil
	b.scale = nil
	return kernel.Success
}

// partialsIndex returns the flat offset of [c,p,s] in a partials buffer,
// state fastest.
func (b *Backend) partialsIndex(c, p, s int) int {
	S, P := b.sizing.StateCount, b.sizing.PatternCount
	return c*P*S + p*S + s
}

// matrixIndex returns the flat offset of [c, row, col] in a transition
// matrix buffer, category-major then row-major S x S.
func (b *Backend) matrixIndex(c, row, col int) int {
	S := b.sizing.StateCount
	return c*S*S + row*S + col
}

func (b *Backend) SetPartials(bufferIndex int, in []float64) kernel.ErrorCode {
	if bufferIndex < 0 || bufferIndex >= len(b.partials) {
		return kernel.ErrOutOfRange
	}
	if len(in) != len(b.partials[bufferIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(b.partials[bufferIndex], in)
	if bufferIndex < b.sizing.TipCount {
		b.tipIsCompact[bufferIndex] = false
	}
	return kernel.Success
}

func (b *Backend) GetPartials(bufferIndex int, out []float64) kernel.ErrorCode {
	if bufferIndex < 0 || bufferIndex >= len(b.partials) {
		return kernel.ErrOutOfRange
	}
	if len(out) != len(b.partials[bufferIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(out, b.partials[bufferIndex])
	return kernel.Success
}

func (b *Backend) SetTipStates(tipIndex int, in []int) kernel.ErrorCode {
	if tipIndex < 0 || tipIndex >= len(b.compact) {
		return kernel.ErrOutOfRange
	}
	if len(in) != b.sizing.PatternCount {
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
	uCopy := make([]float64, s*s)
	copy(uCopy, evec)
	uinvCopy := make([]float64, s*s)
	copy(uinvCopy, ievec)
	gammaCopy := make([]float64, s)
	copy(gammaCopy, eval)
	b.eigen[eigenIndex] = &eigenBuffer{
		u:     mat64.NewDense(s, s, uCopy),
		uinv:  mat64.NewDense(s, s, uinvCopy),
		gamma: gammaCopy,
	}
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
	if matrixIndex < 0 || matrixIndex >= len(b.matrices) {
		return kernel.ErrOutOfRange
	}
	if len(in) != len(b.matrices[matrixIndex]) {
		return kernel.ErrOutOfRange
	}
	copy(b.matrices[matrixIndex], in)
	return kernel.Success
}

func (b *Backend) GetScaleFactors(bufferIndex int, out []float64) kernel.ErrorCode {
	if bufferIndex <= b.sizing.TipCount {
		return kernel.ErrOutOfRange
	}
	if len(out) != b.sizing.PatternCount {
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
	if bufferIndex <= b.sizing.TipCount {
		return kernel.ErrOutOfRange
	}
	if len(in) != b.sizing.PatternCount {
		return kernel.ErrOutOfRange
	}
	sf := make([]float64, len(in))
	copy(sf, in)
	b.scale[bufferIndex] = sf
	return kernel.Success
}

// safeExp clamps its argument before calling math.Exp so that saturated
// branch lengths produce 0 rather than propagating NaN/Inf.
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
