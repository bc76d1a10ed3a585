// Package kernel defines the numeric contract shared by every backend: the
// sizing constants of an instance, the closed error taxonomy, and the
// Backend interface a scalar, vectorized, or GPU implementation realizes.
//
// kernel itself performs no computation. It exists so that resource
// (which registers backend factories) and the backend packages (scalar,
// vector, ...) can agree on a shape without importing the beagle facade,
// and so beagle can dispatch to whichever backend an instance selected
// without knowing which package produced it.
package kernel

import "fmt"

// ErrorCode is the closed taxonomy of failure returned at the public
// boundary. A zero value means success; every other returned ErrorCode is
// negative, mirroring the BeagleReturnCodes enumeration this library's
// API is modeled on.
type ErrorCode int

// Success and the closed set of error kinds. No other values are ever
// returned across a public entry point.
const (
	Success                  ErrorCode = 0
	ErrGeneral               ErrorCode = -1
	ErrOutOfMemory           ErrorCode = -2
	ErrUnidentifiedException ErrorCode = -3
	ErrUninitializedInstance ErrorCode = -4
	ErrOutOfRange            ErrorCode = -5
)

func (e ErrorCode) Error() string {
	switch e {
	case Success:
		return "success"
	case ErrGeneral:
		return "general error"
	case ErrOutOfMemory:
		return "out of memory"
	case ErrUnidentifiedException:
		return "unidentified exception"
	case ErrUninitializedInstance:
		return "uninitialized instance"
	case ErrOutOfRange:
		return "index out of range"
	default:
		return fmt.Sprintf("unknown error code %d", int(e))
	}
}

// Sizing holds the eight constants that parameterize an instance for its
// entire lifetime.
type Sizing struct {
	StateCount          int // S
	PatternCount        int // P
	CategoryCount       int // C
	TipCount            int // T
	PartialsBufferCount int // B_p
	CompactBufferCount  int // B_c
	EigenBufferCount    int // B_e
	MatrixBufferCount   int // B_m
}

// Op is one 6-tuple entry of an updatePartials operation list:
// (Dest, DestScaling, Child1, Child1Matrix, Child2, Child2Matrix).
type Op struct {
	Dest         int
	DestScaling  int
	Child1       int
	Child1Matrix int
	Child2       int
	Child2Matrix int
}

// RootRequest bundles the arguments of calculateRootLogLikelihoods for one
// call. Each slice indexed by i corresponds to one of the
// len(BufferIndices) root buffers being integrated; Weights[i] has CategoryCount entries and
// Freqs[i] has StateCount entries.
type RootRequest struct {
	BufferIndices  []int
	Weights        [][]float64
	Freqs          [][]float64
	ScalingIndices [][]int
	OutSiteLogL    []float64
}

// EdgeRequest bundles the arguments of calculateEdgeLogLikelihoods for one
// call. OutFirstDerivative/OutSecondDerivative are nil when derivatives were not
// requested (FirstDerivIndices/SecondDerivIndices are nil, respectively).
type EdgeRequest struct {
	ParentIndices       []int
	ChildIndices        []int
	ProbIndices         []int
	FirstDerivIndices   []int
	SecondDerivIndices  []int
	Weights             [][]float64
	Freqs               [][]float64
	ScalingIndices      [][]int
	OutSiteLogL         []float64
	OutFirstDerivative  []float64
	OutSecondDerivative []float64
}

// Backend is the capability set every engine (scalar, vectorized, GPU)
// implements. An instance holds exactly one Backend, selected and fixed at
// initialization time: a single dispatch per instance keeps inner loops
// monomorphic.
type Backend interface {
	// CreateBuffers allocates every buffer named by sizing. Called once,
	// by the backend's factory before it returns.
	CreateBuffers(sizing Sizing) error

	SetPartials(bufferIndex int, in []float64) ErrorCode
	GetPartials(bufferIndex int, out []float64) ErrorCode
	SetTipStates(tipIndex int, in []int) ErrorCode
	SetEigenDecomposition(eigenIndex int, evec, ievec, eval []float64) ErrorCode
	SetCategoryRates(rates []float64) ErrorCode
	SetTransitionMatrix(matrixIndex int, in []float64) ErrorCode
	GetScaleFactors(bufferIndex int, out []float64) ErrorCode
	SetScaleFactors(bufferIndex int, in []float64) ErrorCode

	UpdateTransitionMatrices(eigenIndex int, probIdx, d1Idx, d2Idx []int, edgeLengths []float64) ErrorCode
	UpdatePartials(ops []Op, rescale bool) ErrorCode
	WaitForPartials(destIndices []int) ErrorCode

	CalculateRootLogLikelihoods(req RootRequest) ErrorCode
	CalculateEdgeLogLikelihoods(req EdgeRequest) ErrorCode

	// Synchronous reports whether this backend completes every call
	// before returning. Asynchronous backends may still
	// report true for Backend methods that happen to run inline; the
	// contract only requires that WaitForPartials/GetPartials observe
	// completed writes.
	Synchronous() bool

	Finalize() ErrorCode
}
