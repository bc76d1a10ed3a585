package vector

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/beagle/kernel"
	"bitbucket.org/Davydov/beagle/tree"
)

// jcEigen mirrors scalar's jcEigen: the standard 4-state Jukes-Cantor
// eigen-decomposition, eigenvalues [0, -4/3, -4/3, -4/3].
func jcEigen() (evec, ievec, eval []float64) {
	evec = []float64{
		1, 1, 0, 0,
		1, 0, 1, 0,
		1, 0, 0, 1,
		1, -1, -1, -1,
	}
	ievec = []float64{
		1.0 / 4, 1.0 / 4, 1.0 / 4, 1.0 / 4,
		3.0 / 4, -1.0 / 4, -1.0 / 4, -1.0 / 4,
		-1.0 / 4, 3.0 / 4, -1.0 / 4, -1.0 / 4,
		-1.0 / 4, -1.0 / 4, 3.0 / 4, -1.0 / 4,
	}
	eval = []float64{0, -4.0 / 3, -4.0 / 3, -4.0 / 3}
	return
}

func newJCBackend(tst *testing.T, sizing kernel.Sizing) *Backend {
	b := &Backend{}
	require.NoError(tst, b.CreateBuffers(sizing))
	evec, ievec, eval := jcEigen()
	require.Equal(tst, kernel.Success, b.SetEigenDecomposition(0, evec, ievec, eval))
	return b
}

func uniformFreqs(s int) []float64 {
	f := make([]float64, s)
	for i := range f {
		f[i] = 1.0 / float64(s)
	}
	return f
}

func onehot(s, state int) []float64 {
	v := make([]float64, s)
	v[state] = 1
	return v
}

// treePlan mirrors scalar's helper of the same name: it derives a
// Felsenstein peeling schedule from a parsed Newick topology so a scenario
// test can drive the kernels from an actual tree instead of a hand-wired
// operation list.
type treePlan struct {
	tipIndex  map[string]int
	probIdx   []int
	branchLen []float64
	ops       []kernel.Op
	root      *tree.Node
	bufOf     map[*tree.Node]int
}

func (p *treePlan) rootBuffer() int { return p.bufOf[p.root] }

func buildTreePlan(tst *testing.T, newick string) *treePlan {
	tr, err := tree.ParseNewick(strings.NewReader(newick))
	require.NoError(tst, err)

	tips := tr.TipIndices()
	matrixOf := map[*tree.Node]int{}
	plan := &treePlan{tipIndex: tips, bufOf: map[*tree.Node]int{}}
	for node := range tr.Walker(func(n *tree.Node) bool { return !n.IsRoot() }) {
		matrixOf[node] = len(plan.probIdx)
		plan.probIdx = append(plan.probIdx, matrixOf[node])
		plan.branchLen = append(plan.branchLen, node.BranchLength)
	}

	bufferOf := func(n *tree.Node) int {
		if n.IsTerminal() {
			return tips[n.Name]
		}
		return plan.bufOf[n]
	}

	next := len(tips)
	destScaling := len(tips) + 1
	order := tr.PostOrder()
	for _, node := range order {
		children := node.ChildNodes()
		require.Len(tst, children, 2, "buildTreePlan assumes strictly binary topologies")
		plan.ops = append(plan.ops, kernel.Op{
			Dest: next, DestScaling: destScaling,
			Child1: bufferOf(children[0]), Child1Matrix: matrixOf[children[0]],
			Child2: bufferOf(children[1]), Child2Matrix: matrixOf[children[1]],
		})
		plan.bufOf[node] = next
		next++
		destScaling++
	}
	plan.root = order[len(order)-1]
	return plan
}

func TestRoundTripPartials(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 2, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 2}
	b := &Backend{}
	require.NoError(tst, b.CreateBuffers(sizing))

	in := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	require.Equal(tst, kernel.Success, b.SetPartials(2, in))
	out := make([]float64, len(in))
	require.Equal(tst, kernel.Success, b.GetPartials(2, out))
	require.Equal(tst, in, out)
}

func TestTransitionMatrixRowStochastic(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 2, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 1}
	b := newJCBackend(tst, sizing)
	require.Equal(tst, kernel.Success, b.SetCategoryRates([]float64{0.5, 1.5}))
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0}, nil, nil, []float64{0.37}))

	for c := 0; c < 2; c++ {
		for row := 0; row < 4; row++ {
			sum := 0.0
			base := c*16 + row*4
			for col := 0; col < 4; col++ {
				sum += math.Abs(b.matrices[0][base+col])
			}
			require.InDelta(tst, 1.0, sum, 1e-10)
		}
	}
}

func TestZeroBranchIsIdentity(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 1}
	b := newJCBackend(tst, sizing)
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0}, nil, nil, []float64{0}))

	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			want := 0.0
			if row == col {
				want = 1.0
			}
			require.InDelta(tst, want, b.matrices[0][b.matrixIndex(0, row, col)], 1e-9)
		}
	}
}

// compact-tip shortcut in computeChildBlock vs the gemm path must agree.
func TestCompactMatchesGemmPath(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 2}

	run := func(useCompact bool) []float64 {
		b := newJCBackend(tst, sizing)
		require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0, 1}, nil, nil, []float64{0.2, 0}))

		if useCompact {
			require.Equal(tst, kernel.Success, b.SetTipStates(0, []int{0}))
		} else {
			require.Equal(tst, kernel.Success, b.SetPartials(0, onehot(4, 0)))
		}
		require.Equal(tst, kernel.Success, b.SetPartials(1, onehot(4, 0)))

		ops := []kernel.Op{{Dest: 2, DestScaling: 3, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 1}}
		require.Equal(tst, kernel.Success, b.UpdatePartials(ops, false))

		out := make([]float64, sizing.StateCount)
		require.Equal(tst, kernel.Success, b.GetPartials(2, out))
		return out
	}

	compact, partials := run(true), run(false)
	for s := range compact {
		require.InDelta(tst, partials[s], compact[s], 1e-12)
	}
}

// The Jukes-Cantor 2-tip scenario, exercised through the gemm-batched
// UpdatePartials peeling path (rather than a direct edge-kernel call) to
// additionally cover computeChildBlock.
func TestPeelingJukesCantorTwoTip(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 1}
	b := newJCBackend(tst, sizing)
	require.Equal(tst, kernel.Success, b.SetPartials(0, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.SetPartials(1, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0}, nil, nil, []float64{0.1}))

	ops := []kernel.Op{{Dest: 2, DestScaling: 3, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 0}}
	require.Equal(tst, kernel.Success, b.UpdatePartials(ops, false))

	out := make([]float64, 1)
	req := kernel.RootRequest{
		BufferIndices: []int{2}, Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: out,
	}
	require.Equal(tst, kernel.Success, b.CalculateRootLogLikelihoods(req))

	same := 0.25 + 0.75*math.Exp(-4.0/3.0*0.1)
	diff := 0.25 - 0.25*math.Exp(-4.0/3.0*0.1)
	want := math.Log(0.25*same*same + 0.75*diff*diff)
	require.InDelta(tst, want, out[0], 1e-9)
}

// A cherry parsed straight out of Newick, peeled via buildTreePlan's
// derived operation list rather than a hand-wired Op, must still reduce to
// the closed-form Jukes-Cantor two-tip likelihood.
func TestPeelingFromParsedTree(tst *testing.T) {
	plan := buildTreePlan(tst, "(A:0.1,B:0.1):0;")
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: len(plan.tipIndex),
		PartialsBufferCount: len(plan.tipIndex) + len(plan.ops), CompactBufferCount: len(plan.tipIndex),
		EigenBufferCount: 1, MatrixBufferCount: len(plan.probIdx)}
	b := newJCBackend(tst, sizing)

	require.Equal(tst, kernel.Success, b.SetPartials(plan.tipIndex["A"], onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.SetPartials(plan.tipIndex["B"], onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, plan.probIdx, nil, nil, plan.branchLen))
	require.Equal(tst, kernel.Success, b.UpdatePartials(plan.ops, false))

	rootOut := make([]float64, 1)
	req := kernel.RootRequest{
		BufferIndices: []int{plan.rootBuffer()}, Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: rootOut,
	}
	require.Equal(tst, kernel.Success, b.CalculateRootLogLikelihoods(req))

	wantSame := 0.25 + 0.75*math.Exp(-4.0/3.0*0.1)
	wantDiff := 0.25 - 0.25*math.Exp(-4.0/3.0*0.1)
	want := math.Log(0.25*wantSame*wantSame + 0.75*wantDiff*wantDiff)
	require.InDelta(tst, want, rootOut[0], 1e-9)
}

// root-edge equivalence: a zero-length peel into a root buffer must equal
// the direct edge integration between the two tips, mirroring scalar's
// TestRootEdgeEquivalence but routed through the gemm-backed peel and the
// Dot-backed edge kernel.
func TestRootEdgeEquivalence(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 2}
	b := newJCBackend(tst, sizing)

	require.Equal(tst, kernel.Success, b.SetPartials(0, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.SetPartials(1, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0, 1}, nil, nil, []float64{0.2, 0}))

	ops := []kernel.Op{{Dest: 2, DestScaling: 3, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 1}}
	require.Equal(tst, kernel.Success, b.UpdatePartials(ops, false))

	rootOut := make([]float64, 1)
	rootReq := kernel.RootRequest{
		BufferIndices: []int{2}, Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: rootOut,
	}
	require.Equal(tst, kernel.Success, b.CalculateRootLogLikelihoods(rootReq))

	edgeOut := make([]float64, 1)
	edgeReq := kernel.EdgeRequest{
		ParentIndices: []int{0}, ChildIndices: []int{1}, ProbIndices: []int{0},
		Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: edgeOut,
	}
	require.Equal(tst, kernel.Success, b.CalculateEdgeLogLikelihoods(edgeReq))

	require.InDelta(tst, edgeOut[0], rootOut[0], 1e-9)
}

// edge-likelihood derivative correctness against a central finite
// difference, exercising edgeRowDot's blas64.Dot path plus the derivative
// accumulation, mirroring scalar's TestDerivativeMatchesFiniteDifference.
func TestDerivativeMatchesFiniteDifference(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 2, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 3}

	logLAt := func(t float64) float64 {
		b := newJCBackend(tst, sizing)
		require.Equal(tst, kernel.Success, b.SetPartials(0, onehot(4, 0)))
		require.Equal(tst, kernel.Success, b.SetPartials(1, onehot(4, 0)))
		require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0}, nil, nil, []float64{t}))
		out := make([]float64, 1)
		req := kernel.EdgeRequest{
			ParentIndices: []int{0}, ChildIndices: []int{1}, ProbIndices: []int{0},
			Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
			ScalingIndices: [][]int{nil}, OutSiteLogL: out,
		}
		require.Equal(tst, kernel.Success, b.CalculateEdgeLogLikelihoods(req))
		return out[0]
	}

	const t0 = 0.3
	const h = 1e-4
	fd := (logLAt(t0+h) - logLAt(t0-h)) / (2 * h)

	b := newJCBackend(tst, sizing)
	require.Equal(tst, kernel.Success, b.SetPartials(0, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.SetPartials(1, onehot(4, 0)))
	require.Equal(tst, kernel.Success, b.UpdateTransitionMatrices(0, []int{0}, []int{1}, nil, []float64{t0}))
	out := make([]float64, 1)
	d1 := make([]float64, 1)
	req := kernel.EdgeRequest{
		ParentIndices: []int{0}, ChildIndices: []int{1}, ProbIndices: []int{0}, FirstDerivIndices: []int{1},
		Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: out, OutFirstDerivative: d1,
	}
	require.Equal(tst, kernel.Success, b.CalculateEdgeLogLikelihoods(req))

	require.InDelta(tst, fd, d1[0], 1e-6)
}

func TestOutOfRangeIndices(tst *testing.T) {
	sizing := kernel.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: 2, PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 1}
	b := newJCBackend(tst, sizing)

	require.Equal(tst, kernel.ErrOutOfRange, b.SetPartials(99, onehot(4, 0)))
	require.Equal(tst, kernel.ErrOutOfRange, b.GetPartials(-1, make([]float64, 4)))
	require.Equal(tst, kernel.ErrOutOfRange, b.UpdateTransitionMatrices(99, []int{0}, nil, nil, []float64{0.1}))
}
