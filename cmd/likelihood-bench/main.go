/*

likelihood-bench is a small demonstration binary for the beagle library: it
drives the public API end to end for one of a few built-in scenarios and
prints the resulting site log-likelihoods, in the same relationship to the
library that godon's kingpin-driven CLI has to the cmodel package it links
against — the library itself stays a pure procedural API with no CLI of its
own; this binary is a separate consumer.

	likelihood-bench --backend CPU-vector --scenario two-tip

*/
package main

import (
	"fmt"
	"math"
	"os"

	logging "github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/beagle/beagle"
	"bitbucket.org/Davydov/beagle/rates"

	_ "bitbucket.org/Davydov/beagle/scalar"
	_ "bitbucket.org/Davydov/beagle/vector"
)

var log = logging.MustGetLogger("likelihood-bench")

var (
	app = kingpin.New("likelihood-bench", "demonstration driver for the beagle likelihood evaluator").
		Version("likelihood-bench 1.0")

	backendName = app.Flag("backend", "resource name to require (e.g. CPU-scalar, CPU-vector)").
			Default("CPU-scalar").String()
	scenario = app.Flag("scenario", "built-in scenario to run (two-tip, deep-tree, mixture-rates)").
			Default("two-tip").Enum("two-tip", "deep-tree", "mixture-rates")
	branchLength = app.Flag("branchlen", "branch length of every branch in the chosen scenario").
			Default("0.1").Float64()
	tipCount = app.Flag("tips", "tip count for the deep-tree scenario").
			Default("50").Int()
	logLevel = app.Flag("loglevel", "log level (critical, error, warning, notice, info, debug)").
			Default("notice").Enum("critical", "error", "warning", "notice", "info", "debug")
)

// jcEigen is the standard 4-state Jukes-Cantor eigen-decomposition.
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

func uniformFreqs(s int) []float64 {
	f := make([]float64, s)
	for i := range f {
		f[i] = 1.0 / float64(s)
	}
	return f
}

func resourceIndexForName(name string) (int, bool) {
	for i, r := range beagle.ResourceList() {
		if r.Name == name {
			return i, true
		}
	}
	return 0, false
}

func mustSucceed(ec beagle.ErrorCode, what string) {
	if ec != beagle.Success {
		log.Fatalf("%s: %v", what, ec)
	}
}

// runTwoTip evaluates a two-tip Jukes-Cantor tree ((A,B):t), both tips in
// state 0.
func runTwoTip(handle int, t float64) float64 {
	evec, ievec, eval := jcEigen()
	mustSucceed(beagle.SetEigenDecomposition(handle, 0, evec, ievec, eval), "setEigenDecomposition")
	mustSucceed(beagle.SetTipStates(handle, 0, []int{0}), "setTipStates A")
	mustSucceed(beagle.SetTipStates(handle, 1, []int{0}), "setTipStates B")
	mustSucceed(beagle.UpdateTransitionMatrices(handle, 0, []int{0}, nil, nil, []float64{t}), "updateTransitionMatrices")

	ops := []beagle.Op{{Dest: 2, DestScaling: 3, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 0}}
	mustSucceed(beagle.UpdatePartials([]int{handle}, ops, false), "updatePartials")

	out := make([]float64, 1)
	req := beagle.RootRequest{
		BufferIndices: []int{2}, Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: out,
	}
	mustSucceed(beagle.CalculateRootLogLikelihoods(handle, req), "calculateRootLogLikelihoods")
	return out[0]
}

// runDeepTree peels n tips pairwise into a balanced binary tree with
// rescaling on, demonstrating the scaling-factor accounting.
func runDeepTree(handle, n int, t float64) float64 {
	evec, ievec, eval := jcEigen()
	mustSucceed(beagle.SetEigenDecomposition(handle, 0, evec, ievec, eval), "setEigenDecomposition")
	mustSucceed(beagle.UpdateTransitionMatrices(handle, 0, []int{0}, nil, nil, []float64{t}), "updateTransitionMatrices")
	for i := 0; i < n; i++ {
		mustSucceed(beagle.SetTipStates(handle, i, []int{0}), "setTipStates")
	}

	dest := n
	destScaling := n + 1
	cur := make([]int, n)
	for i := range cur {
		cur[i] = i
	}
	var scaleIdx []int
	for len(cur) > 1 {
		var next []int
		for i := 0; i+1 < len(cur); i += 2 {
			op := beagle.Op{Dest: dest, DestScaling: destScaling, Child1: cur[i], Child1Matrix: 0, Child2: cur[i+1], Child2Matrix: 0}
			mustSucceed(beagle.UpdatePartials([]int{handle}, []beagle.Op{op}, true), "updatePartials")
			scaleIdx = append(scaleIdx, destScaling)
			next = append(next, dest)
			dest++
			destScaling++
		}
		if len(cur)%2 == 1 {
			next = append(next, cur[len(cur)-1])
		}
		cur = next
	}

	out := make([]float64, 1)
	req := beagle.RootRequest{
		BufferIndices: []int{cur[0]}, Weights: [][]float64{{1}}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{scaleIdx}, OutSiteLogL: out,
	}
	mustSucceed(beagle.CalculateRootLogLikelihoods(handle, req), "calculateRootLogLikelihoods")
	return out[0]
}

// runMixtureRates evaluates C=4 gamma-discretized category rates with
// uniform weights, on the same two-tip tree as runTwoTip.
func runMixtureRates(handle int, t float64) float64 {
	evec, ievec, eval := jcEigen()
	mustSucceed(beagle.SetEigenDecomposition(handle, 0, evec, ievec, eval), "setEigenDecomposition")
	catRates := rates.DiscreteGamma(0.5, 4, false)
	mustSucceed(beagle.SetCategoryRates(handle, catRates), "setCategoryRates")
	mustSucceed(beagle.SetTipStates(handle, 0, []int{0}), "setTipStates A")
	mustSucceed(beagle.SetTipStates(handle, 1, []int{0}), "setTipStates B")
	mustSucceed(beagle.UpdateTransitionMatrices(handle, 0, []int{0}, nil, nil, []float64{t}), "updateTransitionMatrices")

	ops := []beagle.Op{{Dest: 2, DestScaling: 3, Child1: 0, Child1Matrix: 0, Child2: 1, Child2Matrix: 0}}
	mustSucceed(beagle.UpdatePartials([]int{handle}, ops, false), "updatePartials")

	out := make([]float64, 1)
	req := beagle.RootRequest{
		BufferIndices: []int{2}, Weights: [][]float64{rates.UniformWeights(4)}, Freqs: [][]float64{uniformFreqs(4)},
		ScalingIndices: [][]int{nil}, OutSiteLogL: out,
	}
	mustSucceed(beagle.CalculateRootLogLikelihoods(handle, req), "calculateRootLogLikelihoods")
	return out[0]
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	lvl, err := logging.LogLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.SetLevel(lvl, "")

	resourceIdx, ok := resourceIndexForName(*backendName)
	if !ok {
		log.Fatalf("unknown backend %q; available: %v", *backendName, beagle.ResourceList())
	}

	var sizing beagle.Sizing
	switch *scenario {
	case "two-tip", "mixture-rates":
		categoryCount := 1
		if *scenario == "mixture-rates" {
			categoryCount = 4
		}
		sizing = beagle.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: categoryCount, TipCount: 2,
			PartialsBufferCount: 3, CompactBufferCount: 2, EigenBufferCount: 1, MatrixBufferCount: 1}
	case "deep-tree":
		n := *tipCount
		sizing = beagle.Sizing{StateCount: 4, PatternCount: 1, CategoryCount: 1, TipCount: n,
			PartialsBufferCount: 2 * n, CompactBufferCount: n, EigenBufferCount: 1, MatrixBufferCount: 1}
	}

	handle, ec := beagle.CreateInstance(sizing, []int{resourceIdx}, 0, 0)
	mustSucceed(ec, "createInstance")
	defer beagle.Finalize(handle)

	details, ec := beagle.Initialize(handle)
	mustSucceed(ec, "initialize")
	log.Infof("running scenario %s on resource %d (flags=%s)", *scenario, details.ResourceIndex, details.Flags)

	var logL float64
	switch *scenario {
	case "two-tip":
		logL = runTwoTip(handle, *branchLength)
	case "deep-tree":
		logL = runDeepTree(handle, *tipCount, *branchLength)
	case "mixture-rates":
		logL = runMixtureRates(handle, *branchLength)
	}

	fmt.Printf("scenario=%s backend=%s logL=%.10f (natural log; |logL|=%.4f)\n",
		*scenario, *backendName, logL, math.Abs(logL))
}
