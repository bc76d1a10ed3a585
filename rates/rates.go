// Package rates is a caller-side convenience for building the category
// rate vectors and weights a beagle instance's SetCategoryRates and
// integration-kernel Weights arguments expect. It owns no instance state;
// it only turns distribution parameters into the flat vectors the kernel
// boundary takes.
//
// The discretization is adapted from dist.DiscreteGamma: equal-proportion
// quantile cut points (or category medians) of a Gamma(alpha, alpha)
// distribution, rescaled to mean 1 so that a category rate multiplies
// branch length directly into an effective evolutionary distance.
package rates

import (
	"math"

	"github.com/gonum/mathext"
)

// quantileChi2 is the PAML-derived root-finding routine dist.QuantileChi2
// uses, generalized only in that it no longer assumes a single
// package-global caller; quantileNormal delegates to
// mathext.NormalQuantile.
func quantileNormal(p float64) float64 {
	return mathext.NormalQuantile(p)
}

func quantileChi2(prob, v float64) float64 {
	const e = .5e-6
	const aa = .6931471805
	const small = 1e-6
	if prob < small {
		return 0
	}
	if prob > 1-small {
		return 9999
	}
	if v <= 0 {
		return -1
	}

	g, _ := math.Lgamma(v / 2)
	xx := v / 2
	c := xx - 1

	var ch float64
	if v < -1.24*math.Log(prob) {
		ch = math.Pow(prob*xx*math.Exp(g+xx*aa), 1/xx)
		if ch-e < 0 {
			return ch
		}
	} else {
		if v > .32 {
			x := quantileNormal(prob)
			p1 := 0.222222 / v
			ch = v * math.Pow(x*math.Sqrt(p1)+1-p1, 3.0)
			if ch > 2.2*v+6 {
				ch = -2 * (math.Log(1-prob) - c*math.Log(.5*ch) + g)
			}
		} else {
			ch = 0.4
			a := math.Log(1 - prob)
			for {
				q := ch
				p1 := 1 + ch*(4.67+ch)
				p2 := ch * (6.73 + ch*(6.66+ch))
				t := -0.5 + (4.67+2*ch)/p1 - (6.73+ch*(13.32+3*ch))/p2
				ch -= (1 - math.Exp(a+g+.5*ch+c*aa)*p2/p1) / t
				if math.Abs(q/ch-1)-.01 <= 0 {
					break
				}
			}
		}
	}

	for {
		q := ch
		p1 := .5 * ch
		t := mathext.GammaInc(xx, p1)
		p2 := prob - t
		t = p2 * math.Exp(xx*aa+g+p1-c*math.Log(ch))
		b := t / ch
		a := 0.5*t - b*c

		s1 := (210 + a*(140+a*(105+a*(84+a*(70+60*a))))) / 420
		s2 := (420 + a*(735+a*(966+a*(1141+1278*a)))) / 2520
		s3 := (210 + a*(462+a*(707+932*a))) / 2520
		s4 := (252 + a*(672+1182*a) + c*(294+a*(889+1740*a))) / 5040
		s5 := (84 + 264*a + c*(175+606*a)) / 2520
		s6 := (120 + c*(346+127*c)) / 5040
		ch += t * (1 + 0.5*t*s1 - b*c*(s1-b*(s2-b*(s3-b*(s4-b*(s5-b*s6))))))
		if math.Abs(q/ch-1) <= e {
			break
		}
	}
	return ch
}

func quantileGamma(prob, alpha, beta float64) float64 {
	return quantileChi2(prob, 2*alpha) / (2 * beta)
}

// DiscreteGamma returns k category rates discretizing Gamma(alpha, alpha)
// (beta==alpha keeps the mean at 1), by equal-proportion cut points. When
// useMedian is true it uses each category's median instead of its mean,
// matching dist.DiscreteGamma's UseMedian branch.
func DiscreteGamma(alpha float64, k int, useMedian bool) []float64 {
	res := make([]float64, k)
	beta := alpha
	mean := alpha / beta

	if useMedian {
		sum := 0.0
		for i := 0; i < k; i++ {
			res[i] = quantileGamma((float64(i)*2+1)/(2*float64(k)), alpha, beta)
			sum += res[i]
		}
		for i := range res {
			res[i] *= mean * float64(k) / sum
		}
		return res
	}

	cuts := make([]float64, k-1)
	for i := 0; i < k-1; i++ {
		cuts[i] = quantileGamma(float64(i+1)/float64(k), alpha, beta)
		cuts[i] = mathext.GammaInc(alpha+1, cuts[i]*beta)
	}
	res[0] = cuts[0] * mean * float64(k)
	for i := 1; i < k-1; i++ {
		res[i] = (cuts[i] - cuts[i-1]) * mean * float64(k)
	}
	res[k-1] = (1 - cuts[k-2]) * mean * float64(k)
	return res
}

// UniformWeights returns k weights summing to 1, the conventional choice
// when category rates are equiprobable.
func UniformWeights(k int) []float64 {
	w := make([]float64, k)
	for i := range w {
		w[i] = 1 / float64(k)
	}
	return w
}
