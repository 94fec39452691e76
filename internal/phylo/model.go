package phylo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DiscreteGammaRates approximates the continuous Gamma(shape, shape)
// rate-heterogeneity-across-sites distribution (mean 1) by k equally
// probable categories, each represented by its median rate rescaled so
// the category means average to 1 — the standard discretization
// (Yang 1994) used by every gamma-rates phylogenetics implementation.
// k == 1 returns a single rate of 1 (no heterogeneity).
func DiscreteGammaRates(shape float64, k int) []float64 {
	if k <= 1 {
		return []float64{1}
	}
	g := distuv.Gamma{Alpha: shape, Beta: shape}
	rates := make([]float64, k)
	for i := 0; i < k; i++ {
		p := (float64(i) + 0.5) / float64(k)
		rates[i] = g.Quantile(p)
	}
	var mean float64
	for _, r := range rates {
		mean += r
	}
	mean /= float64(k)
	if mean > 0 {
		for i := range rates {
			rates[i] /= mean
		}
	}
	return rates
}

// SubstitutionModel is a 4-state (A,C,G,T) nucleotide model reduced to
// the flattened eigenvectors/inverse-eigenvectors/eigenvalues triple
// eigen.Layer.SetEigenDecomposition expects.
type SubstitutionModel struct {
	Vectors    []float64 // row-major 4x4
	InvVectors []float64 // row-major 4x4
	Values     []float64 // length 4
}

// JC69 returns the classic Jukes-Cantor model's analytic eigen
// decomposition, the standard textbook example also used throughout
// BEAGLE's own test suite.
func JC69() SubstitutionModel {
	return SubstitutionModel{
		Vectors: []float64{
			1.0, 2.0, 0.0, 0.5,
			1.0, -2.0, 0.5, 0.0,
			1.0, 2.0, 0.0, -0.5,
			1.0, -2.0, -0.5, 0.0,
		},
		InvVectors: []float64{
			0.25, 0.25, 0.25, 0.25,
			0.125, -0.125, 0.125, -0.125,
			0.0, 1.0, 0.0, -1.0,
			1.0, 0.0, -1.0, 0.0,
		},
		Values: []float64{0, -4.0 / 3.0, -4.0 / 3.0, -4.0 / 3.0},
	}
}

// GTR builds a general time-reversible model from its six exchangeability
// rates (AC, AG, AT, CG, CT, GT) and its four equilibrium frequencies
// (A, C, G, T), following the standard reversible-similarity trick: Q is
// symmetrized by the frequency square roots into S = Pi^1/2 Q Pi^-1/2,
// S is decomposed by gonum's mat.EigenSym (grounded on the teacher's use
// of gonum/mat for its own model matrices in mvn_likelihood.go), and the
// eigenvectors are transformed back through Pi^-1/2 / Pi^1/2.
func GTR(rates [6]float64, freqs [4]float64) (SubstitutionModel, error) {
	var sum float64
	for _, f := range freqs {
		sum += f
	}
	if math.Abs(sum-1) > 1e-6 {
		return SubstitutionModel{}, fmt.Errorf("phylo: GTR frequencies must sum to 1, got %v", sum)
	}

	exch := [4][4]float64{}
	idx := [4][4]int{
		{-1, 0, 1, 2},
		{0, -1, 3, 4},
		{1, 3, -1, 5},
		{2, 4, 5, -1},
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i != j {
				exch[i][j] = rates[idx[i][j]]
			}
		}
	}

	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		var rowSum float64
		for j := 0; j < 4; j++ {
			if i == j {
				continue
			}
			v := exch[i][j] * freqs[j]
			q.Set(i, j, v)
			rowSum += v
		}
		q.Set(i, i, -rowSum)
	}

	var meanRate float64
	for i := 0; i < 4; i++ {
		meanRate += freqs[i] * -q.At(i, i)
	}
	if meanRate > 0 {
		q.Scale(1/meanRate, q)
	}

	sqrtFreq := make([]float64, 4)
	for i, f := range freqs {
		sqrtFreq[i] = math.Sqrt(f)
	}

	s := mat.NewSymDense(4, nil)
	for i := 0; i < 4; i++ {
		for j := i; j < 4; j++ {
			v := sqrtFreq[i] * q.At(i, j) / sqrtFreq[j]
			s.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return SubstitutionModel{}, fmt.Errorf("phylo: GTR symmetric eigendecomposition failed")
	}
	values := eig.Values(nil)
	var u mat.Dense
	eig.VectorsTo(&u)

	vectors := make([]float64, 16)
	invVectors := make([]float64, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			// V = Pi^-1/2 U, Vinv = U^T Pi^1/2
			vectors[i*4+j] = u.At(i, j) / sqrtFreq[i]
			invVectors[j*4+i] = u.At(i, j) * sqrtFreq[i]
		}
	}

	return SubstitutionModel{Vectors: vectors, InvVectors: invVectors, Values: values}, nil
}
