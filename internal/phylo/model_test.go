package phylo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct computes V * diag(exp(values*t)) * Vinv, row-major SxS, to
// check a decomposition reproduces a transition probability matrix.
func reconstruct(vectors, invVectors, values []float64, s int, t float64) []float64 {
	out := make([]float64, s*s)
	for row := 0; row < s; row++ {
		for col := 0; col < s; col++ {
			var sum float64
			for k := 0; k < s; k++ {
				sum += vectors[row*s+k] * math.Exp(values[k]*t) * invVectors[k*s+col]
			}
			out[row*s+col] = sum
		}
	}
	return out
}

func TestJC69ReconstructsIdentityAtZero(t *testing.T) {
	t.Parallel()
	m := JC69()
	p := reconstruct(m.Vectors, m.InvVectors, m.Values, 4, 0)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(t, want, p[i*4+j], 1e-9)
		}
	}
}

func TestJC69RowsSumToOne(t *testing.T) {
	t.Parallel()
	m := JC69()
	p := reconstruct(m.Vectors, m.InvVectors, m.Values, 4, 0.5)
	for i := 0; i < 4; i++ {
		var sum float64
		for j := 0; j < 4; j++ {
			sum += p[i*4+j]
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestJC69OffDiagonalEqualUnderSymmetry(t *testing.T) {
	t.Parallel()
	m := JC69()
	p := reconstruct(m.Vectors, m.InvVectors, m.Values, 4, 0.2)
	// JC69 is fully symmetric: every off-diagonal transition probability
	// at a given t is identical.
	ref := p[0*4+1]
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				continue
			}
			assert.InDelta(t, ref, p[i*4+j], 1e-9)
		}
	}
}

func TestGTRWithEqualRatesAndFreqsMatchesJC69(t *testing.T) {
	t.Parallel()
	m, err := GTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25})
	require.NoError(t, err)

	p := reconstruct(m.Vectors, m.InvVectors, m.Values, 4, 0.3)
	jc := JC69()
	pJC := reconstruct(jc.Vectors, jc.InvVectors, jc.Values, 4, 0.3)
	for i := range p {
		assert.InDelta(t, pJC[i], p[i], 1e-6)
	}
}

func TestGTRRejectsFrequenciesNotSummingToOne(t *testing.T) {
	t.Parallel()
	_, err := GTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.5, 0.5, 0.5, 0.5})
	require.Error(t, err)
}

func TestGTRProducesStochasticMatrix(t *testing.T) {
	t.Parallel()
	m, err := GTR([6]float64{2, 1, 1, 1, 2, 1}, [4]float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)

	p := reconstruct(m.Vectors, m.InvVectors, m.Values, 4, 0.1)
	for i := 0; i < 4; i++ {
		var sum float64
		for j := 0; j < 4; j++ {
			assert.GreaterOrEqual(t, p[i*4+j], -1e-9)
			sum += p[i*4+j]
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
}

func TestDiscreteGammaRatesSingleCategoryIsFlat(t *testing.T) {
	t.Parallel()
	rates := DiscreteGammaRates(0.5, 1)
	assert.Equal(t, []float64{1}, rates)
}

func TestDiscreteGammaRatesAverageToOne(t *testing.T) {
	t.Parallel()
	rates := DiscreteGammaRates(0.5, 4)
	require.Len(t, rates, 4)
	var mean float64
	for _, r := range rates {
		mean += r
	}
	mean /= 4
	assert.InDelta(t, 1.0, mean, 1e-9)
}

func TestDiscreteGammaRatesAreIncreasing(t *testing.T) {
	t.Parallel()
	rates := DiscreteGammaRates(1.0, 4)
	for i := 1; i < len(rates); i++ {
		assert.Greater(t, rates[i], rates[i-1])
	}
}

func TestDiscreteGammaRatesLowShapeIsMoreDispersed(t *testing.T) {
	t.Parallel()
	low := DiscreteGammaRates(0.1, 4)
	high := DiscreteGammaRates(10, 4)
	lowSpread := low[len(low)-1] - low[0]
	highSpread := high[len(high)-1] - high[0]
	assert.Greater(t, lowSpread, highSpread)
}
