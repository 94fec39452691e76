package phylo

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quartetFixture(t *testing.T) (*Tree, *Alignment) {
	t.Helper()
	tree, err := ParseNewick("((A:0.1,B:0.2):0.05,(C:0.3,D:0.4):0.15);")
	require.NoError(t, err)
	path := writeTemp(t, "aln.fasta", ">A\nACGT\n>B\nACGA\n>C\nAGGT\n>D\nCCGT\n")
	aln, err := ReadFasta(path)
	require.NoError(t, err)
	return tree, aln
}

func TestEvaluateReturnsFiniteNegativeLogLikelihood(t *testing.T) {
	t.Parallel()
	tree, aln := quartetFixture(t)

	ll, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 1, Model: "jc69"})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(ll) || math.IsInf(ll, 0))
	assert.Less(t, ll, 0.0)
}

func TestEvaluateGTRMatchesJC69UnderEqualRatesAndFreqs(t *testing.T) {
	t.Parallel()
	tree, aln := quartetFixture(t)

	llJC, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 1, Model: "jc69"})
	require.NoError(t, err)
	llGTR, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 1, Model: "gtr"})
	require.NoError(t, err)
	assert.InDelta(t, llJC, llGTR, 1e-6)
}

func TestEvaluateIsDeterministicAcrossThreadCounts(t *testing.T) {
	t.Parallel()
	tree, aln := quartetFixture(t)

	llSerial, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 4, GammaShape: 0.5, Model: "jc69"})
	require.NoError(t, err)
	llParallel, err := Evaluate(tree, aln, EvalConfig{Threads: 4, Categories: 4, GammaShape: 0.5, Model: "jc69"})
	require.NoError(t, err)
	assert.InDelta(t, llSerial, llParallel, 1e-9)
}

func TestEvaluateRejectsUnknownModel(t *testing.T) {
	t.Parallel()
	tree, aln := quartetFixture(t)
	_, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Model: "made-up"})
	require.Error(t, err)
}

func TestEvaluateRejectsMissingTipSequence(t *testing.T) {
	t.Parallel()
	tree, err := ParseNewick("((A:0.1,B:0.2):0.05,(C:0.3,E:0.4):0.15);")
	require.NoError(t, err)
	path := writeTemp(t, "aln.fasta", ">A\nACGT\n>B\nACGA\n>C\nAGGT\n>D\nCCGT\n")
	aln, err := ReadFasta(path)
	require.NoError(t, err)

	_, err = Evaluate(tree, aln, EvalConfig{Threads: 1, Model: "jc69"})
	require.Error(t, err)
}

func TestEvaluateRejectsTreeWithSingleTip(t *testing.T) {
	t.Parallel()
	tree := &Tree{Root: &Node{Name: "A", TipIndex: 0}, Tips: []*Node{{Name: "A", TipIndex: 0}}}
	aln := &Alignment{SiteCount: 4, Sequences: map[string][]int32{"A": {0, 1, 2, 3}}}

	_, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Model: "jc69"})
	require.Error(t, err)
}

func TestEvaluateMoreGammaCategoriesChangesLikelihood(t *testing.T) {
	t.Parallel()
	tree, aln := quartetFixture(t)

	llFlat, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 1, Model: "jc69"})
	require.NoError(t, err)
	llGamma, err := Evaluate(tree, aln, EvalConfig{Threads: 1, Categories: 4, GammaShape: 0.2, Model: "jc69"})
	require.NoError(t, err)
	assert.NotEqual(t, llFlat, llGamma)
	assert.False(t, math.IsNaN(llGamma) || math.IsInf(llGamma, 0))
}
