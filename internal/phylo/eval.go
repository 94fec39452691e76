package phylo

import (
	"fmt"

	beagle "github.com/matsengrp/beagle-lib"
	"github.com/matsengrp/beagle-lib/internal/telemetry"
)

// EvalConfig collects everything cmd/phylk and cmd/phylkbench need to
// drive one likelihood evaluation.
type EvalConfig struct {
	Threads     int
	Categories  int
	GammaShape  float64
	Model       string // "jc69" or "gtr"
	AutoScaling bool
	Log         telemetry.Logger
}

// Evaluate builds a beagle.Instance for tree/aln under cfg, submits the
// postorder peeling operations and returns the root log-likelihood. This
// is a demonstration consumer of the engine: it performs no inference or
// search, only one deterministic evaluation, grounded in the teacher's
// own greedy/greedo.go linear "read -> init -> run -> report" driver
// shape.
func Evaluate(tree *Tree, aln *Alignment, cfg EvalConfig) (float64, error) {
	stateCount := 4
	tipCount := tree.TipCount()
	if tipCount < 2 {
		return 0, fmt.Errorf("phylo: tree has fewer than 2 tips")
	}
	patternCount := aln.SiteCount
	categoryCount := cfg.Categories
	if categoryCount < 1 {
		categoryCount = 1
	}

	nodes := tree.Postorder()
	internalCount := 0
	for _, n := range nodes {
		if !n.IsTip() {
			internalCount++
		}
	}
	partialsBufferCount := tipCount + internalCount
	matrixCount := len(nodes) - 1 // one per non-root edge
	if matrixCount < 1 {
		matrixCount = 1
	}

	inst, err := beagle.Create[float64](tipCount, partialsBufferCount, tipCount, stateCount, patternCount, 1, matrixCount, categoryCount, 2, beagle.Options{
		AutoScaling: cfg.AutoScaling,
		Logger:      cfg.Log,
	})
	if err != nil {
		return 0, fmt.Errorf("phylo: creating instance: %w", err)
	}
	defer inst.Close()

	if err := inst.SetCPUThreadCount(cfg.Threads); err != nil {
		return 0, fmt.Errorf("phylo: setting thread count: %w", err)
	}

	for _, tip := range tree.Tips {
		seq, ok := aln.Sequences[tip.Name]
		if !ok {
			return 0, fmt.Errorf("phylo: alignment has no sequence for tip %q", tip.Name)
		}
		if err := inst.SetTipStates(tip.TipIndex, seq); err != nil {
			return 0, fmt.Errorf("phylo: setting tip states for %q: %w", tip.Name, err)
		}
	}

	var model SubstitutionModel
	switch cfg.Model {
	case "", "jc69":
		model = JC69()
	case "gtr":
		model, err = GTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25})
		if err != nil {
			return 0, fmt.Errorf("phylo: building GTR model: %w", err)
		}
	default:
		return 0, fmt.Errorf("phylo: unknown model %q", cfg.Model)
	}
	if err := inst.SetEigenDecomposition(0, model.Vectors, model.InvVectors, model.Values); err != nil {
		return 0, fmt.Errorf("phylo: setting eigen decomposition: %w", err)
	}

	shape := cfg.GammaShape
	if shape <= 0 {
		shape = 1
	}
	rates := DiscreteGammaRates(shape, categoryCount)
	weights := make([]float64, categoryCount)
	for c := range weights {
		weights[c] = 1.0 / float64(categoryCount)
	}
	if err := inst.SetCategoryRates(0, rates); err != nil {
		return 0, fmt.Errorf("phylo: setting category rates: %w", err)
	}
	if err := inst.SetCategoryWeights(0, weights); err != nil {
		return 0, fmt.Errorf("phylo: setting category weights: %w", err)
	}
	if err := inst.SetStateFrequencies(0, []float64{0.25, 0.25, 0.25, 0.25}); err != nil {
		return 0, fmt.Errorf("phylo: setting state frequencies: %w", err)
	}
	weightsOne := make([]float64, patternCount)
	for i := range weightsOne {
		weightsOne[i] = 1
	}
	if err := inst.SetPatternWeights(weightsOne); err != nil {
		return 0, fmt.Errorf("phylo: setting pattern weights: %w", err)
	}

	nextInternal := tipCount
	matrixByNode := make(map[*Node]int)
	bufferByNode := make(map[*Node]int)
	for _, n := range nodes {
		if n.IsTip() {
			bufferByNode[n] = n.TipIndex
		} else {
			bufferByNode[n] = nextInternal
			nextInternal++
		}
	}
	nextMatrix := 0
	var probIndex, derivIndex []int
	var edgeLengths []float64
	for _, n := range nodes {
		if n.Parent == nil {
			continue
		}
		matrixByNode[n] = nextMatrix
		probIndex = append(probIndex, nextMatrix)
		derivIndex = append(derivIndex, beagle.None)
		edgeLengths = append(edgeLengths, n.Length)
		nextMatrix++
	}
	if len(probIndex) > 0 {
		if err := inst.UpdateTransitionMatrices(0, probIndex, nil, derivIndex, edgeLengths); err != nil {
			return 0, fmt.Errorf("phylo: deriving transition matrices: %w", err)
		}
	}

	var ops []beagle.Operation
	var root *Node
	for _, n := range nodes {
		if n.IsTip() {
			continue
		}
		if len(n.Children) != 2 {
			return 0, fmt.Errorf("phylo: node %q has %d children, only bifurcating trees are supported", n.Name, len(n.Children))
		}
		a, b := n.Children[0], n.Children[1]
		ops = append(ops, beagle.Operation{
			Dest:       bufferByNode[n],
			WriteScale: beagle.None,
			ReadScale:  beagle.None,
			ChildA:     bufferByNode[a],
			MatrixA:    matrixByNode[a],
			ChildB:     bufferByNode[b],
			MatrixB:    matrixByNode[b],
		})
		if n.Parent == nil {
			root = n
		}
	}
	if root == nil {
		root = tree.Root
	}
	if err := inst.UpdatePartials(ops, beagle.None); err != nil {
		return 0, fmt.Errorf("phylo: updating partials: %w", err)
	}

	sum, err := inst.CalculateRootLogLikelihoods(bufferByNode[root], 0, 0, beagle.None, nil)
	if err != nil {
		return 0, fmt.Errorf("phylo: calculating root log-likelihood: %w", err)
	}
	return sum, nil
}
