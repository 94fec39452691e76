package beagle

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/matsengrp/beagle-lib/internal/beagle/bcore"
	"github.com/matsengrp/beagle-lib/internal/beagle/buffers"
	"github.com/matsengrp/beagle-lib/internal/beagle/dispatch"
	"github.com/matsengrp/beagle-lib/internal/beagle/eigen"
	"github.com/matsengrp/beagle-lib/internal/beagle/patterns"
	"github.com/matsengrp/beagle-lib/internal/beagle/reduce"
	"github.com/matsengrp/beagle-lib/internal/beagle/scale"
	"github.com/matsengrp/beagle-lib/internal/telemetry"
)

// Instance is one created engine: a fixed set of buffers, a pattern
// index, an eigen/transition layer and a dispatcher, exactly the
// resources allocated at Create and released at Close.
type Instance[R bcore.Precision] struct {
	id  uuid.UUID
	log telemetry.Logger

	dims bcore.Dims
	pool *buffers.Pool[R]
	ix   *patterns.Index
	eig  *eigen.Layer[R]
	disp *dispatch.Dispatcher[R]

	autoScaling bool

	stateFrequencies map[int][]R
	categoryWeights  map[int][]R
	patternWeights   []float64

	lastSumLL      atomic.Value // float64
	lastSumFirst   atomic.Value // float64
	lastSumSecond  atomic.Value // float64
	lastSiteLL     atomic.Value // []float64
	lastSiteFirst  atomic.Value // []float64
	lastSiteSecond atomic.Value // []float64
}

// Options configure Create beyond the fixed dimensions.
type Options struct {
	// AutoScaling selects the deferred-exponent auto-scale pathway
	// instead of per-operation fixed rescale.
	AutoScaling bool
	// ScalingExponentThreshold is the |binary exponent| beyond which
	// auto-scaling activates. Ignored unless AutoScaling is set.
	ScalingExponentThreshold int
	// Logger receives worker-pool lifecycle and instance-creation
	// events. Defaults to telemetry.Default().
	Logger telemetry.Logger
}

// Create allocates a new Instance with the given fixed dimensions,
// mirroring BeagleCPUImpl::createInstance.
func Create[R bcore.Precision](tipCount, partialsBufferCount, compactBufferCount, stateCount, patternCount, eigenCount, matrixCount, categoryCount, scaleBufferCount int, opts Options) (*Instance[R], error) {
	d, err := bcore.New(tipCount, partialsBufferCount, compactBufferCount, stateCount, patternCount, eigenCount, matrixCount, categoryCount, scaleBufferCount)
	if err != nil {
		return nil, wrapErr("Create", err)
	}
	pool, err := buffers.New[R](d)
	if err != nil {
		return nil, wrapErr("Create", err)
	}

	log := opts.Logger
	if log == nil {
		log = telemetry.Default()
	}

	inst := &Instance[R]{
		id:               uuid.New(),
		log:              log,
		dims:             d,
		pool:             pool,
		ix:               patterns.New(patternCount),
		eig:              eigen.New[R](d),
		autoScaling:      opts.AutoScaling,
		stateFrequencies: make(map[int][]R),
		categoryWeights:  make(map[int][]R),
		patternWeights:   make([]float64, d.PaddedPatternCount),
	}
	inst.disp = dispatch.New[R](pool, inst.ix, opts.AutoScaling, opts.ScalingExponentThreshold, log)
	inst.log.Info("beagle: instance created", "id", inst.id, "stateCount", stateCount, "patternCount", patternCount, "tipCount", tipCount)
	return inst, nil
}

// ID returns the instance's stable identifier, used only in log fields
// to disambiguate concurrent instances.
func (inst *Instance[R]) ID() string { return inst.id.String() }

// Close tears down the instance's worker pool. It must be called at
// most once.
func (inst *Instance[R]) Close() error {
	err := inst.disp.Close()
	inst.log.Info("beagle: instance closed", "id", inst.id)
	return wrapErr("Close", err)
}

// SetCPUThreadCount configures the worker pool; n == 0 requests the
// runtime default thread count.
func (inst *Instance[R]) SetCPUThreadCount(n int) error {
	return wrapErr("SetCPUThreadCount", inst.disp.SetCPUThreadCount(n))
}

// SetTipStates uploads a compact tip state sequence for buffer index i.
// states is given in original (pre-SetPatternPartitions) pattern order;
// if a partition reorder is active, it is permuted into post-reorder
// storage order before being written.
func (inst *Instance[R]) SetTipStates(i int, states []int32) error {
	if i < 0 || i >= inst.dims.CompactCount {
		return wrapErr("SetTipStates", fmt.Errorf("%w: tip states index %d", dispatch.ErrOutOfRange, i))
	}
	if len(states) != inst.dims.PatternCount {
		return wrapErr("SetTipStates", fmt.Errorf("%w: expected %d states, got %d", dispatch.ErrOutOfRange, inst.dims.PatternCount, len(states)))
	}
	states = patterns.Permute(inst.ix, states)
	copy(inst.pool.TipStates[i], states)
	return nil
}

// SetTipPartials uploads an ambiguous tip's partials (S per pattern,
// replicated across every category).
func (inst *Instance[R]) SetTipPartials(i int, partials []float64) error {
	return inst.SetPartials(i, partials)
}

// SetPartials uploads a full C x P x S (category-major) partials array
// for buffer index i, replicating across categories if only one
// category's worth is given. Each category's P x S block is given in
// original pattern order and permuted into post-reorder storage order
// when a partition reorder is active, the same contract as SetTipStates.
func (inst *Instance[R]) SetPartials(i int, values []float64) error {
	if i < 0 || i >= len(inst.pool.Partials) || inst.pool.Partials[i] == nil {
		return wrapErr("SetPartials", fmt.Errorf("%w: partials index %d", dispatch.ErrOutOfRange, i))
	}
	d := inst.dims
	dest := inst.pool.Partials[i]
	perCategory := d.PatternCount * d.StateCount
	switch len(values) {
	case perCategory:
		block := permutePatternBlocks(inst.ix, values, d.PatternCount, d.StateCount)
		for c := 0; c < d.CategoryCount; c++ {
			writePartialsBlock(dest, block, d, c)
		}
	case perCategory * d.CategoryCount:
		for c := 0; c < d.CategoryCount; c++ {
			block := permutePatternBlocks(inst.ix, values[c*perCategory:(c+1)*perCategory], d.PatternCount, d.StateCount)
			writePartialsBlock(dest, block, d, c)
		}
	default:
		return wrapErr("SetPartials", fmt.Errorf("%w: partials index %d has %d values", dispatch.ErrOutOfRange, i, len(values)))
	}
	return nil
}

// permutePatternBlocks reorders src, understood as PatternCount
// contiguous blocks of stride elements each in original pattern order,
// into post-reorder storage order via ix's current partition reorder. It
// is a no-op copy when no reorder is active.
func permutePatternBlocks[T any](ix *patterns.Index, src []T, patternCount, stride int) []T {
	out := make([]T, len(src))
	if !ix.Reordered() {
		copy(out, src)
		return out
	}
	order := ix.NewOrder()
	for newIdx, oldIdx := range order {
		copy(out[newIdx*stride:(newIdx+1)*stride], src[oldIdx*stride:(oldIdx+1)*stride])
	}
	return out
}

func writePartialsBlock[R bcore.Precision](dest []R, block []float64, d bcore.Dims, c int) {
	for p := 0; p < d.PatternCount; p++ {
		for a := 0; a < d.StateCount; a++ {
			idx := c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a
			dest[idx] = R(block[p*d.StateCount+a])
		}
	}
}

// GetPartials copies buffer index i's C x P x S values into out.
func (inst *Instance[R]) GetPartials(i int, out []float64) error {
	if i < 0 || i >= len(inst.pool.Partials) || inst.pool.Partials[i] == nil {
		return wrapErr("GetPartials", fmt.Errorf("%w: partials index %d", dispatch.ErrOutOfRange, i))
	}
	d := inst.dims
	src := inst.pool.Partials[i]
	need := d.CategoryCount * d.PatternCount * d.StateCount
	if len(out) != need {
		return wrapErr("GetPartials", fmt.Errorf("%w: output buffer has %d slots, need %d", dispatch.ErrOutOfRange, len(out), need))
	}
	for c := 0; c < d.CategoryCount; c++ {
		for p := 0; p < d.PatternCount; p++ {
			for a := 0; a < d.StateCount; a++ {
				idx := c*d.PaddedPatternCount*d.MatrixRowCount + p*d.MatrixRowCount + a
				out[c*d.PatternCount*d.StateCount+p*d.StateCount+a] = float64(src[idx])
			}
		}
	}
	return nil
}

// SetEigenDecomposition stores eigenIndex's spectral decomposition.
func (inst *Instance[R]) SetEigenDecomposition(eigenIndex int, vectors, invVectors, values []float64) error {
	return wrapErr("SetEigenDecomposition", inst.eig.SetEigenDecomposition(eigenIndex, vectors, invVectors, values))
}

// SetStateFrequencies stores the equilibrium frequency vector at index.
func (inst *Instance[R]) SetStateFrequencies(index int, freqs []float64) error {
	if len(freqs) != inst.dims.StateCount {
		return wrapErr("SetStateFrequencies", fmt.Errorf("%w: expected %d frequencies, got %d", dispatch.ErrOutOfRange, inst.dims.StateCount, len(freqs)))
	}
	inst.stateFrequencies[index] = toR[R](freqs)
	return nil
}

// SetCategoryWeights stores the category weight vector at index.
func (inst *Instance[R]) SetCategoryWeights(index int, weights []float64) error {
	if len(weights) != inst.dims.CategoryCount {
		return wrapErr("SetCategoryWeights", fmt.Errorf("%w: expected %d weights, got %d", dispatch.ErrOutOfRange, inst.dims.CategoryCount, len(weights)))
	}
	inst.categoryWeights[index] = toR[R](weights)
	return nil
}

// SetPatternWeights stores the per-pattern site weight vector, given in
// original pattern order; must be re-sent after any SetPatternPartitions
// call, since the reorder it triggers changes which post-reorder slot
// each original pattern's weight belongs in.
func (inst *Instance[R]) SetPatternWeights(weights []float64) error {
	if len(weights) != inst.dims.PatternCount {
		return wrapErr("SetPatternWeights", fmt.Errorf("%w: expected %d weights, got %d", dispatch.ErrOutOfRange, inst.dims.PatternCount, len(weights)))
	}
	weights = patterns.Permute(inst.ix, weights)
	copy(inst.patternWeights, weights)
	return nil
}

// SetCategoryRates stores the category rate vector at ratesIndex. Index 0
// is the default set UpdateTransitionMatrices derives against; other
// indices are addressed by MatrixUpdate.CategoryRatesIndex through
// UpdateTransitionMatricesWithMultipleModels for cross-model mixtures.
func (inst *Instance[R]) SetCategoryRates(ratesIndex int, rates []float64) error {
	return wrapErr("SetCategoryRates", inst.eig.SetCategoryRates(ratesIndex, rates))
}

// SetPatternPartitions assigns each pattern to a partition and records
// the resulting pattern reorder, which later uploads are permuted
// through. Data already resident in the buffers is not moved, so callers
// must re-upload tip states, tip partials and pattern weights afterward.
func (inst *Instance[R]) SetPatternPartitions(partitionOf []int) error {
	if err := inst.ix.SetPartitions(partitionOf); err != nil {
		return wrapErr("SetPatternPartitions", err)
	}
	return nil
}

func toR[R bcore.Precision](in []float64) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = R(v)
	}
	return out
}

// UpdateTransitionMatrices derives probIndex[k] (and, if given,
// firstDerivIndex[k]/secondDerivIndex[k]) from eigenIndex and edge
// length edgeLengths[k], for every k, using the default category rates.
func (inst *Instance[R]) UpdateTransitionMatrices(eigenIndex int, probIndex, firstDerivIndex, secondDerivIndex []int, edgeLengths []float64) error {
	updates := make([]MatrixUpdate, len(probIndex))
	for k := range probIndex {
		u := MatrixUpdate{EigenIndex: eigenIndex, CategoryRatesIndex: 0, ProbIndex: probIndex[k], EdgeLength: edgeLengths[k]}
		if firstDerivIndex != nil {
			u.FirstDerivIndex = firstDerivIndex[k]
		} else {
			u.FirstDerivIndex = None
		}
		if secondDerivIndex != nil {
			u.SecondDerivIndex = secondDerivIndex[k]
		} else {
			u.SecondDerivIndex = None
		}
		updates[k] = u
	}
	return inst.UpdateTransitionMatricesWithMultipleModels(updates)
}

// UpdateTransitionMatricesWithMultipleModels is the per-operation form:
// each update names its own eigen index and category-rate index,
// restored from BeagleCPUImpl.h's updateTransitionMatricesWithMultipleModels
// for cross-model mixtures.
func (inst *Instance[R]) UpdateTransitionMatricesWithMultipleModels(updates []MatrixUpdate) error {
	for _, u := range updates {
		if err := inst.eig.Derive(inst.pool, u.EigenIndex, u.CategoryRatesIndex, u.ProbIndex, u.FirstDerivIndex, u.SecondDerivIndex, u.EdgeLength); err != nil {
			return wrapErr("UpdateTransitionMatrices", err)
		}
	}
	return nil
}

// ConvolveTransitionMatrices computes result[k] = first[k] o second[k]
// (per-category matrix product) for epoch models.
func (inst *Instance[R]) ConvolveTransitionMatrices(firstIndices, secondIndices, resultIndices []int) error {
	if len(firstIndices) != len(secondIndices) || len(firstIndices) != len(resultIndices) {
		return wrapErr("ConvolveTransitionMatrices", fmt.Errorf("%w: mismatched index slice lengths", dispatch.ErrOutOfRange))
	}
	for k := range firstIndices {
		if err := inst.eig.Convolve(inst.pool, firstIndices[k], secondIndices[k], resultIndices[k]); err != nil {
			return wrapErr("ConvolveTransitionMatrices", err)
		}
	}
	return nil
}

// SetTransitionMatrix installs an already-computed C x S x S matrix
// directly, bypassing eigen derivation; the padding column of every row
// is set to 1.
func (inst *Instance[R]) SetTransitionMatrix(i int, values []float64) error {
	if i < 0 || i >= len(inst.pool.Matrices) {
		return wrapErr("SetTransitionMatrix", fmt.Errorf("%w: matrix index %d", dispatch.ErrOutOfRange, i))
	}
	d := inst.dims
	dest := inst.pool.Matrices[i]
	if len(values) != d.CategoryCount*d.StateCount*d.StateCount {
		return wrapErr("SetTransitionMatrix", fmt.Errorf("%w: matrix index %d has %d values", dispatch.ErrOutOfRange, i, len(values)))
	}
	for c := 0; c < d.CategoryCount; c++ {
		base := c * d.StateCount * d.PartialsStateStride
		src := c * d.StateCount * d.StateCount
		for a := 0; a < d.StateCount; a++ {
			for b := 0; b < d.StateCount; b++ {
				dest[base+a*d.PartialsStateStride+b] = R(values[src+a*d.StateCount+b])
			}
			dest[base+a*d.PartialsStateStride+d.StateCount] = 1
		}
	}
	return nil
}

// GetTransitionMatrix copies matrix index i's C x S x S block into out.
func (inst *Instance[R]) GetTransitionMatrix(i int, out []float64) error {
	if i < 0 || i >= len(inst.pool.Matrices) {
		return wrapErr("GetTransitionMatrix", fmt.Errorf("%w: matrix index %d", dispatch.ErrOutOfRange, i))
	}
	d := inst.dims
	src := inst.pool.Matrices[i]
	need := d.CategoryCount * d.StateCount * d.StateCount
	if len(out) != need {
		return wrapErr("GetTransitionMatrix", fmt.Errorf("%w: output buffer has %d slots, need %d", dispatch.ErrOutOfRange, len(out), need))
	}
	for c := 0; c < d.CategoryCount; c++ {
		base := c * d.StateCount * d.PartialsStateStride
		dst := c * d.StateCount * d.StateCount
		for a := 0; a < d.StateCount; a++ {
			for b := 0; b < d.StateCount; b++ {
				out[dst+a*d.StateCount+b] = float64(src[base+a*d.PartialsStateStride+b])
			}
		}
	}
	return nil
}

func toDispatchOp(op Operation) dispatch.Operation {
	return dispatch.Operation{
		Dest: op.Dest, WriteScale: op.WriteScale, ReadScale: op.ReadScale,
		ChildA: op.ChildA, MatrixA: op.MatrixA, ChildB: op.ChildB, MatrixB: op.MatrixB,
	}
}

// UpdatePartials runs ops in order, threading across the pattern axis
// when the instance's configuration and problem size clear the
// auto-partition thresholds.
func (inst *Instance[R]) UpdatePartials(ops []Operation, cumulativeScaleIndex int) error {
	dops := make([]dispatch.Operation, len(ops))
	for i, op := range ops {
		dops[i] = toDispatchOp(op)
	}
	return wrapErr("UpdatePartials", inst.disp.UpdatePartials(dops, cumulativeScaleIndex))
}

// UpdatePartialsByPartition runs each op restricted to its own
// partition's pattern range, scheduling distinct partitions concurrently.
func (inst *Instance[R]) UpdatePartialsByPartition(ops []PartitionOperation) error {
	dops := make([]dispatch.PartitionOperation, len(ops))
	for i, op := range ops {
		dops[i] = dispatch.PartitionOperation{
			Operation:       toDispatchOp(op.Operation),
			Partition:       op.Partition,
			CumulativeScale: op.CumulativeScale,
		}
	}
	return wrapErr("UpdatePartialsByPartition", inst.disp.UpdatePartialsByPartition(dops))
}

// WaitForPartials blocks until every listed destination buffer has been
// fully written by an outstanding UpdatePartialsByPartition call.
func (inst *Instance[R]) WaitForPartials(destIndices []int) error {
	return wrapErr("WaitForPartials", inst.disp.WaitForPartials(destIndices))
}

// Block waits for every outstanding dispatched operation to complete.
func (inst *Instance[R]) Block() error {
	return wrapErr("Block", inst.disp.Block())
}

func (inst *Instance[R]) frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex int) ([]R, []R, error) {
	freqs, ok := inst.stateFrequencies[stateFrequenciesIndex]
	if !ok {
		return nil, nil, fmt.Errorf("%w: state frequencies index %d", dispatch.ErrOutOfRange, stateFrequenciesIndex)
	}
	weights, ok := inst.categoryWeights[categoryWeightsIndex]
	if !ok {
		return nil, nil, fmt.Errorf("%w: category weights index %d", dispatch.ErrOutOfRange, categoryWeightsIndex)
	}
	return freqs, weights, nil
}

// CalculateRootLogLikelihoods reduces bufferIndex to a total
// log-likelihood, writing per-site log-likelihoods into outSiteLL if
// non-nil.
func (inst *Instance[R]) CalculateRootLogLikelihoods(bufferIndex, stateFrequenciesIndex, categoryWeightsIndex, cumulativeScaleIndex int, outSiteLL []float64) (float64, error) {
	if err := inst.disp.StickyError(); err != nil {
		return 0, wrapErr("CalculateRootLogLikelihoods", err)
	}
	freqs, weights, err := inst.frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex)
	if err != nil {
		return 0, wrapErr("CalculateRootLogLikelihoods", err)
	}
	if bufferIndex < 0 || bufferIndex >= len(inst.pool.Partials) || inst.pool.Partials[bufferIndex] == nil {
		return 0, wrapErr("CalculateRootLogLikelihoods", fmt.Errorf("%w: buffer index %d", dispatch.ErrOutOfRange, bufferIndex))
	}
	var cumulative []R
	if cumulativeScaleIndex != None {
		if cumulativeScaleIndex < 0 || cumulativeScaleIndex >= len(inst.pool.ScaleBuffers) {
			return 0, wrapErr("CalculateRootLogLikelihoods", fmt.Errorf("%w: scale index %d", dispatch.ErrOutOfRange, cumulativeScaleIndex))
		}
		cumulative = inst.pool.ScaleBuffers[cumulativeScaleIndex]
	}
	siteOut := siteBuffer[R](outSiteLL, inst.dims.PaddedPatternCount)
	sum, err := reduce.Root(inst.pool.Partials[bufferIndex], inst.dims, weights, freqs, cumulative, inst.patternWeights, siteOut, 0, inst.dims.PaddedPatternCount)
	if err != nil {
		return sum, wrapErr("CalculateRootLogLikelihoods", err)
	}
	copySiteOut(outSiteLL, siteOut)
	inst.lastSumLL.Store(sum)
	if outSiteLL != nil {
		inst.lastSiteLL.Store(append([]float64(nil), outSiteLL...))
	}
	return sum, nil
}

// CalculateRootLogLikelihoodsByPartition additionally returns the
// per-partition sums, which must add up to the returned total.
func (inst *Instance[R]) CalculateRootLogLikelihoodsByPartition(bufferIndex, stateFrequenciesIndex, categoryWeightsIndex, cumulativeScaleIndex int, outSiteLL []float64) (total float64, byPartition []float64, err error) {
	if err := inst.disp.StickyError(); err != nil {
		return 0, nil, wrapErr("CalculateRootLogLikelihoodsByPartition", err)
	}
	freqs, weights, err := inst.frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex)
	if err != nil {
		return 0, nil, wrapErr("CalculateRootLogLikelihoodsByPartition", err)
	}
	var cumulative []R
	if cumulativeScaleIndex != None {
		cumulative = inst.pool.ScaleBuffers[cumulativeScaleIndex]
	}
	siteOut := siteBuffer[R](outSiteLL, inst.dims.PaddedPatternCount)
	byPartition = make([]float64, inst.ix.PartitionCount())
	for k := 0; k < inst.ix.PartitionCount(); k++ {
		r, rerr := inst.ix.Range(k)
		if rerr != nil {
			return 0, nil, wrapErr("CalculateRootLogLikelihoodsByPartition", rerr)
		}
		sum, rerr := reduce.Root(inst.pool.Partials[bufferIndex], inst.dims, weights, freqs, cumulative, inst.patternWeights, siteOut, r.Start, r.End)
		if rerr != nil {
			return 0, nil, wrapErr("CalculateRootLogLikelihoodsByPartition", rerr)
		}
		byPartition[k] = sum
		total += sum
	}
	copySiteOut(outSiteLL, siteOut)
	inst.lastSumLL.Store(total)
	return total, byPartition, nil
}

// CalculateRootLogLikelihoodsMulti reduces a weighted mixture of several
// root buffers (model averaging): per pattern, the weighted likelihoods
// are summed before taking the log, rather than averaging the logs.
// cumulativeScaleIndices, if non-nil, gives one cumulative scale buffer
// index per entry of bufferIndices (None to skip that entry).
func (inst *Instance[R]) CalculateRootLogLikelihoodsMulti(bufferIndices []int, rootWeights []float64, stateFrequenciesIndex, categoryWeightsIndex int, cumulativeScaleIndices []int, outSiteLL []float64) (float64, error) {
	if err := inst.disp.StickyError(); err != nil {
		return 0, wrapErr("CalculateRootLogLikelihoodsMulti", err)
	}
	freqs, weights, err := inst.frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex)
	if err != nil {
		return 0, wrapErr("CalculateRootLogLikelihoodsMulti", err)
	}
	rootPartials := make([][]R, len(bufferIndices))
	for i, bufferIndex := range bufferIndices {
		if bufferIndex < 0 || bufferIndex >= len(inst.pool.Partials) || inst.pool.Partials[bufferIndex] == nil {
			return 0, wrapErr("CalculateRootLogLikelihoodsMulti", fmt.Errorf("%w: buffer index %d", dispatch.ErrOutOfRange, bufferIndex))
		}
		rootPartials[i] = inst.pool.Partials[bufferIndex]
	}
	var cumulativeScales [][]R
	if cumulativeScaleIndices != nil {
		cumulativeScales = make([][]R, len(bufferIndices))
		for i, scaleIndex := range cumulativeScaleIndices {
			if scaleIndex == None {
				continue
			}
			if scaleIndex < 0 || scaleIndex >= len(inst.pool.ScaleBuffers) {
				return 0, wrapErr("CalculateRootLogLikelihoodsMulti", fmt.Errorf("%w: scale index %d", dispatch.ErrOutOfRange, scaleIndex))
			}
			cumulativeScales[i] = inst.pool.ScaleBuffers[scaleIndex]
		}
	}
	siteOut := siteBuffer[R](outSiteLL, inst.dims.PaddedPatternCount)
	sum, err := reduce.RootMulti(rootPartials, rootWeights, inst.dims, weights, freqs, cumulativeScales, inst.patternWeights, siteOut, 0, inst.dims.PaddedPatternCount)
	if err != nil {
		return sum, wrapErr("CalculateRootLogLikelihoodsMulti", err)
	}
	copySiteOut(outSiteLL, siteOut)
	inst.lastSumLL.Store(sum)
	if outSiteLL != nil {
		inst.lastSiteLL.Store(append([]float64(nil), outSiteLL...))
	}
	return sum, nil
}

// CalculateEdgeLogLikelihoods reduces the (parent, child) edge through
// matrixIndex to a total log-likelihood, and its first/second
// derivative with respect to edge length when the corresponding
// derivative matrix indices are not None.
func (inst *Instance[R]) CalculateEdgeLogLikelihoods(parentBufferIndex, childBufferIndex, matrixIndex, firstDerivMatrixIndex, secondDerivMatrixIndex, stateFrequenciesIndex, categoryWeightsIndex, cumulativeScaleIndex int, outSiteLL, outSiteFirst, outSiteSecond []float64) (sumLL, sumFirst, sumSecond float64, err error) {
	if err := inst.disp.StickyError(); err != nil {
		return 0, 0, 0, wrapErr("CalculateEdgeLogLikelihoods", err)
	}
	freqs, weights, err := inst.frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex)
	if err != nil {
		return 0, 0, 0, wrapErr("CalculateEdgeLogLikelihoods", err)
	}
	parent := inst.pool.Partials[parentBufferIndex]
	child := inst.pool.Partials[childBufferIndex]
	if parent == nil || child == nil {
		return 0, 0, 0, wrapErr("CalculateEdgeLogLikelihoods", fmt.Errorf("%w: parent or child buffer", dispatch.ErrOutOfRange))
	}
	matrix := inst.pool.Matrices[matrixIndex]
	var firstDeriv, secondDeriv []R
	if firstDerivMatrixIndex != None {
		firstDeriv = inst.pool.Matrices[firstDerivMatrixIndex]
	}
	if secondDerivMatrixIndex != None {
		secondDeriv = inst.pool.Matrices[secondDerivMatrixIndex]
	}
	var cumulative []R
	if cumulativeScaleIndex != None {
		cumulative = inst.pool.ScaleBuffers[cumulativeScaleIndex]
	}
	siteLL := siteBuffer[R](outSiteLL, inst.dims.PaddedPatternCount)
	siteFirst := siteBuffer[R](outSiteFirst, inst.dims.PaddedPatternCount)
	siteSecond := siteBuffer[R](outSiteSecond, inst.dims.PaddedPatternCount)

	sumLL, sumFirst, sumSecond, err = reduce.Edge(parent, child, inst.dims, weights, freqs, matrix, firstDeriv, secondDeriv, cumulative, inst.patternWeights, siteLL, siteFirst, siteSecond, 0, inst.dims.PaddedPatternCount)
	if err != nil {
		return sumLL, sumFirst, sumSecond, wrapErr("CalculateEdgeLogLikelihoods", err)
	}
	copySiteOut(outSiteLL, siteLL)
	copySiteOut(outSiteFirst, siteFirst)
	copySiteOut(outSiteSecond, siteSecond)
	inst.lastSumFirst.Store(sumFirst)
	inst.lastSumSecond.Store(sumSecond)
	if outSiteLL != nil {
		inst.lastSiteLL.Store(append([]float64(nil), outSiteLL...))
	}
	if outSiteFirst != nil {
		inst.lastSiteFirst.Store(append([]float64(nil), outSiteFirst...))
	}
	if outSiteSecond != nil {
		inst.lastSiteSecond.Store(append([]float64(nil), outSiteSecond...))
	}
	return sumLL, sumFirst, sumSecond, nil
}

// CalculateEdgeLogLikelihoodsByPartition additionally returns the
// per-partition log-likelihood and derivative sums, which must add up to
// the returned totals, mirroring CalculateRootLogLikelihoodsByPartition.
func (inst *Instance[R]) CalculateEdgeLogLikelihoodsByPartition(parentBufferIndex, childBufferIndex, matrixIndex, firstDerivMatrixIndex, secondDerivMatrixIndex, stateFrequenciesIndex, categoryWeightsIndex, cumulativeScaleIndex int, outSiteLL, outSiteFirst, outSiteSecond []float64) (sumLL, sumFirst, sumSecond float64, byPartitionLL, byPartitionFirst, byPartitionSecond []float64, err error) {
	if err := inst.disp.StickyError(); err != nil {
		return 0, 0, 0, nil, nil, nil, wrapErr("CalculateEdgeLogLikelihoodsByPartition", err)
	}
	freqs, weights, err := inst.frequenciesAndWeights(stateFrequenciesIndex, categoryWeightsIndex)
	if err != nil {
		return 0, 0, 0, nil, nil, nil, wrapErr("CalculateEdgeLogLikelihoodsByPartition", err)
	}
	parent := inst.pool.Partials[parentBufferIndex]
	child := inst.pool.Partials[childBufferIndex]
	if parent == nil || child == nil {
		return 0, 0, 0, nil, nil, nil, wrapErr("CalculateEdgeLogLikelihoodsByPartition", fmt.Errorf("%w: parent or child buffer", dispatch.ErrOutOfRange))
	}
	matrix := inst.pool.Matrices[matrixIndex]
	var firstDeriv, secondDeriv []R
	if firstDerivMatrixIndex != None {
		firstDeriv = inst.pool.Matrices[firstDerivMatrixIndex]
	}
	if secondDerivMatrixIndex != None {
		secondDeriv = inst.pool.Matrices[secondDerivMatrixIndex]
	}
	var cumulative []R
	if cumulativeScaleIndex != None {
		cumulative = inst.pool.ScaleBuffers[cumulativeScaleIndex]
	}
	siteLL := siteBuffer[R](outSiteLL, inst.dims.PaddedPatternCount)
	siteFirst := siteBuffer[R](outSiteFirst, inst.dims.PaddedPatternCount)
	siteSecond := siteBuffer[R](outSiteSecond, inst.dims.PaddedPatternCount)

	partitionCount := inst.ix.PartitionCount()
	byPartitionLL = make([]float64, partitionCount)
	byPartitionFirst = make([]float64, partitionCount)
	byPartitionSecond = make([]float64, partitionCount)
	for k := 0; k < partitionCount; k++ {
		r, rerr := inst.ix.Range(k)
		if rerr != nil {
			return 0, 0, 0, nil, nil, nil, wrapErr("CalculateEdgeLogLikelihoodsByPartition", rerr)
		}
		ll, first, second, rerr := reduce.Edge(parent, child, inst.dims, weights, freqs, matrix, firstDeriv, secondDeriv, cumulative, inst.patternWeights, siteLL, siteFirst, siteSecond, r.Start, r.End)
		if rerr != nil {
			return 0, 0, 0, nil, nil, nil, wrapErr("CalculateEdgeLogLikelihoodsByPartition", rerr)
		}
		byPartitionLL[k] = ll
		byPartitionFirst[k] = first
		byPartitionSecond[k] = second
		sumLL += ll
		sumFirst += first
		sumSecond += second
	}
	copySiteOut(outSiteLL, siteLL)
	copySiteOut(outSiteFirst, siteFirst)
	copySiteOut(outSiteSecond, siteSecond)
	inst.lastSumFirst.Store(sumFirst)
	inst.lastSumSecond.Store(sumSecond)
	if outSiteLL != nil {
		inst.lastSiteLL.Store(append([]float64(nil), outSiteLL...))
	}
	if outSiteFirst != nil {
		inst.lastSiteFirst.Store(append([]float64(nil), outSiteFirst...))
	}
	if outSiteSecond != nil {
		inst.lastSiteSecond.Store(append([]float64(nil), outSiteSecond...))
	}
	return sumLL, sumFirst, sumSecond, byPartitionLL, byPartitionFirst, byPartitionSecond, nil
}

func siteBuffer[R bcore.Precision](out []float64, n int) []R {
	if out == nil {
		return nil
	}
	return make([]R, n)
}

func copySiteOut[R bcore.Precision](out []float64, buf []R) {
	if out == nil {
		return
	}
	for i := range out {
		out[i] = float64(buf[i])
	}
}

// AccumulateScaleFactors adds the listed scale buffers' contributions
// into cumulativeScaleIndex.
func (inst *Instance[R]) AccumulateScaleFactors(indices []int, cumulativeScaleIndex int) error {
	return wrapErr("AccumulateScaleFactors", scale.Accumulate(inst.pool.ScaleBuffers, indices, inst.pool.ScaleBuffers[cumulativeScaleIndex]))
}

// RemoveScaleFactors subtracts the listed scale buffers' contributions
// from cumulativeScaleIndex.
func (inst *Instance[R]) RemoveScaleFactors(indices []int, cumulativeScaleIndex int) error {
	return wrapErr("RemoveScaleFactors", scale.Remove(inst.pool.ScaleBuffers, indices, inst.pool.ScaleBuffers[cumulativeScaleIndex]))
}

// ResetScaleFactors zeroes cumulativeScaleIndex.
func (inst *Instance[R]) ResetScaleFactors(cumulativeScaleIndex int) error {
	if cumulativeScaleIndex < 0 || cumulativeScaleIndex >= len(inst.pool.ScaleBuffers) {
		return wrapErr("ResetScaleFactors", fmt.Errorf("%w: scale index %d", dispatch.ErrOutOfRange, cumulativeScaleIndex))
	}
	scale.Reset(inst.pool.ScaleBuffers[cumulativeScaleIndex])
	return nil
}

// CopyScaleFactors blits src's scale buffer into dest's.
func (inst *Instance[R]) CopyScaleFactors(dest, src int) error {
	return wrapErr("CopyScaleFactors", scale.Copy(inst.pool.ScaleBuffers[dest], inst.pool.ScaleBuffers[src]))
}

// AccumulateScaleFactorsByPartition restricts AccumulateScaleFactors to
// one partition's pattern range.
func (inst *Instance[R]) AccumulateScaleFactorsByPartition(indices []int, cumulativeScaleIndex, partition int) error {
	return wrapErr("AccumulateScaleFactorsByPartition", scale.AccumulateByPartition(inst.pool.ScaleBuffers, indices, inst.pool.ScaleBuffers[cumulativeScaleIndex], inst.ix, partition))
}

// RemoveScaleFactorsByPartition restricts RemoveScaleFactors to one
// partition's pattern range.
func (inst *Instance[R]) RemoveScaleFactorsByPartition(indices []int, cumulativeScaleIndex, partition int) error {
	return wrapErr("RemoveScaleFactorsByPartition", scale.RemoveByPartition(inst.pool.ScaleBuffers, indices, inst.pool.ScaleBuffers[cumulativeScaleIndex], inst.ix, partition))
}

// ResetScaleFactorsByPartition zeroes only one partition's range of
// cumulativeScaleIndex.
func (inst *Instance[R]) ResetScaleFactorsByPartition(cumulativeScaleIndex, partition int) error {
	if cumulativeScaleIndex < 0 || cumulativeScaleIndex >= len(inst.pool.ScaleBuffers) {
		return wrapErr("ResetScaleFactorsByPartition", fmt.Errorf("%w: scale index %d", dispatch.ErrOutOfRange, cumulativeScaleIndex))
	}
	return wrapErr("ResetScaleFactorsByPartition", scale.ResetByPartition(inst.pool.ScaleBuffers[cumulativeScaleIndex], inst.ix, partition))
}

// GetScaleFactors copies scaleIndex's per-pattern log-scale values into out.
func (inst *Instance[R]) GetScaleFactors(scaleIndex int, out []float64) error {
	if scaleIndex < 0 || scaleIndex >= len(inst.pool.ScaleBuffers) {
		return wrapErr("GetScaleFactors", fmt.Errorf("%w: scale index %d", dispatch.ErrOutOfRange, scaleIndex))
	}
	src := inst.pool.ScaleBuffers[scaleIndex]
	if len(out) != inst.dims.PatternCount {
		return wrapErr("GetScaleFactors", fmt.Errorf("%w: output buffer has %d slots, need %d", dispatch.ErrOutOfRange, len(out), inst.dims.PatternCount))
	}
	for p := range out {
		out[p] = float64(src[p])
	}
	return nil
}

// GetLogLikelihood returns the total log-likelihood from the most
// recent CalculateRootLogLikelihoods(ByPartition) call.
func (inst *Instance[R]) GetLogLikelihood() (float64, error) {
	v, ok := inst.lastSumLL.Load().(float64)
	if !ok {
		return 0, wrapErr("GetLogLikelihood", fmt.Errorf("%w: no root log-likelihood has been calculated yet", dispatch.ErrOutOfRange))
	}
	return v, nil
}

// GetDerivatives returns the first and second derivative sums from the
// most recent CalculateEdgeLogLikelihoods call.
func (inst *Instance[R]) GetDerivatives() (first, second float64, err error) {
	f, ok := inst.lastSumFirst.Load().(float64)
	if !ok {
		return 0, 0, wrapErr("GetDerivatives", fmt.Errorf("%w: no edge derivative has been calculated yet", dispatch.ErrOutOfRange))
	}
	s, _ := inst.lastSumSecond.Load().(float64)
	return f, s, nil
}

// GetSiteLogLikelihoods returns the per-site log-likelihoods cached by
// the most recent Calculate{Root,Edge}LogLikelihoods call that was
// given a non-nil outSiteLL.
func (inst *Instance[R]) GetSiteLogLikelihoods() ([]float64, error) {
	v, ok := inst.lastSiteLL.Load().([]float64)
	if !ok {
		return nil, wrapErr("GetSiteLogLikelihoods", fmt.Errorf("%w: no site log-likelihoods have been cached", dispatch.ErrOutOfRange))
	}
	return v, nil
}

// GetSiteDerivatives returns the per-site first and second derivatives
// cached by the most recent CalculateEdgeLogLikelihoods call.
func (inst *Instance[R]) GetSiteDerivatives() (first, second []float64, err error) {
	f, ok := inst.lastSiteFirst.Load().([]float64)
	if !ok {
		return nil, nil, wrapErr("GetSiteDerivatives", fmt.Errorf("%w: no site derivatives have been cached", dispatch.ErrOutOfRange))
	}
	s, _ := inst.lastSiteSecond.Load().([]float64)
	return f, s, nil
}

// GetInstanceDetails reports the instance's fixed configuration.
func (inst *Instance[R]) GetInstanceDetails() InstanceDetails {
	var zero R
	precision := "float64"
	if _, ok := any(zero).(float32); ok {
		precision = "float32"
	}
	return InstanceDetails{
		ID:                  inst.id.String(),
		TipCount:            inst.dims.TipCount,
		PartialsBufferCount: inst.dims.BufferCount,
		CompactBufferCount:  inst.dims.CompactCount,
		StateCount:          inst.dims.StateCount,
		PatternCount:        inst.dims.PatternCount,
		EigenCount:          inst.dims.EigenCount,
		MatrixCount:         inst.dims.MatrixCount,
		CategoryCount:       inst.dims.CategoryCount,
		ScaleBufferCount:    inst.dims.ScaleBufferCount,
		ThreadCount:         inst.disp.ThreadCount(),
		AutoScaling:         inst.autoScaling,
		Precision:           precision,
	}
}
