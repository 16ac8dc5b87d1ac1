package ml

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type DecisionTree struct {
	MaxDepth    int
	MaxFeatures int
	Seed        int64

	nodes       []TreeNode
	importances []float64
}

type TreeNode struct {
	FeatureIdx int        `json:"feature_idx"`
	Threshold  float64    `json:"threshold"`
	LeftChild  int        `json:"left_child"`
	RightChild int        `json:"right_child"`
	ClassLabel int        `json:"class_label"`
	IsLeaf     bool       `json:"is_leaf"`
	Value      [2]float64 `json:"value"`
}

func (dt *DecisionTree) Fit(X *mat.Dense, y []int) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted grows the tree; samples with zero weight are left out.
func (dt *DecisionTree) FitWeighted(X *mat.Dense, y []int, weights []float64) error {
	n, p, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != n {
		return errSizeMismatch
	}

	raw := X.RawMatrix()
	b := &treeBuilder{
		data:        raw.Data,
		stride:      raw.Stride,
		nFeatures:   p,
		y:           y,
		w:           weights,
		rng:         rand.New(rand.NewSource(dt.Seed)),
		maxDepth:    dt.MaxDepth,
		maxFeatures: dt.MaxFeatures,
		importances: make([]float64, p),
	}
	if b.maxFeatures <= 0 || b.maxFeatures > p {
		b.maxFeatures = p
	}

	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if weights[i] > 0 {
			idx = append(idx, i)
			b.totalWeight += weights[i]
		}
	}
	if len(idx) == 0 {
		return errEmptyInput
	}
	b.sorted = make([]int, len(idx))

	dt.nodes = b.buildNode(idx, 0)
	dt.importances = normalize(b.importances)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return 0, 0, err
	}
	total := leaf.Value[0] + leaf.Value[1]
	return leaf.ClassLabel, leaf.Value[leaf.ClassLabel] / total, nil
}

func (dt *DecisionTree) PredictProba(features []float64) ([2]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return [2]float64{}, err
	}
	total := leaf.Value[0] + leaf.Value[1]
	return [2]float64{leaf.Value[0] / total, leaf.Value[1] / total}, nil
}

// FeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTree) FeatureImportances() []float64 {
	out := make([]float64, len(dt.importances))
	copy(out, dt.importances)
	return out
}

func (dt *DecisionTree) NodeCount() int {
	return len(dt.nodes)
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.nodes) == 0 {
		return nil, errNotTrained
	}
	idx := 0
	for {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errSizeMismatch
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

type treeBuilder struct {
	data        []float64
	stride      int
	nFeatures   int
	y           []int
	w           []float64
	rng         *rand.Rand
	maxDepth    int
	maxFeatures int
	totalWeight float64
	importances []float64
	sorted      []int
}

type treeSplit struct {
	feature     int
	threshold   float64
	improvement float64
}

func (b *treeBuilder) at(i, j int) float64 {
	return b.data[i*b.stride+j]
}

func (b *treeBuilder) buildNode(idx []int, depth int) []TreeNode {
	value := b.classWeights(idx)
	leaf := []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		ClassLabel: majorityLabel(value),
		IsLeaf:     true,
		Value:      value,
	}}
	if (b.maxDepth > 0 && depth >= b.maxDepth) || len(idx) < 2 || isPure(value) {
		return leaf
	}

	split, ok := b.findBestSplit(idx, value)
	if !ok {
		return leaf
	}
	left, right := b.partition(idx, split.feature, split.threshold)
	if len(left) == 0 || len(right) == 0 {
		return leaf
	}
	b.importances[split.feature] += split.improvement

	leftNodes := b.buildNode(left, depth+1)
	rightNodes := b.buildNode(right, depth+1)

	root := leaf[0]
	root.FeatureIdx = split.feature
	root.Threshold = split.threshold
	root.IsLeaf = false
	root.LeftChild = 1
	root.RightChild = 1 + len(leftNodes)

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, root.LeftChild)...)
	nodes = append(nodes, offsetNodes(rightNodes, root.RightChild)...)
	return nodes
}

// findBestSplit scans features in random order until maxFeatures non-constant ones were tried.
func (b *treeBuilder) findBestSplit(idx []int, value [2]float64) (treeSplit, bool) {
	nodeWeight := value[0] + value[1]
	nodeImpurity := gini(value)
	best := treeSplit{feature: -1, improvement: math.Inf(-1)}

	sorted := b.sorted[:len(idx)]
	visited := 0
	for _, f := range b.rng.Perm(b.nFeatures) {
		if visited >= b.maxFeatures {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.at(sorted[a], f) < b.at(sorted[c], f)
		})
		if b.at(sorted[0], f) == b.at(sorted[len(sorted)-1], f) {
			continue
		}
		visited++

		var left [2]float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			left[b.y[i]] += b.w[i]
			current, next := b.at(i, f), b.at(sorted[k+1], f)
			if next <= current {
				continue
			}
			right := [2]float64{value[0] - left[0], value[1] - left[1]}
			leftWeight := left[0] + left[1]
			rightWeight := right[0] + right[1]
			improvement := (nodeWeight*nodeImpurity - leftWeight*gini(left) - rightWeight*gini(right)) / b.totalWeight
			if improvement > best.improvement {
				threshold := current + (next-current)/2
				if threshold >= next {
					threshold = current
				}
				best = treeSplit{feature: f, threshold: threshold, improvement: improvement}
			}
		}
	}
	if best.feature == -1 {
		return best, false
	}
	if best.improvement < 0 {
		best.improvement = 0
	}
	return best, true
}

func (b *treeBuilder) partition(idx []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.at(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func (b *treeBuilder) classWeights(idx []int) [2]float64 {
	var value [2]float64
	for _, i := range idx {
		value[b.y[i]] += b.w[i]
	}
	return value
}

func offsetNodes(nodes []TreeNode, offset int) []TreeNode {
	for i := range nodes {
		if !nodes[i].IsLeaf {
			nodes[i].LeftChild += offset
			nodes[i].RightChild += offset
		}
	}
	return nodes
}

func gini(value [2]float64) float64 {
	total := value[0] + value[1]
	if total == 0 {
		return 0
	}
	p0 := value[0] / total
	p1 := value[1] / total
	return 1 - p0*p0 - p1*p1
}

func majorityLabel(value [2]float64) int {
	if value[1] > value[0] {
		return 1
	}
	return 0
}

func isPure(value [2]float64) bool {
	return value[0] == 0 || value[1] == 0
}

func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	total := 0.0
	for _, v := range values {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range values {
		out[i] = v / total
	}
	return out
}
