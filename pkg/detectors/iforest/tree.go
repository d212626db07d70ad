package iforest

import (
	"math"
	"math/rand"
)

// eulerGamma approximates the harmonic number tail: H(n) ≈ ln(n) + γ.
const eulerGamma = 0.5772156649

// Tree is a single isolation tree. It is immutable once built.
type Tree struct {
	root *node
}

// node is a node in the isolation tree. Leaves have no children.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// size is the number of samples routed to this node.
	size  int
	depth int
}

func (n *node) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// buildTree recursively partitions data into an isolation tree.
func buildTree(data [][]float64, nFeatures, maxDepth int, rng *rand.Rand) *Tree {
	return &Tree{
		root: buildNode(data, nFeatures, maxDepth, 0, rng),
	}
}

func buildNode(data [][]float64, nFeatures, maxDepth, depth int, rng *rand.Rand) *node {
	n := len(data)

	// Terminal conditions
	if depth >= maxDepth || n <= 1 {
		return &node{size: n, depth: depth}
	}

	// Random feature and split value
	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// Zero-width range cannot be split
	if minVal == maxVal {
		return &node{size: n, depth: depth}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildNode(leftData, nFeatures, maxDepth, depth+1, rng),
		right:        buildNode(rightData, nFeatures, maxDepth, depth+1, rng),
		size:         n,
		depth:        depth,
	}
}

// PathLength returns the number of splits needed to isolate sample, plus the
// expected remaining path for the leaf it lands in.
func (t *Tree) PathLength(sample []float64) float64 {
	n := t.root
	for !n.isLeaf() {
		if sample[n.splitFeature] < n.splitValue {
			n = n.left
		} else {
			n = n.right
		}
	}
	return float64(n.depth) + averagePathLength(n.size)
}

// Size returns the number of samples the tree was built from.
func (t *Tree) Size() int {
	return t.root.size
}

// Height returns the depth of the deepest leaf.
func (t *Tree) Height() int {
	return height(t.root)
}

func height(n *node) int {
	if n.isLeaf() {
		return n.depth
	}
	return max(height(n.left), height(n.right))
}

// averagePathLength returns c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
