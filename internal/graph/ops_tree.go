package graph

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

type branchMode uint8

const (
	modeLeaf branchMode = iota
	modeLEQ
	modeLT
	modeGTE
	modeGT
	modeEQ
	modeNEQ
)

var branchModes = map[string]branchMode{
	"LEAF":       modeLeaf,
	"BRANCH_LEQ": modeLEQ,
	"BRANCH_LT":  modeLT,
	"BRANCH_GTE": modeGTE,
	"BRANCH_GT":  modeGT,
	"BRANCH_EQ":  modeEQ,
	"BRANCH_NEQ": modeNEQ,
}

type leafWeight struct {
	class  int
	weight float32
}

type treeNode struct {
	mode        branchMode
	feature     int
	value       float32
	trueChild   int
	falseChild  int
	missingTrue bool
	weights     []leafWeight
}

func (t *treeNode) goTrue(x float32) bool {
	if t.missingTrue && math.IsNaN(float64(x)) {
		return true
	}
	switch t.mode {
	case modeLEQ:
		return x <= t.value
	case modeLT:
		return x < t.value
	case modeGTE:
		return x >= t.value
	case modeGT:
		return x > t.value
	case modeEQ:
		return x == t.value
	default:
		return x != t.value
	}
}

type treeEnsemble struct {
	nodes    []treeNode
	roots    []int
	labels   []int64
	post     postTransform
	base     []float32
	features int
	// binary is the single-score two-class layout: every leaf votes for
	// class 0 and the score is the positive-class margin.
	binary      bool
	allPositive bool
}

func compileTreeEnsemble(n *Node) (kernel, error) {
	te, err := newTreeEnsemble(n)
	if err != nil {
		return nil, err
	}
	return te.run, nil
}

func newTreeEnsemble(n *Node) (*treeEnsemble, error) {
	labels, err := classLabels(n)
	if err != nil {
		return nil, err
	}
	post, err := parsePostTransform(n)
	if err != nil {
		return nil, err
	}
	if n.hasAttr("nodes_values_as_tensor") || n.hasAttr("class_weights_as_tensor") {
		return nil, fmt.Errorf("%w: tensor-valued tree attributes", ErrUnsupportedOp)
	}

	treeIDs := n.attrInts("nodes_treeids")
	nodeIDs := n.attrInts("nodes_nodeids")
	featureIDs := n.attrInts("nodes_featureids")
	values := n.attrFloats("nodes_values")
	modes := n.attrStrings("nodes_modes")
	trueIDs := n.attrInts("nodes_truenodeids")
	falseIDs := n.attrInts("nodes_falsenodeids")
	missing := n.attrInts("nodes_missing_value_tracks_true")

	count := len(treeIDs)
	if count == 0 {
		return nil, fmt.Errorf("%w: tree ensemble without nodes", ErrInvalidGraph)
	}
	for name, l := range map[string]int{
		"nodes_nodeids": len(nodeIDs), "nodes_featureids": len(featureIDs),
		"nodes_values": len(values), "nodes_modes": len(modes),
		"nodes_truenodeids": len(trueIDs), "nodes_falsenodeids": len(falseIDs),
	} {
		if l != count {
			return nil, fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidGraph, name, l, count)
		}
	}
	if len(missing) != 0 && len(missing) != count {
		return nil, fmt.Errorf("%w: nodes_missing_value_tracks_true has %d entries, want %d", ErrInvalidGraph, len(missing), count)
	}

	type key struct{ tree, node int64 }
	index := make(map[key]int, count)
	te := &treeEnsemble{labels: labels, post: post, nodes: make([]treeNode, count)}
	seenTree := make(map[int64]bool)
	for i := range count {
		k := key{treeIDs[i], nodeIDs[i]}
		if _, dup := index[k]; dup {
			return nil, fmt.Errorf("%w: duplicate tree node %d/%d", ErrInvalidGraph, k.tree, k.node)
		}
		index[k] = i
		if !seenTree[treeIDs[i]] {
			seenTree[treeIDs[i]] = true
			te.roots = append(te.roots, i)
		}

		mode, ok := branchModes[modes[i]]
		if !ok {
			return nil, fmt.Errorf("%w: tree node mode %s", ErrUnsupportedOp, modes[i])
		}
		if featureIDs[i] < 0 {
			return nil, fmt.Errorf("%w: negative feature id %d", ErrInvalidGraph, featureIDs[i])
		}
		te.nodes[i] = treeNode{
			mode:        mode,
			feature:     int(featureIDs[i]),
			value:       values[i],
			missingTrue: len(missing) > 0 && missing[i] != 0,
		}
		if mode != modeLeaf {
			te.features = max(te.features, int(featureIDs[i])+1)
		}
	}
	for i := range count {
		nd := &te.nodes[i]
		if nd.mode == modeLeaf {
			continue
		}
		t, ok := index[key{treeIDs[i], trueIDs[i]}]
		if !ok {
			return nil, fmt.Errorf("%w: tree %d node %d has missing true child %d", ErrInvalidGraph, treeIDs[i], nodeIDs[i], trueIDs[i])
		}
		f, ok := index[key{treeIDs[i], falseIDs[i]}]
		if !ok {
			return nil, fmt.Errorf("%w: tree %d node %d has missing false child %d", ErrInvalidGraph, treeIDs[i], nodeIDs[i], falseIDs[i])
		}
		nd.trueChild, nd.falseChild = t, f
	}

	classTrees := n.attrInts("class_treeids")
	classNodes := n.attrInts("class_nodeids")
	classIDs := n.attrInts("class_ids")
	weights := n.attrFloats("class_weights")
	if len(classNodes) != len(classTrees) || len(classIDs) != len(classTrees) || len(weights) != len(classTrees) {
		return nil, fmt.Errorf("%w: class_* attributes differ in length", ErrInvalidGraph)
	}
	te.allPositive = true
	te.binary = len(labels) == 2
	for i := range classTrees {
		idx, ok := index[key{classTrees[i], classNodes[i]}]
		if !ok {
			return nil, fmt.Errorf("%w: weight for unknown node %d/%d", ErrInvalidGraph, classTrees[i], classNodes[i])
		}
		if te.nodes[idx].mode != modeLeaf {
			return nil, fmt.Errorf("%w: weight attached to branch node %d/%d", ErrInvalidGraph, classTrees[i], classNodes[i])
		}
		c := int(classIDs[i])
		if c < 0 || c >= len(labels) {
			return nil, fmt.Errorf("%w: class id %d out of range", ErrInvalidGraph, c)
		}
		if c != 0 {
			te.binary = false
		}
		if weights[i] < 0 {
			te.allPositive = false
		}
		te.nodes[idx].weights = append(te.nodes[idx].weights, leafWeight{class: c, weight: weights[i]})
	}

	te.base = append(te.base, n.attrFloats("base_values")...)
	if !te.binary && len(te.base) != 0 && len(te.base) != len(labels) {
		return nil, fmt.Errorf("%w: %d base values for %d classes", ErrInvalidGraph, len(te.base), len(labels))
	}
	return te, nil
}

// leaf walks one tree for row x and returns the reached leaf.
func (te *treeEnsemble) leaf(root int, x []float32) (*treeNode, error) {
	idx := root
	for range len(te.nodes) {
		nd := &te.nodes[idx]
		if nd.mode == modeLeaf {
			return nd, nil
		}
		if nd.goTrue(x[nd.feature]) {
			idx = nd.trueChild
		} else {
			idx = nd.falseChild
		}
	}
	return nil, fmt.Errorf("tree rooted at node %d does not terminate", root)
}

func (te *treeEnsemble) run(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	x := in[0]
	if x.DType() == tensor.Int64 {
		var err error
		if x, err = castTo(x, tensor.Float32); err != nil {
			return nil, err
		}
	}
	nx, c, err := rows(x)
	if err != nil {
		return nil, err
	}
	if c < te.features {
		return nil, fmt.Errorf("tree ensemble reads feature %d, input has %d", te.features-1, c)
	}

	classes := len(te.labels)
	src := x.Float32s()
	out := make([]float32, nx*classes)
	for r := range nx {
		row := src[r*c : (r+1)*c]
		dst := out[r*classes : (r+1)*classes]
		for _, root := range te.roots {
			lf, err := te.leaf(root, row)
			if err != nil {
				return nil, err
			}
			for _, w := range lf.weights {
				dst[w.class] += w.weight
			}
		}
		if te.binary {
			te.finishBinary(dst)
			continue
		}
		for i, b := range te.base {
			dst[i] += b
		}
		te.post.apply(dst)
	}
	return classifierOutputs(te.labels, out, nx, classes)
}

// finishBinary expands the accumulated margin in dst[0] into two class scores.
func (te *treeEnsemble) finishBinary(dst []float32) {
	s := dst[0]
	if len(te.base) > 0 {
		s += te.base[len(te.base)-1]
	}
	switch {
	case te.post == postLogistic:
		dst[0], dst[1] = sigmoid(-s), sigmoid(s)
	case te.post == postNone && te.allPositive:
		dst[0], dst[1] = 1-s, s
	default:
		dst[0], dst[1] = -s, s
		te.post.apply(dst)
	}
}
