package graph

import (
	"fmt"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

func init() {
	register(domainML, "Scaler", opSpec{minIn: 1, maxIn: 1, compile: compileScaler})
	register(domainML, "LinearClassifier", opSpec{minIn: 1, maxIn: 1, compile: compileLinearClassifier})
	register(domainML, "TreeEnsembleClassifier", opSpec{minIn: 1, maxIn: 1, compile: compileTreeEnsemble})
}

type postTransform string

const (
	postNone        postTransform = "NONE"
	postLogistic    postTransform = "LOGISTIC"
	postSoftmax     postTransform = "SOFTMAX"
	postSoftmaxZero postTransform = "SOFTMAX_ZERO"
)

func parsePostTransform(n *Node) (postTransform, error) {
	p := postTransform(n.attrString("post_transform", string(postNone)))
	switch p {
	case postNone, postLogistic, postSoftmax, postSoftmaxZero:
		return p, nil
	default:
		return "", fmt.Errorf("%w: post_transform %s", ErrUnsupportedOp, p)
	}
}

// apply transforms one row of class scores in place.
func (p postTransform) apply(scores []float32) {
	switch p {
	case postLogistic:
		for i, s := range scores {
			scores[i] = sigmoid(s)
		}
	case postSoftmax:
		softmaxInPlace(scores)
	case postSoftmaxZero:
		nz := make([]float32, 0, len(scores))
		for _, s := range scores {
			if s != 0 {
				nz = append(nz, s)
			}
		}
		softmaxInPlace(nz)
		j := 0
		for i, s := range scores {
			if s != 0 {
				scores[i] = nz[j]
				j++
			}
		}
	}
}

// rows views a float input of rank 1 or 2 as N rows of C features.
func rows(in *tensor.Tensor) (n, c int, err error) {
	if err := want(in, tensor.Float32, "X"); err != nil {
		return 0, 0, err
	}
	switch in.Rank() {
	case 1:
		return 1, in.Dim(0), nil
	case 2:
		return in.Dim(0), in.Dim(1), nil
	default:
		return 0, 0, fmt.Errorf("X must have rank 1 or 2, got %v", in.Shape())
	}
}

func compileScaler(n *Node) (kernel, error) {
	offset := append([]float32(nil), n.attrFloats("offset")...)
	scale := append([]float32(nil), n.attrFloats("scale")...)
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		x := in[0]
		if x.DType() == tensor.Int64 {
			var err error
			if x, err = castTo(x, tensor.Float32); err != nil {
				return nil, err
			}
		}
		_, c, err := rows(x)
		if err != nil {
			return nil, err
		}
		pick := func(v []float32, i int, def float32) (float32, error) {
			switch len(v) {
			case 0:
				return def, nil
			case 1:
				return v[0], nil
			case c:
				return v[i], nil
			default:
				return 0, fmt.Errorf("scaler parameter length %d does not match %d features", len(v), c)
			}
		}

		src := x.Float32s()
		out := make([]float32, len(src))
		for i, v := range src {
			f := i % c
			o, err := pick(offset, f, 0)
			if err != nil {
				return nil, err
			}
			s, err := pick(scale, f, 1)
			if err != nil {
				return nil, err
			}
			out[i] = (v - o) * s
		}
		return single(tensor.NewFloat32(x.Shape(), out))
	}, nil
}

// classLabels reads the integer class labels of a classifier node.
func classLabels(n *Node) ([]int64, error) {
	if n.hasAttr("classlabels_strings") {
		return nil, fmt.Errorf("%w: string class labels", ErrUnsupportedOp)
	}
	labels := append([]int64(nil), n.attrInts("classlabels_ints")...)
	if len(labels) == 0 {
		labels = append(labels, n.attrInts("classlabels_int64s")...)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: classifier without class labels", ErrInvalidGraph)
	}
	return labels, nil
}

// argmax returns the first index of the largest score.
func argmax(scores []float32) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

func classifierOutputs(labels []int64, scores []float32, n, classes int) ([]*tensor.Tensor, error) {
	y := make([]int64, n)
	for r := range n {
		y[r] = labels[argmax(scores[r*classes:(r+1)*classes])]
	}
	yt, err := tensor.NewInt64([]int{n}, y)
	if err != nil {
		return nil, err
	}
	zt, err := tensor.NewFloat32([]int{n, classes}, scores)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{yt, zt}, nil
}

func compileLinearClassifier(n *Node) (kernel, error) {
	labels, err := classLabels(n)
	if err != nil {
		return nil, err
	}
	post, err := parsePostTransform(n)
	if err != nil {
		return nil, err
	}
	coef := append([]float32(nil), n.attrFloats("coefficients")...)
	intercepts := append([]float32(nil), n.attrFloats("intercepts")...)
	if len(coef) == 0 {
		return nil, fmt.Errorf("%w: linear classifier without coefficients", ErrInvalidGraph)
	}
	nrows := len(intercepts)
	if nrows == 0 {
		nrows = len(labels)
		if len(labels) == 2 && len(coef)%2 != 0 {
			nrows = 1
		}
	}
	if len(coef)%nrows != 0 {
		return nil, fmt.Errorf("%w: %d coefficients for %d classes", ErrInvalidGraph, len(coef), nrows)
	}
	binary := nrows == 1 && len(labels) == 2
	if !binary && nrows != len(labels) {
		return nil, fmt.Errorf("%w: %d score rows for %d labels", ErrInvalidGraph, nrows, len(labels))
	}

	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		nx, c, err := rows(in[0])
		if err != nil {
			return nil, err
		}
		if c*nrows != len(coef) {
			return nil, fmt.Errorf("linear classifier expects %d features, got %d", len(coef)/nrows, c)
		}
		x := in[0].Float32s()
		classes := len(labels)
		out := make([]float32, nx*classes)
		raw := make([]float32, nrows)
		for r := range nx {
			feat := x[r*c : (r+1)*c]
			for k := range nrows {
				var s float32
				if k < len(intercepts) {
					s = intercepts[k]
				}
				for j, v := range feat {
					s += coef[k*c+j] * v
				}
				raw[k] = s
			}
			dst := out[r*classes : (r+1)*classes]
			if binary {
				s := raw[0]
				if post == postLogistic {
					p := sigmoid(s)
					dst[0], dst[1] = 1-p, p
				} else {
					dst[0], dst[1] = -s, s
					post.apply(dst)
				}
				continue
			}
			copy(dst, raw)
			post.apply(dst)
		}
		return classifierOutputs(labels, out, nx, classes)
	}, nil
}
