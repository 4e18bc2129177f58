package metrics

import (
	"context"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
)

// ConfusionMatrix is the sum of the confusion matrices of every feature.
// Returns nil if both sides are empty.
func ConfusionMatrix(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) (*Matrix, error) {
	e := newEvaluator(ctx, opts)
	var total *Matrix
	for _, p := range FeaturePairs(groundTruth, prediction) {
		m, err := e.featureMatrix(p)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if total == nil {
			total = &Matrix{}
		}
		total.Add(*m)
	}
	return total, nil
}

// FeatureConfusionMatrix is the confusion matrix of each feature, keyed as in FeaturePairs
func FeatureConfusionMatrix(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) (map[string]Matrix, error) {
	e := newEvaluator(ctx, opts)
	out := map[string]Matrix{}
	for _, p := range FeaturePairs(groundTruth, prediction) {
		m, err := e.featureMatrix(p)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out[p.Key] = *m
		}
	}
	return out, nil
}

func (e *evaluator) featureMatrix(p *FeaturePair) (*Matrix, error) {
	if len(p.GroundTruth) == 0 && len(p.Prediction) == 0 {
		return nil, nil
	}
	kind, err := kindOf(p)
	if err != nil {
		return nil, err
	}
	var m Matrix
	switch {
	case len(p.GroundTruth) == 0 || len(p.Prediction) == 0:
		m = Matrix{0, len(p.Prediction), 0, len(p.GroundTruth)}
	case kind == groupClassifications:
		m, err = classificationsMatrix(p.Key, classifications(p.GroundTruth), classifications(p.Prediction))
	case kind == groupMasks && !e.opts.IncludeSubclasses:
		m, err = e.pixelMatrix(objects(p.GroundTruth), objects(p.Prediction))
	default:
		m, err = e.objectsMatrix(objects(p.GroundTruth), objects(p.Prediction))
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// objectsMatrix pairs objects greedily by IoU. A pair counts as a true
// positive when its IoU exceeds the threshold and, if subclasses are
// included, its nested classifications agree completely. A rejected pair
// leaves both of its objects free to pair with others.
func (e *evaluator) objectsMatrix(gt, pred []*annotation.ObjectAnnotation) (Matrix, error) {
	cands, err := e.candidates(gt, pred)
	if err != nil {
		return Matrix{}, err
	}
	matched := greedy(cands,
		func(c *candidate) float64 { return c.iou },
		func(c *candidate) bool {
			if c.iou <= e.opts.IoUThreshold {
				return false
			}
			return !e.opts.IncludeSubclasses || c.subclass == nil || *c.subclass == 1
		})
	tp := len(matched)
	return Matrix{tp, len(pred) - tp, 0, len(gt) - tp}, nil
}

// pixelMatrix counts pixels of the merged masks of each side
func (e *evaluator) pixelMatrix(gt, pred []*annotation.ObjectAnnotation) (Matrix, error) {
	a, err := e.unionBitmap(gt)
	if err != nil {
		return Matrix{}, err
	}
	b, err := e.unionBitmap(pred)
	if err != nil {
		return Matrix{}, err
	}
	tp, fp, tn, fn, err := geom.PixelCounts(a, b)
	if err != nil {
		return Matrix{}, err
	}
	return Matrix{tp, fp, tn, fn}, nil
}
