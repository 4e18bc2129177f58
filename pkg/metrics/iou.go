package metrics

import (
	"context"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"gonum.org/v1/gonum/stat"
)

// MIoU is the mean IoU over every feature present on either side.
// Returns nil if both sides are empty.
func MIoU(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) (*float64, error) {
	return newEvaluator(ctx, opts).miou(groundTruth, prediction)
}

// FeatureMIoU is the IoU of each feature, keyed as in FeaturePairs
func FeatureMIoU(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) (map[string]float64, error) {
	e := newEvaluator(ctx, opts)
	out := map[string]float64{}
	for _, p := range FeaturePairs(groundTruth, prediction) {
		iou, err := e.featureIoU(p)
		if err != nil {
			return nil, err
		}
		if iou != nil {
			out[p.Key] = *iou
		}
	}
	return out, nil
}

func (e *evaluator) miou(groundTruth, prediction []annotation.Annotation) (*float64, error) {
	values := []float64{}
	for _, p := range FeaturePairs(groundTruth, prediction) {
		iou, err := e.featureIoU(p)
		if err != nil {
			return nil, err
		}
		if iou != nil {
			values = append(values, *iou)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	mean := stat.Mean(values, nil)
	return &mean, nil
}

func (e *evaluator) featureIoU(p *FeaturePair) (*float64, error) {
	if len(p.GroundTruth) == 0 && len(p.Prediction) == 0 {
		return nil, nil
	}
	kind, err := kindOf(p)
	if err != nil {
		return nil, err
	}
	var iou float64
	switch {
	case len(p.GroundTruth) == 0 || len(p.Prediction) == 0:
		iou = 0
	case kind == groupClassifications:
		iou, err = classificationsIoU(p.Key, classifications(p.GroundTruth), classifications(p.Prediction))
	case kind == groupMasks && !e.opts.IncludeSubclasses:
		iou, err = e.pixelIoU(objects(p.GroundTruth), objects(p.Prediction))
	default:
		iou, err = e.objectsIoU(objects(p.GroundTruth), objects(p.Prediction))
	}
	if err != nil {
		return nil, err
	}
	return &iou, nil
}

// objectsIoU pairs objects greedily by agreement. Each pair contributes its
// agreement, and each unpaired object on either side contributes zero.
func (e *evaluator) objectsIoU(gt, pred []*annotation.ObjectAnnotation) (float64, error) {
	cands, err := e.candidates(gt, pred)
	if err != nil {
		return 0, err
	}
	matched := greedy(cands,
		func(c *candidate) float64 { return c.score },
		func(c *candidate) bool { return true })
	agreements := make([]float64, 0, len(gt)+len(pred)-len(matched))
	for _, m := range matched {
		agreements = append(agreements, m.score)
	}
	for i := 0; i < len(gt)+len(pred)-2*len(matched); i++ {
		agreements = append(agreements, 0)
	}
	return stat.Mean(agreements, nil), nil
}

// pixelIoU treats all of the masks on each side as one region
func (e *evaluator) pixelIoU(gt, pred []*annotation.ObjectAnnotation) (float64, error) {
	a, err := e.unionBitmap(gt)
	if err != nil {
		return 0, err
	}
	b, err := e.unionBitmap(pred)
	if err != nil {
		return 0, err
	}
	return geom.BitmapIoU(a, b)
}
