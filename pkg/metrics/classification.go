package metrics

import (
	"fmt"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"gonum.org/v1/gonum/stat"
)

// A set of classifications that answer the same question: the same video
// frame and conversational message
type partition struct {
	gt   []*annotation.ClassificationAnnotation
	pred []*annotation.ClassificationAnnotation
}

func partitionClassifications(gt, pred []*annotation.ClassificationAnnotation) []*partition {
	parts := []*partition{}
	index := map[string]*partition{}
	get := func(c *annotation.ClassificationAnnotation) *partition {
		frame := -1
		if c.Frame != nil {
			frame = c.Frame.Index
		}
		key := fmt.Sprintf("%v\x00%v", frame, c.MessageID)
		p := index[key]
		if p == nil {
			p = &partition{}
			index[key] = p
			parts = append(parts, p)
		}
		return p
	}
	for _, c := range gt {
		p := get(c)
		p.gt = append(p.gt, c)
	}
	for _, c := range pred {
		p := get(c)
		p.pred = append(p.pred, c)
	}
	return parts
}

// classificationsIoU is the mean over partitions
func classificationsIoU(key string, gt, pred []*annotation.ClassificationAnnotation) (float64, error) {
	values := []float64{}
	for _, p := range partitionClassifications(gt, pred) {
		if len(p.gt) != 1 || len(p.pred) != 1 {
			values = append(values, 0)
			continue
		}
		iou, err := answerIoU(key, p.gt[0].Value, p.pred[0].Value)
		if err != nil {
			return 0, err
		}
		values = append(values, iou)
	}
	return stat.Mean(values, nil), nil
}

func classificationsMatrix(key string, gt, pred []*annotation.ClassificationAnnotation) (Matrix, error) {
	total := Matrix{}
	for _, p := range partitionClassifications(gt, pred) {
		var m Matrix
		switch {
		case len(p.gt) == 0 || len(p.pred) == 0:
			m = Matrix{0, len(p.pred), 0, len(p.gt)}
		case len(p.gt) != 1 || len(p.pred) != 1:
			m = Matrix{0, 1, 0, 1}
		default:
			var err error
			if m, err = answerMatrix(key, p.gt[0].Value, p.pred[0].Value); err != nil {
				return total, err
			}
		}
		total.Add(m)
	}
	return total, nil
}

func checkSameAnswerType(key string, gt, pred annotation.ClassificationValue) error {
	for _, v := range []annotation.ClassificationValue{gt, pred} {
		switch v.(type) {
		case annotation.Radio, annotation.Checklist, annotation.Text, annotation.Scalar:
		default:
			return labelerr.ClosedSetViolation(v)
		}
	}
	if fmt.Sprintf("%T", gt) != fmt.Sprintf("%T", pred) {
		return labelerr.InvalidInput(key, "ground truth is %T but prediction is %T", gt, pred)
	}
	return nil
}

// answerOverlap counts the answers in both lists, only in gt, and only in pred
func answerOverlap(gt, pred []annotation.ClassificationAnswer) (both, onlyGT, onlyPred int) {
	used := make([]bool, len(pred))
	for _, g := range gt {
		found := false
		for j, p := range pred {
			if !used[j] && sameFeature(g.Feature, p.Feature) {
				used[j] = true
				found = true
				break
			}
		}
		if found {
			both++
		} else {
			onlyGT++
		}
	}
	onlyPred = len(pred) - both
	return
}

// agree is true for radio, text, and scalar answers that are identical
func agree(gt, pred annotation.ClassificationValue) bool {
	switch g := gt.(type) {
	case annotation.Radio:
		return sameFeature(g.Answer.Feature, pred.(annotation.Radio).Answer.Feature)
	case annotation.Text:
		return g.Answer == pred.(annotation.Text).Answer
	case annotation.Scalar:
		return g.Answer == pred.(annotation.Scalar).Answer
	}
	return false
}

func answerIoU(key string, gt, pred annotation.ClassificationValue) (float64, error) {
	if err := checkSameAnswerType(key, gt, pred); err != nil {
		return 0, err
	}
	if g, ok := gt.(annotation.Checklist); ok {
		both, onlyGT, onlyPred := answerOverlap(g.Answers, pred.(annotation.Checklist).Answers)
		if both+onlyGT+onlyPred == 0 {
			return 0, nil
		}
		return float64(both) / float64(both+onlyGT+onlyPred), nil
	}
	if agree(gt, pred) {
		return 1, nil
	}
	return 0, nil
}

func answerMatrix(key string, gt, pred annotation.ClassificationValue) (Matrix, error) {
	if err := checkSameAnswerType(key, gt, pred); err != nil {
		return Matrix{}, err
	}
	if g, ok := gt.(annotation.Checklist); ok {
		both, onlyGT, onlyPred := answerOverlap(g.Answers, pred.(annotation.Checklist).Answers)
		return Matrix{both, onlyPred, 0, onlyGT}, nil
	}
	if agree(gt, pred) {
		return Matrix{1, 0, 0, 0}, nil
	}
	return Matrix{0, 1, 0, 1}, nil
}
