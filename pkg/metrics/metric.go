package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/cyclopcam/labelkit/pkg/annotation"
)

// Metric names, as the labeling platform expects them
const (
	MetricCustomIoU      = "custom_iou"
	MetricClassification = "classification"
)

// IoUMetricName is the name of a confusion matrix at an IoU threshold, eg "50pct_iou"
func IoUMetricName(threshold float64) string {
	return fmt.Sprintf("%vpct_iou", int(math.Round(threshold*100)))
}

type ScalarMetric struct {
	MetricName  string  `json:"metricName"`
	FeatureName string  `json:"featureName,omitempty"`
	Value       float64 `json:"value"`
}

type ConfusionMetric struct {
	MetricName  string `json:"metricName"`
	FeatureName string `json:"featureName,omitempty"`
	Value       Matrix `json:"value"`
}

// MIoUMetric wraps MIoU. The result is empty when there is nothing to compare.
func MIoUMetric(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) ([]ScalarMetric, error) {
	iou, err := MIoU(ctx, groundTruth, prediction, opts)
	if err != nil || iou == nil {
		return nil, err
	}
	return []ScalarMetric{{MetricName: MetricCustomIoU, Value: *iou}}, nil
}

// FeatureMIoUMetric has one metric per feature, in FeaturePairs order
func FeatureMIoUMetric(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) ([]ScalarMetric, error) {
	e := newEvaluator(ctx, opts)
	out := []ScalarMetric{}
	for _, p := range FeaturePairs(groundTruth, prediction) {
		iou, err := e.featureIoU(p)
		if err != nil {
			return nil, err
		}
		if iou != nil {
			out = append(out, ScalarMetric{MetricName: MetricCustomIoU, FeatureName: p.Name, Value: *iou})
		}
	}
	return out, nil
}

// ConfusionMatrixMetric wraps ConfusionMatrix. The result is empty when there is nothing to compare.
func ConfusionMatrixMetric(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) ([]ConfusionMetric, error) {
	m, err := ConfusionMatrix(ctx, groundTruth, prediction, opts)
	if err != nil || m == nil {
		return nil, err
	}
	all := append(append([]annotation.Annotation{}, groundTruth...), prediction...)
	return []ConfusionMetric{{MetricName: metricName(all, opts.IoUThreshold), Value: *m}}, nil
}

// FeatureConfusionMatrixMetric has one metric per feature, in FeaturePairs order
func FeatureConfusionMatrixMetric(ctx context.Context, groundTruth, prediction []annotation.Annotation, opts Options) ([]ConfusionMetric, error) {
	e := newEvaluator(ctx, opts)
	out := []ConfusionMetric{}
	for _, p := range FeaturePairs(groundTruth, prediction) {
		m, err := e.featureMatrix(p)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		all := append(append([]annotation.Annotation{}, p.GroundTruth...), p.Prediction...)
		out = append(out, ConfusionMetric{MetricName: metricName(all, opts.IoUThreshold), FeatureName: p.Name, Value: *m})
	}
	return out, nil
}

// Matrices over classifications alone have no IoU threshold
func metricName(all []annotation.Annotation, threshold float64) string {
	for _, a := range all {
		if _, ok := a.(*annotation.ObjectAnnotation); ok {
			return IoUMetricName(threshold)
		}
	}
	return MetricClassification
}
