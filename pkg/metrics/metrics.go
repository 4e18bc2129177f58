// Package metrics compares predicted annotations against ground truth.
//
// Annotations are first grouped by feature. Within a group, objects are
// paired greedily by descending IoU, and classifications are compared by
// their answers. The result is either a mean IoU, or a confusion matrix
// [TP, FP, TN, FN]. A nil result means there was nothing to compare.
package metrics

import (
	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/cyclopcam/logs"
)

const DefaultIoUThreshold = 0.5

type Options struct {
	IoUThreshold      float64      // A pair of objects matches when their IoU exceeds this
	BufferRadius      float64      // Points and lines are grown by this much before comparison
	IncludeSubclasses bool         // Compare the classifications nested inside objects too
	Fetcher           mask.Fetcher // Retrieves referenced masks. May be nil if all masks are inline.
	Log               logs.Log     // May be nil
}

func DefaultOptions() Options {
	return Options{
		IoUThreshold: DefaultIoUThreshold,
		BufferRadius: geom.DefaultBufferRadius,
	}
}

// Matrix is a confusion matrix: [TP, FP, TN, FN]
type Matrix [4]int

func (c *Matrix) Add(o Matrix) {
	for i := range c {
		c[i] += o[i]
	}
}

func (c Matrix) TP() int { return c[0] }
func (c Matrix) FP() int { return c[1] }
func (c Matrix) TN() int { return c[2] }
func (c Matrix) FN() int { return c[3] }

// FeaturePair holds the annotations of one feature, from both sides
type FeaturePair struct {
	Key         string // Feature schema id or name
	Name        string
	GroundTruth []annotation.Annotation
	Prediction  []annotation.Annotation
}

// FeaturePairs groups annotations by feature, in the order that features
// are first seen (ground truth first). Features are keyed by feature schema
// id if every annotation on both sides has one, and by name otherwise.
// Relationships are not measured, and are left out.
func FeaturePairs(groundTruth, prediction []annotation.Annotation) []*FeaturePair {
	byID := true
	for _, list := range [][]annotation.Annotation{groundTruth, prediction} {
		for _, a := range list {
			if _, ok := a.(*annotation.RelationshipAnnotation); ok {
				continue
			}
			if a.Base().FeatureSchemaID == "" {
				byID = false
			}
		}
	}
	keyOf := func(a annotation.Annotation) string {
		if byID {
			return a.Base().FeatureSchemaID
		}
		return a.Base().Name
	}

	pairs := []*FeaturePair{}
	index := map[string]*FeaturePair{}
	get := func(a annotation.Annotation) *FeaturePair {
		key := keyOf(a)
		p := index[key]
		if p == nil {
			p = &FeaturePair{Key: key, Name: a.Base().Name}
			index[key] = p
			pairs = append(pairs, p)
		}
		if p.Name == "" {
			p.Name = a.Base().Name
		}
		return p
	}
	for _, a := range groundTruth {
		if _, ok := a.(*annotation.RelationshipAnnotation); !ok {
			p := get(a)
			p.GroundTruth = append(p.GroundTruth, a)
		}
	}
	for _, a := range prediction {
		if _, ok := a.(*annotation.RelationshipAnnotation); !ok {
			p := get(a)
			p.Prediction = append(p.Prediction, a)
		}
	}
	return pairs
}

type groupKind int

const (
	groupObjects groupKind = iota
	groupMasks
	groupClassifications
)

// kindOf checks that a feature group holds a single kind of annotation
func kindOf(p *FeaturePair) (groupKind, error) {
	nObjects, nMasks, nClassifications := 0, 0, 0
	all := append(append([]annotation.Annotation{}, p.GroundTruth...), p.Prediction...)
	for _, a := range all {
		switch v := a.(type) {
		case *annotation.ObjectAnnotation:
			switch v.Value.(type) {
			case annotation.Mask, annotation.DicomMask:
				nMasks++
			default:
				nObjects++
			}
		case *annotation.ClassificationAnnotation:
			nClassifications++
		default:
			return 0, labelerr.ClosedSetViolation(a)
		}
	}
	switch len(all) {
	case nObjects:
		return groupObjects, nil
	case nMasks:
		return groupMasks, nil
	case nClassifications:
		return groupClassifications, nil
	}
	return 0, labelerr.InvalidInput(p.Key, "feature mixes objects, masks, and classifications")
}

// Features are the same if their ids agree, or, when either lacks an id, if their names agree
func sameFeature(a, b annotation.Feature) bool {
	if a.FeatureSchemaID != "" && b.FeatureSchemaID != "" {
		return a.FeatureSchemaID == b.FeatureSchemaID
	}
	return a.Name == b.Name
}

func objects(list []annotation.Annotation) []*annotation.ObjectAnnotation {
	out := make([]*annotation.ObjectAnnotation, len(list))
	for i, a := range list {
		out[i] = a.(*annotation.ObjectAnnotation)
	}
	return out
}

func classifications(list []annotation.Annotation) []*annotation.ClassificationAnnotation {
	out := make([]*annotation.ClassificationAnnotation, len(list))
	for i, a := range list {
		out[i] = a.(*annotation.ClassificationAnnotation)
	}
	return out
}

func asAnnotations(list []*annotation.ClassificationAnnotation) []annotation.Annotation {
	out := make([]annotation.Annotation, len(list))
	for i, c := range list {
		out[i] = c
	}
	return out
}
