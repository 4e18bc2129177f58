package annotation

import (
	"bytes"

	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Features are the same if their ids agree, or, when either side lacks an id,
// if their names agree.
func sameFeature(a, b Feature) bool {
	if a.FeatureSchemaID != "" && b.FeatureSchemaID != "" {
		return a.FeatureSchemaID == b.FeatureSchemaID
	}
	return a.Name == b.Name
}

func sameMask(a, b mask.Mask) bool {
	if a.URL != b.URL || a.Color != b.Color {
		return false
	}
	if (a.Image == nil) != (b.Image == nil) {
		return false
	}
	if a.Image == nil {
		return true
	}
	if a.Image.Width != b.Image.Width || a.Image.Height != b.Image.Height {
		return false
	}
	// Compare selected pixels, so that canvases that differ only outside the
	// instance color are still equal
	return bytes.Equal(boolBytes(mask.SelectColor(a.Image, a.Color).Bits), boolBytes(mask.SelectColor(b.Image, b.Color).Bits))
}

func boolBytes(bits []bool) []byte {
	out := make([]byte, len(bits))
	for i, b := range bits {
		if b {
			out[i] = 1
		}
	}
	return out
}

var compareOptions = cmp.Options{
	cmp.Comparer(sameFeature),
	cmp.Comparer(sameMask),
	cmpopts.IgnoreFields(Extra{}, "UUID"),
	cmpopts.EquateEmpty(),
}

// relationship endpoints are compared by LabelsEqual, through their referents
var ignoreEndpoints = cmpopts.IgnoreFields(RelationshipAnnotation{}, "Source", "Target")

// Equal compares two annotations structurally: kind, resolved feature, value,
// and ordered sub-classifications. UUIDs are not part of identity.
func Equal(a, b Annotation) bool {
	return cmp.Equal(a, b, compareOptions, ignoreEndpoints)
}

// Diff is a human readable description of the difference between two annotations
func Diff(a, b Annotation) string {
	return cmp.Diff(a, b, compareOptions, ignoreEndpoints)
}

// LabelsEqual compares data references, and annotations as a multiset: every
// annotation of a must match a distinct annotation of b, in any order.
// A relationship matches if its source and target refer to matching objects
// in both labels. A video track's frames all share one uuid, so an endpoint
// refers to every frame of its track.
func LabelsEqual(a, b *Label) bool {
	if a.Data.Key() != b.Data.Key() || len(a.Annotations) != len(b.Annotations) {
		return false
	}
	refA := referents(a)
	refB := referents(b)
	used := make([]bool, len(b.Annotations))
outer:
	for _, x := range a.Annotations {
		for j, y := range b.Annotations {
			if used[j] || !Equal(x, y) {
				continue
			}
			if rx, ok := x.(*RelationshipAnnotation); ok {
				ry := y.(*RelationshipAnnotation)
				if !sameObjects(refA[rx.Source], refB[ry.Source]) || !sameObjects(refA[rx.Target], refB[ry.Target]) {
					continue
				}
			}
			used[j] = true
			continue outer
		}
		return false
	}
	return true
}

func referents(l *Label) map[string][]*ObjectAnnotation {
	ref := map[string][]*ObjectAnnotation{}
	for _, o := range l.Objects() {
		if o.Extra.UUID != "" {
			ref[o.Extra.UUID] = append(ref[o.Extra.UUID], o)
		}
	}
	return ref
}

// sameObjects is true if both sides are non-empty and match one to one, in any order
func sameObjects(a, b []*ObjectAnnotation) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
outer:
	for _, x := range a {
		for j, y := range b {
			if !used[j] && Equal(x, y) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}
