package metrics

import (
	"context"
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

// evaluator holds the options and the masks materialized so far, for one call
type evaluator struct {
	ctx     context.Context
	opts    Options
	bitmaps map[*annotation.ObjectAnnotation]*geom.Bitmap
}

func newEvaluator(ctx context.Context, opts Options) *evaluator {
	return &evaluator{
		ctx:     ctx,
		opts:    opts,
		bitmaps: map[*annotation.ObjectAnnotation]*geom.Bitmap{},
	}
}

// A candidate pairing of ground truth gt with prediction pred
type candidate struct {
	gt       int
	pred     int
	iou      float64  // Geometric agreement
	subclass *float64 // Agreement of nested classifications. Nil if not measured, or nothing to compare.
	score    float64  // iou, averaged with subclass when subclasses are included
}

// candidates returns every ground truth and prediction pair, in input order.
// Pairs whose bounds are too far apart to overlap are given an IoU of zero
// without being measured.
func (e *evaluator) candidates(gt, pred []*annotation.ObjectAnnotation) ([]candidate, error) {
	near := e.nearPairs(gt, pred)
	out := make([]candidate, 0, len(gt)*len(pred))
	for i, g := range gt {
		for j, p := range pred {
			c := candidate{gt: i, pred: j}
			if near == nil || near[i][j] {
				iou, err := e.objectIoU(g, p)
				if err != nil {
					return nil, err
				}
				c.iou = iou
			} else if err := checkComparable(g, p); err != nil {
				return nil, err
			}
			c.score = c.iou
			if e.opts.IncludeSubclasses && c.iou > 0 {
				sub, err := e.subclassIoU(g, p)
				if err != nil {
					return nil, err
				}
				c.subclass = sub
				if sub != nil {
					c.score = (c.iou + *sub) / 2
				}
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// greedy walks the candidates from the highest key down, and pairs each
// candidate whose two sides are still free and which accept allows.
// Ties keep input order.
func greedy(cands []candidate, key func(c *candidate) float64, accept func(c *candidate) bool) []candidate {
	sorted := append([]candidate{}, cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(&sorted[i]) > key(&sorted[j])
	})
	usedGT := map[int]bool{}
	usedPred := map[int]bool{}
	matched := []candidate{}
	for i := range sorted {
		c := &sorted[i]
		if usedGT[c.gt] || usedPred[c.pred] || !accept(c) {
			continue
		}
		usedGT[c.gt] = true
		usedPred[c.pred] = true
		matched = append(matched, *c)
	}
	return matched
}

// subclassIoU compares the classifications nested in two objects
func (e *evaluator) subclassIoU(g, p *annotation.ObjectAnnotation) (*float64, error) {
	opts := e.opts
	opts.IncludeSubclasses = false
	sub := &evaluator{ctx: e.ctx, opts: opts, bitmaps: e.bitmaps}
	return sub.miou(asAnnotations(g.Classifications), asAnnotations(p.Classifications))
}

// bounds is the region outside of which an object cannot affect its IoU.
// Spans and masks have no such region.
func (e *evaluator) bounds(o *annotation.ObjectAnnotation) (geom.Box, bool) {
	switch v := o.Value.(type) {
	case annotation.Rectangle:
		return v.Geom().Bounds(), true
	case annotation.Polygon:
		return v.Geom().Bounds(), true
	case annotation.Point:
		return v.Geom().Bounds().Expand(e.opts.BufferRadius), true
	case annotation.Line:
		return v.Geom().Bounds().Expand(e.opts.BufferRadius), true
	case annotation.DicomPolyline:
		return v.Geom().Bounds().Expand(e.opts.BufferRadius), true
	}
	return geom.Box{}, false
}

// nearPairs uses a spatial index over the predictions to find the pairs
// whose bounds intersect. Returns nil when the objects have no bounds.
func (e *evaluator) nearPairs(gt, pred []*annotation.ObjectAnnotation) [][]bool {
	if len(gt) == 0 || len(pred) == 0 {
		return nil
	}
	gtBoxes := make([]geom.Box, len(gt))
	for i, g := range gt {
		b, ok := e.bounds(g)
		if !ok {
			return nil
		}
		gtBoxes[i] = b
	}
	fb := flatbush.NewFlatbush[float64]()
	fb.Reserve(len(pred))
	for _, p := range pred {
		b, ok := e.bounds(p)
		if !ok {
			return nil
		}
		fb.Add(b.MinX, b.MinY, b.MaxX, b.MaxY)
	}
	fb.Finish()

	near := make([][]bool, len(gt))
	nNear := 0
	for i, b := range gtBoxes {
		near[i] = make([]bool, len(pred))
		for _, j := range fb.Search(b.MinX, b.MinY, b.MaxX, b.MaxY) {
			near[i][j] = true
			nNear++
		}
	}
	if e.opts.Log != nil {
		e.opts.Log.Debugf("Measuring %v of %v object pairs", nNear, len(gt)*len(pred))
	}
	return near
}

// Objects on different video frames, DICOM frames, or document pages never overlap
func sameScope(a, b *annotation.ObjectAnnotation) bool {
	if (a.Frame == nil) != (b.Frame == nil) || (a.Frame != nil && a.Frame.Index != b.Frame.Index) {
		return false
	}
	if (a.Dicom == nil) != (b.Dicom == nil) || (a.Dicom != nil && *a.Dicom != *b.Dicom) {
		return false
	}
	return a.Page == b.Page
}

// valueClass groups the value types that can be compared with each other
func valueClass(v annotation.ObjectValue) string {
	switch v.(type) {
	case annotation.Rectangle, annotation.Polygon:
		return "area"
	case annotation.Point:
		return "point"
	case annotation.Line, annotation.DicomPolyline:
		return "line"
	case annotation.Mask, annotation.DicomMask:
		return "mask"
	case annotation.TextSpan:
		return "text"
	case annotation.ConversationalSpan:
		return "conversation"
	case annotation.DocumentSpan:
		return "document"
	}
	return ""
}

func checkComparable(g, p *annotation.ObjectAnnotation) error {
	cg := valueClass(g.Value)
	if cg == "" {
		return labelerr.ClosedSetViolation(g.Value)
	}
	cp := valueClass(p.Value)
	if cp == "" {
		return labelerr.ClosedSetViolation(p.Value)
	}
	if cg != cp {
		return labelerr.InvalidInput(g.Key(), "cannot compare %T with %T", g.Value, p.Value)
	}
	return nil
}

func toPolygon(v annotation.ObjectValue) geom.Polygon {
	switch v := v.(type) {
	case annotation.Rectangle:
		return v.Geom().Polygon()
	case annotation.Polygon:
		return v.Geom()
	}
	return nil
}

func toLine(v annotation.ObjectValue) geom.Line {
	switch v := v.(type) {
	case annotation.Line:
		return v.Geom()
	case annotation.DicomPolyline:
		return v.Geom()
	}
	return nil
}

// objectIoU is the geometric agreement of two objects
func (e *evaluator) objectIoU(g, p *annotation.ObjectAnnotation) (float64, error) {
	if err := checkComparable(g, p); err != nil {
		return 0, err
	}
	if !sameScope(g, p) {
		return 0, nil
	}
	switch gv := g.Value.(type) {
	case annotation.Rectangle:
		if pv, ok := p.Value.(annotation.Rectangle); ok {
			return gv.Geom().Bounds().IOU(pv.Geom().Bounds()), nil
		}
		return geom.PolygonIoU(toPolygon(gv), toPolygon(p.Value)), nil
	case annotation.Polygon:
		return geom.PolygonIoU(toPolygon(gv), toPolygon(p.Value)), nil
	case annotation.Point:
		return geom.BufferedIoU(gv.Geom(), p.Value.(annotation.Point).Geom(), e.opts.BufferRadius), nil
	case annotation.Line, annotation.DicomPolyline:
		return geom.BufferedIoU(toLine(gv), toLine(p.Value), e.opts.BufferRadius), nil
	case annotation.Mask, annotation.DicomMask:
		a, err := e.bitmap(g)
		if err != nil {
			return 0, err
		}
		b, err := e.bitmap(p)
		if err != nil {
			return 0, err
		}
		return geom.BitmapIoU(a, b)
	case annotation.TextSpan:
		return geom.SpanIoU(gv.Span(), p.Value.(annotation.TextSpan).Span()), nil
	case annotation.ConversationalSpan:
		pv := p.Value.(annotation.ConversationalSpan)
		if gv.MessageID != pv.MessageID {
			return 0, nil
		}
		return geom.SpanIoU(gv.Span(), pv.Span()), nil
	case annotation.DocumentSpan:
		return tokenIoU(gv, p.Value.(annotation.DocumentSpan)), nil
	}
	return 0, labelerr.ClosedSetViolation(g.Value)
}

// tokenIoU is the Jaccard index of the tokens of two document spans.
// A token is identified by its page and group as well as its id.
func tokenIoU(a, b annotation.DocumentSpan) float64 {
	tokens := func(d annotation.DocumentSpan) map[[3]any]bool {
		set := map[[3]any]bool{}
		for _, g := range d.Groups {
			for _, t := range g.TokenIDs {
				set[[3]any{g.Page, g.GroupID, t}] = true
			}
		}
		return set
	}
	ta := tokens(a)
	tb := tokens(b)
	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func (e *evaluator) bitmap(o *annotation.ObjectAnnotation) (*geom.Bitmap, error) {
	if bm := e.bitmaps[o]; bm != nil {
		return bm, nil
	}
	var m annotation.Mask
	switch v := o.Value.(type) {
	case annotation.Mask:
		m = v
	case annotation.DicomMask:
		m = annotation.Mask{Mask: v.Mask}
	default:
		return nil, labelerr.ClosedSetViolation(o.Value)
	}
	bm, err := m.Materialize(e.ctx, e.opts.Fetcher)
	if err != nil {
		return nil, err
	}
	e.bitmaps[o] = bm
	return bm, nil
}

// unionBitmap materializes and merges all of the masks
func (e *evaluator) unionBitmap(list []*annotation.ObjectAnnotation) (*geom.Bitmap, error) {
	bitmaps := make([]*geom.Bitmap, 0, len(list))
	for _, o := range list {
		bm, err := e.bitmap(o)
		if err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, bm)
	}
	return geom.UnionAll(bitmaps)
}
