package ndjson

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

// Serialize writes the records of every label, one JSON object per line.
// Nothing is written for a label that fails to serialize.
func Serialize(w io.Writer, labels []*annotation.Label) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, label := range labels {
		records, err := SerializeLabel(label)
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// SerializeLabel produces one record per annotation, in annotation order.
//
// Annotations without a uuid get a deterministic one. The frames of a video
// object share a uuid and become one record with segments, emitted where the
// track first appears. Video classifications with the same answer are merged
// into one record with frame ranges. A relationship is emitted only after both
// of its referents.
func SerializeLabel(label *annotation.Label) ([]*Record, error) {
	if err := label.Validate(); err != nil {
		return nil, err
	}
	row, err := dataRow(label.Data)
	if err != nil {
		return nil, err
	}
	s := &serializer{
		label:   label,
		row:     row,
		tracks:  map[string]*track{},
		ranges:  map[string]*Record{},
		emitted: map[string]bool{},
	}
	for i, a := range label.Annotations {
		if err := s.add(i, a); err != nil {
			return nil, err
		}
	}
	for _, t := range s.trackList {
		t.finish()
	}
	for _, r := range s.rangeList {
		finishRanges(r)
	}
	if len(s.pending) != 0 {
		// Validate guarantees that the referents exist
		return nil, labelerr.DanglingRelationship(s.pending[0].Relationship.Source)
	}
	return s.out, nil
}

func dataRow(d annotation.DataRef) (*DataRow, error) {
	switch {
	case d.ID != "":
		return &DataRow{ID: d.ID}, nil
	case d.GlobalKey != "":
		return &DataRow{GlobalKey: d.GlobalKey}, nil
	}
	return nil, labelerr.InvalidInput(d.ExternalID, "bulk records need a data row id or global key")
}

type serializer struct {
	label     *annotation.Label
	row       *DataRow
	out       []*Record
	tracks    map[string]*track
	trackList []*track
	ranges    map[string]*Record // video classification records, by feature and answer
	rangeList []*Record
	emitted   map[string]bool // object uuids already in out
	pending   []*Record       // relationships waiting for a referent
}

// A video object track, or a DICOM polyline track on one plane
type track struct {
	record   *Record
	segments map[int][]Keyframe
}

func (t *track) finish() {
	ids := make([]int, 0, len(t.segments))
	for id := range t.segments {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		frames := t.segments[id]
		sort.SliceStable(frames, func(i, j int) bool {
			return frames[i].Frame < frames[j].Frame
		})
		t.record.Segments = append(t.record.Segments, Segment{Keyframes: frames})
	}
}

func (s *serializer) uuidOf(index int, existing string) string {
	if existing != "" {
		return existing
	}
	return annotation.DeterministicUUID(s.label.Data.Key(), index)
}

func (s *serializer) emit(r *Record, objectUUID string) {
	s.out = append(s.out, r)
	if objectUUID == "" {
		return
	}
	s.emitted[objectUUID] = true
	// Release relationships whose referents are now all present
	waiting := s.pending[:0]
	for _, p := range s.pending {
		if s.emitted[p.Relationship.Source] && s.emitted[p.Relationship.Target] {
			s.out = append(s.out, p)
		} else {
			waiting = append(waiting, p)
		}
	}
	s.pending = waiting
}

func (s *serializer) add(index int, a annotation.Annotation) error {
	switch v := a.(type) {
	case *annotation.ObjectAnnotation:
		switch {
		case v.Frame != nil:
			return s.addTrackFrame(index, v)
		case v.Dicom != nil:
			return s.addDicom(index, v)
		}
		r, err := s.object(v)
		if err != nil {
			return err
		}
		r.UUID = s.uuidOf(index, v.Extra.UUID)
		r.DataRow = s.row
		s.emit(r, v.Extra.UUID)
	case *annotation.ClassificationAnnotation:
		r, err := encodeClassification(v)
		if err != nil {
			return err
		}
		if v.Frame != nil {
			return s.addFrameClassification(index, v, r)
		}
		r.UUID = s.uuidOf(index, v.Extra.UUID)
		r.DataRow = s.row
		s.emit(r, "")
	case *annotation.RelationshipAnnotation:
		r := &Record{
			UUID:     s.uuidOf(index, v.Extra.UUID),
			DataRow:  s.row,
			Name:     v.Name,
			SchemaID: v.FeatureSchemaID,
			Relationship: &Relationship{
				Source: v.Source,
				Target: v.Target,
				Type:   strings.ToUpper(string(v.Type)),
			},
		}
		if s.emitted[v.Source] && s.emitted[v.Target] {
			s.emit(r, "")
		} else {
			s.pending = append(s.pending, r)
		}
	default:
		return labelerr.ClosedSetViolation(a)
	}
	return nil
}

// object encodes a single-frame object, without uuid and data row
func (s *serializer) object(o *annotation.ObjectAnnotation) (*Record, error) {
	r := &Record{
		Name:          o.Name,
		SchemaID:      o.FeatureSchemaID,
		Confidence:    o.Confidence,
		CustomMetrics: o.CustomMetrics,
	}
	switch v := o.Value.(type) {
	case annotation.TextSpan:
		r.Location = &Location{Start: v.Start, End: v.End}
	case annotation.ConversationalSpan:
		r.Location = &Location{Start: v.Start, End: v.End}
		r.MessageID = v.MessageID
	case annotation.DocumentSpan:
		for _, g := range v.Groups {
			r.TextSelections = append(r.TextSelections, TextSelection{
				GroupID:  g.GroupID,
				TokenIDs: g.TokenIDs,
				Page:     g.Page,
			})
		}
	default:
		g, err := encodeGeometry(o.Value)
		if err != nil {
			return nil, err
		}
		r.Geometry = g
	}
	if o.Page > 0 {
		r.Page = o.Page
		r.Unit = UnitPoints
	}
	var err error
	if r.Classifications, err = nestedClassifications(o.Classifications); err != nil {
		return nil, err
	}
	return r, nil
}

func nestedClassifications(list []*annotation.ClassificationAnnotation) ([]*Record, error) {
	var out []*Record
	for _, c := range list {
		r, err := encodeClassification(c)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// trackKey groups frames of the same object into one track. An object
// without a uuid cannot be linked to any other frame, so it gets a track of its own.
func (s *serializer) trackKey(index int, o *annotation.ObjectAnnotation) string {
	key := o.Extra.UUID
	if key == "" {
		key = s.uuidOf(index, "")
	}
	if o.Dicom != nil {
		key += "@" + string(o.Dicom.Group)
	}
	return key
}

func (s *serializer) track(index int, o *annotation.ObjectAnnotation) *track {
	key := s.trackKey(index, o)
	t := s.tracks[key]
	if t != nil {
		return t
	}
	t = &track{
		record: &Record{
			UUID:          s.uuidOf(index, o.Extra.UUID),
			DataRow:       s.row,
			Name:          o.Name,
			SchemaID:      o.FeatureSchemaID,
			Confidence:    o.Confidence,
			CustomMetrics: o.CustomMetrics,
		},
		segments: map[int][]Keyframe{},
	}
	s.tracks[key] = t
	s.trackList = append(s.trackList, t)
	s.emit(t.record, o.Extra.UUID)
	return t
}

func (s *serializer) addTrackFrame(index int, o *annotation.ObjectAnnotation) error {
	switch o.Value.(type) {
	case annotation.Rectangle, annotation.Point, annotation.Line, annotation.Polygon, annotation.Mask:
	default:
		return labelerr.InvalidInput(o.Key(), "%T cannot be placed on a video frame", o.Value)
	}
	g, err := encodeGeometry(o.Value)
	if err != nil {
		return err
	}
	classifications, err := nestedClassifications(o.Classifications)
	if err != nil {
		return err
	}
	t := s.track(index, o)
	t.segments[o.Frame.Segment] = append(t.segments[o.Frame.Segment], Keyframe{
		Frame:           o.Frame.Index,
		Geometry:        g,
		Classifications: classifications,
	})
	return nil
}

func (s *serializer) addDicom(index int, o *annotation.ObjectAnnotation) error {
	switch v := o.Value.(type) {
	case annotation.DicomPolyline:
		g, err := encodeGeometry(v)
		if err != nil {
			return err
		}
		t := s.track(index, o)
		t.record.GroupKey = string(o.Dicom.Group)
		t.segments[0] = append(t.segments[0], Keyframe{Frame: o.Dicom.Frame, Geometry: g})
		return nil
	case annotation.DicomMask:
		if v.IsInline() {
			return labelerr.InvalidInput(o.Key(), "DICOM masks must reference an instance URI")
		}
		r := &Record{
			UUID:     s.uuidOf(index, o.Extra.UUID),
			DataRow:  s.row,
			Name:     o.Name,
			SchemaID: o.FeatureSchemaID,
			GroupKey: string(o.Dicom.Group),
			// Confidence and metrics apply to every instance of the record
			Confidence:    o.Confidence,
			CustomMetrics: o.CustomMetrics,
			Masks: &DicomMasks{
				Frames: []DicomMaskFrame{{Index: o.Dicom.Frame, InstanceURI: v.URL}},
				Instances: []DicomMaskInstance{{
					ColorRGB: [3]uint8(v.Color),
					Name:     o.Name,
					SchemaID: o.FeatureSchemaID,
				}},
			},
		}
		s.emit(r, o.Extra.UUID)
		return nil
	}
	// Other values are placed on a DICOM frame like any image object
	r, err := s.object(o)
	if err != nil {
		return err
	}
	r.UUID = s.uuidOf(index, o.Extra.UUID)
	r.DataRow = s.row
	r.GroupKey = string(o.Dicom.Group)
	r.Frames = []FrameRange{{Start: o.Dicom.Frame, End: o.Dicom.Frame}}
	s.emit(r, o.Extra.UUID)
	return nil
}

func (s *serializer) addFrameClassification(index int, c *annotation.ClassificationAnnotation, r *Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%v\x00%s", c.Key(), body)
	existing := s.ranges[key]
	if existing == nil {
		r.UUID = s.uuidOf(index, c.Extra.UUID)
		r.DataRow = s.row
		s.ranges[key] = r
		s.rangeList = append(s.rangeList, r)
		s.emit(r, "")
		existing = r
	}
	existing.Frames = append(existing.Frames, FrameRange{Start: c.Frame.Index, End: c.Frame.Index})
	return nil
}

// finishRanges sorts single-frame ranges and merges consecutive frames
func finishRanges(r *Record) {
	sort.Slice(r.Frames, func(i, j int) bool {
		return r.Frames[i].Start < r.Frames[j].Start
	})
	merged := []FrameRange{}
	for _, f := range r.Frames {
		if n := len(merged); n != 0 && f.Start <= merged[n-1].End+1 {
			merged[n-1].End = max(merged[n-1].End, f.End)
			continue
		}
		merged = append(merged, f)
	}
	r.Frames = merged
}
