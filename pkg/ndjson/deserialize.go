package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

// Inline masks can make a single line very long
const maxLineBytes = 256 * 1024 * 1024

// Deserialize reads every record from r and reassembles the labels
func Deserialize(r io.Reader) ([]*annotation.Label, error) {
	dec := NewDecoder()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := dec.Add(scanner.Bytes()); err != nil {
			return nil, fmt.Errorf("line %v: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return dec.Labels()
}

// Decoder assembles labels from records fed one at a time.
// Records are grouped by data row, in the order that data rows are first seen.
// Relationships may arrive before their referents; they are checked once all
// records are in, by Labels.
type Decoder struct {
	labels map[string]*annotation.Label
	order  []*annotation.Label
}

func NewDecoder() *Decoder {
	return &Decoder{
		labels: map[string]*annotation.Label{},
	}
}

// Add decodes one line. Blank lines are ignored.
func (d *Decoder) Add(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	r := &Record{}
	if err := json.Unmarshal(line, r); err != nil {
		return labelerr.InvalidInput("", "record is not valid JSON: %v", err)
	}
	return d.AddRecord(r)
}

func (d *Decoder) AddRecord(r *Record) error {
	if r.DataRow == nil {
		return labelerr.InvalidInput(r.UUID, "record has no data row")
	}
	ref := annotation.DataRef{ID: r.DataRow.ID, GlobalKey: r.DataRow.GlobalKey}
	if err := ref.Validate(); err != nil {
		return err
	}
	key := "id:" + ref.ID
	if ref.ID == "" {
		key = "globalKey:" + ref.GlobalKey
	}
	annotations, err := decodeRecord(r)
	if err != nil {
		return err
	}
	label := d.labels[key]
	if label == nil {
		label = &annotation.Label{Data: ref}
		d.labels[key] = label
		d.order = append(d.order, label)
	}
	label.Annotations = append(label.Annotations, annotations...)
	return nil
}

// Labels returns the assembled labels, after validating each one.
// A relationship whose referent never arrived fails with DanglingRelationship.
func (d *Decoder) Labels() ([]*annotation.Label, error) {
	for _, label := range d.order {
		if label.MediaType == annotation.MediaUnknown {
			label.MediaType = label.InferMediaType()
		}
		if err := label.Validate(); err != nil {
			return nil, err
		}
	}
	return d.order, nil
}

func decodeRecord(r *Record) ([]annotation.Annotation, error) {
	switch {
	case r.Relationship != nil:
		return decodeRelationship(r)
	case r.isClassification() && !r.hasGeometry():
		return decodeTopClassification(r)
	case r.Masks != nil:
		return decodeDicomMasks(r)
	case r.Segments != nil:
		return decodeTrack(r)
	case r.hasGeometry():
		o, err := decodeObject(r)
		if err != nil {
			return nil, err
		}
		return []annotation.Annotation{o}, nil
	}
	return nil, labelerr.InvalidInput(r.UUID, "record has neither a payload, an answer, nor a relationship")
}

func decodeRelationship(r *Record) ([]annotation.Annotation, error) {
	t := annotation.RelationshipType(strings.ToLower(r.Relationship.Type))
	if t == "" {
		t = annotation.Unidirectional
	}
	return []annotation.Annotation{&annotation.RelationshipAnnotation{
		Feature: r.feature(),
		Source:  r.Relationship.Source,
		Target:  r.Relationship.Target,
		Type:    t,
		Extra:   annotation.Extra{UUID: r.UUID},
	}}, nil
}

// A classification with frame ranges becomes one annotation per frame
func decodeTopClassification(r *Record) ([]annotation.Annotation, error) {
	if len(r.Frames) == 0 {
		c, err := decodeClassification(r)
		if err != nil {
			return nil, err
		}
		c.Extra.UUID = r.UUID
		return []annotation.Annotation{c}, nil
	}
	out := []annotation.Annotation{}
	for _, f := range r.Frames {
		if f.Start < 0 || f.End < f.Start {
			return nil, labelerr.InvalidInput(r.UUID, "invalid frame range %v..%v", f.Start, f.End)
		}
		for i := f.Start; i <= f.End; i++ {
			c, err := decodeClassification(r)
			if err != nil {
				return nil, err
			}
			c.Extra.UUID = r.UUID
			c.Frame = &annotation.FrameRef{Index: i}
			out = append(out, c)
		}
	}
	return out, nil
}

func decodeObject(r *Record) (*annotation.ObjectAnnotation, error) {
	o := &annotation.ObjectAnnotation{
		Feature:       r.feature(),
		Confidence:    r.Confidence,
		CustomMetrics: r.CustomMetrics,
		Extra:         annotation.Extra{UUID: r.UUID},
		Page:          r.Page,
	}
	switch {
	case r.TextSelections != nil:
		span := annotation.DocumentSpan{}
		for _, s := range r.TextSelections {
			span.Groups = append(span.Groups, annotation.TokenGroup{GroupID: s.GroupID, Page: s.Page, TokenIDs: s.TokenIDs})
		}
		o.Value = span
	case r.Location != nil && r.MessageID != "":
		o.Value = annotation.ConversationalSpan{Start: r.Location.Start, End: r.Location.End, MessageID: r.MessageID}
	case r.Location != nil:
		o.Value = annotation.TextSpan{Start: r.Location.Start, End: r.Location.End}
	default:
		v, err := r.Geometry.decode()
		if err != nil {
			return nil, withKey(err, o.Key())
		}
		o.Value = v
	}
	if r.GroupKey != "" {
		ref, err := dicomRef(r)
		if err != nil {
			return nil, err
		}
		if len(r.Frames) != 0 {
			ref.Frame = r.Frames[0].Start
		}
		o.Dicom = ref
	}
	var err error
	if o.Classifications, err = decodeNested(r.Classifications); err != nil {
		return nil, err
	}
	return o, nil
}

func decodeNested(records []*Record) ([]*annotation.ClassificationAnnotation, error) {
	var out []*annotation.ClassificationAnnotation
	for _, r := range records {
		c, err := decodeClassification(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func dicomRef(r *Record) (*annotation.DicomRef, error) {
	g := annotation.DicomGroup(strings.ToLower(r.GroupKey))
	if !g.IsValid() {
		return nil, labelerr.InvalidInput(r.UUID, "unknown DICOM group '%v'", r.GroupKey)
	}
	return &annotation.DicomRef{Group: g}, nil
}

// decodeTrack expands a video or DICOM polyline track into one object per keyframe
func decodeTrack(r *Record) ([]annotation.Annotation, error) {
	var dicom *annotation.DicomRef
	if r.GroupKey != "" {
		var err error
		if dicom, err = dicomRef(r); err != nil {
			return nil, err
		}
	}
	out := []annotation.Annotation{}
	for segment, s := range r.Segments {
		for _, kf := range s.Keyframes {
			v, err := kf.Geometry.decode()
			if err != nil {
				return nil, withKey(err, r.feature().Key())
			}
			o := &annotation.ObjectAnnotation{
				Feature:       r.feature(),
				Value:         v,
				Confidence:    r.Confidence,
				CustomMetrics: r.CustomMetrics,
				Extra:         annotation.Extra{UUID: r.UUID},
			}
			if dicom != nil {
				line, ok := v.(annotation.Line)
				if !ok {
					return nil, labelerr.InvalidInput(o.Key(), "DICOM segments hold polylines only")
				}
				o.Value = annotation.DicomPolyline(line)
				o.Dicom = &annotation.DicomRef{Group: dicom.Group, Frame: kf.Frame}
			} else {
				o.Frame = &annotation.FrameRef{Index: kf.Frame, Keyframe: true, Segment: segment}
			}
			if o.Classifications, err = decodeNested(kf.Classifications); err != nil {
				return nil, err
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// decodeDicomMasks produces one mask per frame and instance. The record uuid
// is kept only when there is a single instance, so that no two masks on one
// frame share it.
func decodeDicomMasks(r *Record) ([]annotation.Annotation, error) {
	ref, err := dicomRef(r)
	if err != nil {
		return nil, err
	}
	out := []annotation.Annotation{}
	for _, f := range r.Masks.Frames {
		for _, inst := range r.Masks.Instances {
			feature := annotation.Feature{Name: inst.Name, FeatureSchemaID: inst.SchemaID}
			if !feature.IsSet() {
				feature = r.feature()
			}
			o := &annotation.ObjectAnnotation{
				Feature:       feature,
				Confidence:    r.Confidence,
				CustomMetrics: r.CustomMetrics,
				Dicom:         &annotation.DicomRef{Group: ref.Group, Frame: f.Index},
			}
			m := annotation.DicomMask{}
			m.URL = f.InstanceURI
			m.Color = inst.ColorRGB
			o.Value = m
			if len(r.Masks.Instances) == 1 {
				o.Extra.UUID = r.UUID
			}
			out = append(out, o)
		}
	}
	return out, nil
}
