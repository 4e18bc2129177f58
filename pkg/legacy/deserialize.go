package legacy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
)

// Unmarshal parses a JSON array of documents
func Unmarshal(data []byte) ([]*annotation.Label, error) {
	docs := []*Document{}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, labelerr.InvalidInput("", "legacy export is not a JSON array of labels: %v", err)
	}
	return Deserialize(docs)
}

// Deserialize rebuilds labels from documents. Every featureId becomes the
// uuid of its annotation.
func Deserialize(docs []*Document) ([]*annotation.Label, error) {
	labels := make([]*annotation.Label, 0, len(docs))
	for _, doc := range docs {
		l, err := deserializeDocument(doc)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func deserializeDocument(doc *Document) (*annotation.Label, error) {
	label := &annotation.Label{
		Data: annotation.DataRef{
			ID:              doc.DataRowID,
			GlobalKey:       doc.GlobalKey,
			ExternalID:      doc.ExternalID,
			RowData:         doc.LabeledData,
			MediaAttributes: doc.MediaAttributes,
			Metadata:        doc.Metadata,
		},
	}
	if doc.ID != "" {
		label.Extra = map[string]any{"ID": doc.ID}
	}
	c := &doc.Label
	addObjects := func(objects []*Object, place func(a *annotation.ObjectAnnotation, o *Object)) error {
		for _, o := range objects {
			a, err := decodeObject(o)
			if err != nil {
				return err
			}
			if place != nil {
				place(a, o)
			}
			label.Annotations = append(label.Annotations, a)
		}
		return nil
	}
	addClassifications := func(classifications []*Classification, frame *int) error {
		for _, cl := range classifications {
			a, err := decodeClassification(cl)
			if err != nil {
				return err
			}
			a.Extra.UUID = cl.FeatureID
			if frame != nil {
				a.Frame = &annotation.FrameRef{Index: *frame}
			}
			label.Annotations = append(label.Annotations, a)
		}
		return nil
	}

	if err := addObjects(c.Objects, nil); err != nil {
		return nil, err
	}
	if err := addClassifications(c.Classifications, nil); err != nil {
		return nil, err
	}
	for _, index := range sortedFrames(c.Frames) {
		f := c.Frames[index]
		err := addObjects(f.Objects, func(a *annotation.ObjectAnnotation, o *Object) {
			a.Frame = &annotation.FrameRef{Index: index, Keyframe: o.Keyframe, Segment: o.Segment}
		})
		if err != nil {
			return nil, err
		}
		if err := addClassifications(f.Classifications, &index); err != nil {
			return nil, err
		}
	}
	for key := range c.Dicom {
		if dicomGroup(key) == "" {
			return nil, labelerr.InvalidInput(key, "unknown DICOM plane")
		}
	}
	for _, plane := range dicomPlanes {
		frames := dicomFrames(c.Dicom, plane.Key)
		for _, index := range sortedFrames(frames) {
			f := frames[index]
			if len(f.Classifications) != 0 {
				return nil, labelerr.InvalidInput(plane.Key, "classifications cannot be placed on a DICOM frame")
			}
			err := addObjects(f.Objects, func(a *annotation.ObjectAnnotation, _ *Object) {
				a.Dicom = &annotation.DicomRef{Group: plane.Group, Frame: index}
				switch v := a.Value.(type) {
				case annotation.Line:
					a.Value = annotation.DicomPolyline(v)
				case annotation.Mask:
					a.Value = annotation.DicomMask{Mask: v.Mask}
				}
			})
			if err != nil {
				return nil, err
			}
		}
	}
	for _, r := range c.Relationships {
		t := annotation.RelationshipType(strings.ToLower(r.Data.Type))
		if t == "" {
			t = annotation.Unidirectional
		}
		label.Annotations = append(label.Annotations, &annotation.RelationshipAnnotation{
			Feature: feature(r.Title, r.Value, r.SchemaID),
			Source:  r.Data.Source,
			Target:  r.Data.Target,
			Type:    t,
			Extra:   annotation.Extra{UUID: r.FeatureID},
		})
	}
	label.MediaType = label.InferMediaType()
	if err := label.Validate(); err != nil {
		return nil, err
	}
	return label, nil
}

// dicomFrames finds a plane regardless of the case of its key
func dicomFrames(dicom map[string]map[int]*FrameContent, plane string) map[int]*FrameContent {
	for key, frames := range dicom {
		if strings.EqualFold(key, plane) {
			return frames
		}
	}
	return nil
}

func dicomGroup(key string) annotation.DicomGroup {
	for _, p := range dicomPlanes {
		if strings.EqualFold(p.Key, key) {
			return p.Group
		}
	}
	return ""
}

func sortedFrames(frames map[int]*FrameContent) []int {
	indices := make([]int, 0, len(frames))
	for i := range frames {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// The title is the name. Older exports only carry the value.
func feature(title, value, schemaID string) annotation.Feature {
	name := title
	if name == "" {
		name = value
	}
	return annotation.Feature{Name: name, FeatureSchemaID: schemaID}
}

// decodeObject places nothing on a frame. Frames are set by the caller.
func decodeObject(o *Object) (*annotation.ObjectAnnotation, error) {
	a := &annotation.ObjectAnnotation{
		Feature:       feature(o.Title, o.Value, o.SchemaID),
		Confidence:    o.Confidence,
		CustomMetrics: o.CustomMetrics,
		Extra:         annotation.Extra{UUID: o.FeatureID},
		Page:          o.Page,
	}
	values := []annotation.ObjectValue{}
	if o.BBox != nil {
		values = append(values, annotation.Rectangle(geom.RectFromXYWH(o.BBox.Left, o.BBox.Top, o.BBox.Width, o.BBox.Height)))
	}
	if o.Polygon != nil {
		values = append(values, annotation.Polygon(o.Polygon))
	}
	if o.Point != nil {
		values = append(values, annotation.Point(*o.Point))
	}
	if o.Line != nil {
		values = append(values, annotation.Line(o.Line))
	}
	if o.InstanceURI != "" || o.Mask != "" {
		m, err := decodeMask(o)
		if err != nil {
			return nil, err
		}
		values = append(values, annotation.Mask{Mask: *m})
	}
	if o.Data != nil {
		switch {
		case o.Data.Tokens != nil:
			span := annotation.DocumentSpan{}
			for _, t := range o.Data.Tokens {
				span.Groups = append(span.Groups, annotation.TokenGroup{GroupID: t.GroupID, Page: t.Page, TokenIDs: t.TokenIDs})
			}
			values = append(values, span)
		case o.Data.Location != nil && o.MessageID != "":
			values = append(values, annotation.ConversationalSpan{Start: o.Data.Location.Start, End: o.Data.Location.End, MessageID: o.MessageID})
		case o.Data.Location != nil:
			values = append(values, annotation.TextSpan{Start: o.Data.Location.Start, End: o.Data.Location.End})
		}
	}
	switch len(values) {
	case 0:
		return nil, labelerr.InvalidInput(a.Key(), "object has no geometry")
	case 1:
		a.Value = values[0]
	default:
		return nil, labelerr.InvalidInput(a.Key(), "object has more than one geometry")
	}
	for _, c := range o.Classifications {
		cl, err := decodeClassification(c)
		if err != nil {
			return nil, err
		}
		a.Classifications = append(a.Classifications, cl)
	}
	return a, nil
}

func decodeMask(o *Object) (*mask.Mask, error) {
	color := mask.White
	if o.ColorRGB != nil {
		color = mask.RGB(*o.ColorRGB)
	}
	if o.Mask == "" {
		return mask.FromURL(o.InstanceURI, color), nil
	}
	raw, err := base64.StdEncoding.DecodeString(o.Mask)
	if err != nil {
		return nil, labelerr.InvalidInput(o.FeatureID, "mask is not base64: %v", err)
	}
	img, err := mask.Decode(raw)
	if err != nil {
		return nil, err
	}
	return mask.FromImage(img, color), nil
}

func decodeAnswer(a *Answer) (annotation.ClassificationAnswer, error) {
	out := annotation.ClassificationAnswer{
		Feature:       feature(a.Title, a.Value, a.SchemaID),
		Confidence:    a.Confidence,
		CustomMetrics: a.CustomMetrics,
	}
	for _, c := range a.Classifications {
		cl, err := decodeClassification(c)
		if err != nil {
			return out, err
		}
		out.Classifications = append(out.Classifications, cl)
	}
	return out, nil
}

func decodeClassification(c *Classification) (*annotation.ClassificationAnnotation, error) {
	out := &annotation.ClassificationAnnotation{
		Feature:   feature(c.Title, c.Value, c.SchemaID),
		MessageID: c.MessageID,
	}
	switch {
	case c.Answers != nil:
		list := annotation.Checklist{}
		for _, a := range c.Answers {
			answer, err := decodeAnswer(a)
			if err != nil {
				return nil, err
			}
			list.Answers = append(list.Answers, answer)
		}
		out.Value = list
		return out, nil
	}
	raw := bytes.TrimSpace(c.Answer)
	if len(raw) == 0 {
		return nil, labelerr.InvalidInput(out.Key(), "classification has no answer")
	}
	switch raw[0] {
	case '{':
		a := &Answer{}
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, labelerr.InvalidInput(out.Key(), "answer: %v", err)
		}
		answer, err := decodeAnswer(a)
		if err != nil {
			return nil, err
		}
		out.Value = annotation.Radio{Answer: answer}
	case '"':
		s := ""
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, labelerr.InvalidInput(out.Key(), "answer: %v", err)
		}
		out.Value = annotation.Text{Answer: s}
	default:
		f := 0.0
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, labelerr.InvalidInput(out.Key(), "answer is neither an option, a string, nor a number")
		}
		out.Value = annotation.Scalar{Answer: f}
	}
	return out, nil
}
