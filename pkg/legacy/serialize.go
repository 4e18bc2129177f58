package legacy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
)

// Marshal serializes labels into a JSON array of documents
func Marshal(labels []*annotation.Label) ([]byte, error) {
	docs := make([]*Document, 0, len(labels))
	for _, l := range labels {
		doc, err := Serialize(l)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return json.MarshalIndent(docs, "", "\t")
}

// Serialize builds the document of one label.
// Objects without a uuid get a deterministic featureId.
func Serialize(label *annotation.Label) (*Document, error) {
	if err := label.Validate(); err != nil {
		return nil, err
	}
	doc := &Document{
		DataRowID:       label.Data.ID,
		GlobalKey:       label.Data.GlobalKey,
		ExternalID:      label.Data.ExternalID,
		LabeledData:     label.Data.RowData,
		MediaAttributes: label.Data.MediaAttributes,
		Metadata:        label.Data.Metadata,
		Label: Content{
			Objects:         []*Object{},
			Classifications: []*Classification{},
		},
	}
	if id, ok := label.Extra["ID"].(string); ok {
		doc.ID = id
	}
	c := &doc.Label
	for i, a := range label.Annotations {
		featureID := func(existing string) string {
			if existing != "" {
				return existing
			}
			return annotation.DeterministicUUID(label.Data.Key(), i)
		}
		switch v := a.(type) {
		case *annotation.ObjectAnnotation:
			o, err := encodeObject(v)
			if err != nil {
				return nil, err
			}
			o.FeatureID = featureID(v.Extra.UUID)
			switch {
			case v.Frame != nil:
				f := frame(&c.Frames, v.Frame.Index)
				f.Objects = append(f.Objects, o)
			case v.Dicom != nil:
				f := dicomFrame(c, v.Dicom)
				f.Objects = append(f.Objects, o)
			default:
				c.Objects = append(c.Objects, o)
			}
		case *annotation.ClassificationAnnotation:
			cl, err := encodeClassification(v)
			if err != nil {
				return nil, err
			}
			cl.FeatureID = featureID(v.Extra.UUID)
			if v.Frame != nil {
				f := frame(&c.Frames, v.Frame.Index)
				f.Classifications = append(f.Classifications, cl)
			} else {
				c.Classifications = append(c.Classifications, cl)
			}
		case *annotation.RelationshipAnnotation:
			c.Relationships = append(c.Relationships, &Relationship{
				FeatureID: featureID(v.Extra.UUID),
				SchemaID:  v.FeatureSchemaID,
				Title:     v.Name,
				Value:     valueOf(v.Name),
				Data: RelationshipData{
					Source: v.Source,
					Target: v.Target,
					Type:   string(v.Type),
				},
			})
		default:
			return nil, labelerr.ClosedSetViolation(a)
		}
	}
	return doc, nil
}

func frame(frames *map[int]*FrameContent, index int) *FrameContent {
	if *frames == nil {
		*frames = map[int]*FrameContent{}
	}
	f := (*frames)[index]
	if f == nil {
		f = &FrameContent{}
		(*frames)[index] = f
	}
	return f
}

func dicomFrame(c *Content, ref *annotation.DicomRef) *FrameContent {
	if c.Dicom == nil {
		c.Dicom = map[string]map[int]*FrameContent{}
	}
	key := planeKey(ref.Group)
	frames := c.Dicom[key]
	f := frame(&frames, ref.Frame)
	c.Dicom[key] = frames
	return f
}

// valueOf is the machine-friendly form of a title, eg "Is Chasing" -> "is_chasing"
func valueOf(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
}

func encodeObject(a *annotation.ObjectAnnotation) (*Object, error) {
	o := &Object{
		SchemaID:      a.FeatureSchemaID,
		Title:         a.Name,
		Value:         valueOf(a.Name),
		Confidence:    a.Confidence,
		CustomMetrics: a.CustomMetrics,
		Page:          a.Page,
	}
	if a.Page > 0 {
		o.Unit = unitPoints
	}
	if a.Frame != nil {
		o.Keyframe = a.Frame.Keyframe
		o.Segment = a.Frame.Segment
	}
	switch v := a.Value.(type) {
	case annotation.Rectangle:
		b := v.Geom().Bounds()
		o.BBox = &BBox{Top: b.MinY, Left: b.MinX, Height: b.Height(), Width: b.Width()}
	case annotation.Polygon:
		o.Polygon = append([]geom.Point{}, v...)
	case annotation.Point:
		p := v.Geom()
		o.Point = &p
	case annotation.Line:
		o.Line = append([]geom.Point{}, v...)
	case annotation.DicomPolyline:
		o.Line = append([]geom.Point{}, v...)
	case annotation.Mask:
		if err := encodeMask(o, &v.Mask); err != nil {
			return nil, err
		}
	case annotation.DicomMask:
		if err := encodeMask(o, &v.Mask); err != nil {
			return nil, err
		}
	case annotation.TextSpan:
		o.Data = &Data{Location: &Location{Start: v.Start, End: v.End}}
	case annotation.ConversationalSpan:
		o.Data = &Data{Location: &Location{Start: v.Start, End: v.End}}
		o.MessageID = v.MessageID
	case annotation.DocumentSpan:
		o.Data = &Data{}
		for _, g := range v.Groups {
			o.Data.Tokens = append(o.Data.Tokens, Token{GroupID: g.GroupID, TokenIDs: g.TokenIDs, Page: g.Page})
		}
	default:
		return nil, labelerr.ClosedSetViolation(a.Value)
	}
	for _, c := range a.Classifications {
		cl, err := encodeClassification(c)
		if err != nil {
			return nil, err
		}
		o.Classifications = append(o.Classifications, cl)
	}
	return o, nil
}

func encodeMask(o *Object, m *mask.Mask) error {
	color := [3]uint8(m.Color)
	o.ColorRGB = &color
	if m.Image == nil {
		o.InstanceURI = m.URL
		return nil
	}
	raw, err := mask.EncodePNG(m.Image)
	if err != nil {
		return fmt.Errorf("Failed to encode inline mask: %w", err)
	}
	o.Mask = base64.StdEncoding.EncodeToString(raw)
	return nil
}

func encodeAnswer(a *annotation.ClassificationAnswer) (*Answer, error) {
	out := &Answer{
		SchemaID:      a.FeatureSchemaID,
		Title:         a.Name,
		Value:         valueOf(a.Name),
		Confidence:    a.Confidence,
		CustomMetrics: a.CustomMetrics,
	}
	for _, c := range a.Classifications {
		cl, err := encodeClassification(c)
		if err != nil {
			return nil, err
		}
		out.Classifications = append(out.Classifications, cl)
	}
	return out, nil
}

// encodeClassification leaves featureId empty; only top-level classifications have one
func encodeClassification(c *annotation.ClassificationAnnotation) (*Classification, error) {
	out := &Classification{
		SchemaID:  c.FeatureSchemaID,
		Title:     c.Name,
		Value:     valueOf(c.Name),
		MessageID: c.MessageID,
	}
	var err error
	switch v := c.Value.(type) {
	case annotation.Radio:
		var a *Answer
		if a, err = encodeAnswer(&v.Answer); err != nil {
			return nil, err
		}
		out.Answer, err = json.Marshal(a)
	case annotation.Checklist:
		out.Answers = []*Answer{}
		for i := range v.Answers {
			a, err := encodeAnswer(&v.Answers[i])
			if err != nil {
				return nil, err
			}
			out.Answers = append(out.Answers, a)
		}
	case annotation.Text:
		out.Answer, err = json.Marshal(v.Answer)
	case annotation.Scalar:
		out.Answer, err = json.Marshal(v.Answer)
	default:
		return nil, labelerr.ClosedSetViolation(c.Value)
	}
	if err != nil {
		return nil, labelerr.InvalidInput(c.Key(), "answer: %v", err)
	}
	return out, nil
}
