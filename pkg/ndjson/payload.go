package ndjson

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
)

func encodeGeometry(v annotation.ObjectValue) (Geometry, error) {
	g := Geometry{}
	switch v := v.(type) {
	case annotation.Rectangle:
		b := v.Geom().Bounds()
		g.BBox = &BBox{Top: b.MinY, Left: b.MinX, Height: b.Height(), Width: b.Width()}
	case annotation.Polygon:
		g.Polygon = append([]geom.Point{}, v...)
	case annotation.Point:
		p := v.Geom()
		g.Point = &p
	case annotation.Line:
		g.Line = append([]geom.Point{}, v...)
	case annotation.DicomPolyline:
		g.Line = append([]geom.Point{}, v...)
	case annotation.Mask:
		m, err := encodeMask(&v.Mask)
		if err != nil {
			return g, err
		}
		g.Mask = m
	default:
		return g, labelerr.ClosedSetViolation(v)
	}
	return g, nil
}

func encodeMask(m *mask.Mask) (*Mask, error) {
	color := [3]uint8(m.Color)
	if m.Image == nil {
		return &Mask{InstanceURI: m.URL, ColorRGB: &color}, nil
	}
	raw, err := mask.EncodePNG(m.Image)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode inline mask: %w", err)
	}
	return &Mask{PNG: base64.StdEncoding.EncodeToString(raw), ColorRGB: &color}, nil
}

func decodeMask(m *Mask) (*mask.Mask, error) {
	color := mask.White
	if m.ColorRGB != nil {
		color = mask.RGB(*m.ColorRGB)
	}
	if m.PNG == "" {
		if m.InstanceURI == "" {
			return nil, labelerr.InvalidInput("", "mask has neither an instanceURI nor a png")
		}
		return mask.FromURL(m.InstanceURI, color), nil
	}
	raw, err := base64.StdEncoding.DecodeString(m.PNG)
	if err != nil {
		return nil, labelerr.InvalidInput("", "mask png is not base64: %v", err)
	}
	img, err := mask.Decode(raw)
	if err != nil {
		return nil, err
	}
	return mask.FromImage(img, color), nil
}

// decode returns the object value of a geometry payload. Lines are plain
// lines here; DICOM records turn them into polylines.
func (g *Geometry) decode() (annotation.ObjectValue, error) {
	n := 0
	var v annotation.ObjectValue
	if g.BBox != nil {
		n++
		v = annotation.Rectangle(geom.RectFromXYWH(g.BBox.Left, g.BBox.Top, g.BBox.Width, g.BBox.Height))
	}
	if g.Polygon != nil {
		n++
		v = annotation.Polygon(g.Polygon)
	}
	if g.Point != nil {
		n++
		v = annotation.Point(*g.Point)
	}
	if g.Line != nil {
		n++
		v = annotation.Line(g.Line)
	}
	if g.Mask != nil {
		n++
		m, err := decodeMask(g.Mask)
		if err != nil {
			return nil, err
		}
		v = annotation.Mask{Mask: *m}
	}
	switch {
	case n == 0:
		return nil, labelerr.InvalidInput("", "record has no geometry")
	case n > 1:
		return nil, labelerr.InvalidInput("", "record has more than one geometry")
	}
	return v, nil
}

func encodeAnswer(a *annotation.ClassificationAnswer) (Answer, error) {
	out := Answer{
		Name:          a.Name,
		SchemaID:      a.FeatureSchemaID,
		Confidence:    a.Confidence,
		CustomMetrics: a.CustomMetrics,
	}
	for _, c := range a.Classifications {
		r, err := encodeClassification(c)
		if err != nil {
			return out, err
		}
		out.Classifications = append(out.Classifications, r)
	}
	return out, nil
}

func decodeAnswer(a *Answer) (annotation.ClassificationAnswer, error) {
	out := annotation.ClassificationAnswer{
		Feature:       annotation.Feature{Name: a.Name, FeatureSchemaID: a.SchemaID},
		Confidence:    a.Confidence,
		CustomMetrics: a.CustomMetrics,
	}
	for _, r := range a.Classifications {
		c, err := decodeClassification(r)
		if err != nil {
			return out, err
		}
		out.Classifications = append(out.Classifications, c)
	}
	return out, nil
}

// encodeClassification produces the uuid-less form used for nested classifications.
func encodeClassification(c *annotation.ClassificationAnnotation) (*Record, error) {
	r := &Record{
		Name:      c.Name,
		SchemaID:  c.FeatureSchemaID,
		MessageID: c.MessageID,
	}
	switch v := c.Value.(type) {
	case annotation.Radio:
		a, err := encodeAnswer(&v.Answer)
		if err != nil {
			return nil, err
		}
		if r.Answer, err = json.Marshal(a); err != nil {
			return nil, err
		}
	case annotation.Checklist:
		r.Answers = []Answer{}
		for i := range v.Answers {
			a, err := encodeAnswer(&v.Answers[i])
			if err != nil {
				return nil, err
			}
			r.Answers = append(r.Answers, a)
		}
	case annotation.Text:
		var err error
		if r.Answer, err = json.Marshal(v.Answer); err != nil {
			return nil, labelerr.InvalidInput(c.Key(), "text answer: %v", err)
		}
	case annotation.Scalar:
		var err error
		if r.Answer, err = json.Marshal(v.Answer); err != nil {
			return nil, labelerr.InvalidInput(c.Key(), "scalar answer: %v", err)
		}
	default:
		return nil, labelerr.ClosedSetViolation(c.Value)
	}
	return r, nil
}

func decodeClassification(r *Record) (*annotation.ClassificationAnnotation, error) {
	c := &annotation.ClassificationAnnotation{
		Feature:   r.feature(),
		MessageID: r.MessageID,
	}
	switch {
	case r.Answers != nil:
		list := annotation.Checklist{}
		for i := range r.Answers {
			a, err := decodeAnswer(&r.Answers[i])
			if err != nil {
				return nil, err
			}
			list.Answers = append(list.Answers, a)
		}
		c.Value = list
	case len(r.Answer) != 0:
		v, err := decodeAnswerValue(r.Answer)
		if err != nil {
			return nil, withKey(err, c.Key())
		}
		c.Value = v
	default:
		return nil, labelerr.InvalidInput(c.Key(), "classification has no answer")
	}
	return c, nil
}

// The JSON type of the answer decides between radio, text, and scalar
func decodeAnswerValue(raw json.RawMessage) (annotation.ClassificationValue, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, labelerr.InvalidInput("", "empty answer")
	}
	switch raw[0] {
	case '{':
		a := Answer{}
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, labelerr.InvalidInput("", "answer: %v", err)
		}
		answer, err := decodeAnswer(&a)
		if err != nil {
			return nil, err
		}
		return annotation.Radio{Answer: answer}, nil
	case '"':
		s := ""
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, labelerr.InvalidInput("", "answer: %v", err)
		}
		return annotation.Text{Answer: s}, nil
	}
	f := 0.0
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, labelerr.InvalidInput("", "answer is neither an option, a string, nor a number")
	}
	return annotation.Scalar{Answer: f}, nil
}

func withKey(err error, key string) error {
	if e, ok := err.(*labelerr.Error); ok && e.Key == "" {
		return labelerr.New(e.Kind, key, "%v", e.Message)
	}
	return err
}
