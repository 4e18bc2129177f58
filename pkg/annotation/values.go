package annotation

import (
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
)

// ObjectValue is the payload of an ObjectAnnotation. The set of values is closed:
// Point, Line, Polygon, Rectangle, Mask, TextSpan, ConversationalSpan,
// DocumentSpan, DicomPolyline, DicomMask.
type ObjectValue interface {
	Validate() error
	objectValue()
}

type Point geom.Point

type Line geom.Line

type Polygon geom.Polygon

// Rectangle is axis-aligned, given by two opposite corners
type Rectangle geom.Rect

type Mask struct {
	mask.Mask
}

// TextSpan covers characters Start to End of a text, inclusive
type TextSpan struct {
	Start int
	End   int
}

// ConversationalSpan is a TextSpan inside one message of a conversation
type ConversationalSpan struct {
	Start     int
	End       int
	MessageID string
}

// TokenGroup is a run of tokens on one page of a document
type TokenGroup struct {
	GroupID  string
	Page     int // Starting at 1
	TokenIDs []string
}

type DocumentSpan struct {
	Groups []TokenGroup
}

// DicomPolyline is a line drawn on one frame of a DICOM plane.
// The plane and frame are on the annotation's DicomRef.
type DicomPolyline geom.Line

// DicomMask is one mask instance on one frame of a DICOM plane
type DicomMask struct {
	mask.Mask
}

func (Point) objectValue()              {}
func (Line) objectValue()               {}
func (Polygon) objectValue()            {}
func (Rectangle) objectValue()          {}
func (Mask) objectValue()               {}
func (TextSpan) objectValue()           {}
func (ConversationalSpan) objectValue() {}
func (DocumentSpan) objectValue()       {}
func (DicomPolyline) objectValue()      {}
func (DicomMask) objectValue()          {}

func (p Point) Geom() geom.Point             { return geom.Point(p) }
func (l Line) Geom() geom.Line               { return geom.Line(l) }
func (p Polygon) Geom() geom.Polygon         { return geom.Polygon(p) }
func (r Rectangle) Geom() geom.Rect          { return geom.Rect(r) }
func (l DicomPolyline) Geom() geom.Line      { return geom.Line(l) }
func (s TextSpan) Span() geom.Span           { return geom.Span{Start: s.Start, End: s.End} }
func (s ConversationalSpan) Span() geom.Span { return geom.Span{Start: s.Start, End: s.End} }

func (p Point) Validate() error {
	return nil
}

func (l Line) Validate() error {
	return geom.Line(l).Validate()
}

func (p Polygon) Validate() error {
	return geom.Polygon(p).Validate()
}

func (r Rectangle) Validate() error {
	if geom.Rect(r).Area() <= 0 {
		return labelerr.InvalidInput("", "rectangle has no area")
	}
	return nil
}

func (m Mask) Validate() error {
	return m.Mask.Validate()
}

func (s TextSpan) Validate() error {
	return s.Span().Validate()
}

func (s ConversationalSpan) Validate() error {
	if s.MessageID == "" {
		return labelerr.InvalidInput("", "conversational span has no message id")
	}
	return s.Span().Validate()
}

func (d DocumentSpan) Validate() error {
	if len(d.Groups) == 0 {
		return labelerr.InvalidInput("", "document span has no token groups")
	}
	for _, g := range d.Groups {
		if g.Page < 1 {
			return labelerr.InvalidInput(g.GroupID, "document page %v is not 1-based", g.Page)
		}
		if len(g.TokenIDs) == 0 {
			return labelerr.InvalidInput(g.GroupID, "token group is empty")
		}
	}
	return nil
}

func (l DicomPolyline) Validate() error {
	return geom.Line(l).Validate()
}

func (m DicomMask) Validate() error {
	return m.Mask.Validate()
}

// ClassificationValue is the answer of a ClassificationAnnotation: Radio,
// Checklist, Text, or Scalar.
type ClassificationValue interface {
	Validate() error
	classificationValue()
}

// Radio is a single chosen option (also used for dropdowns)
type Radio struct {
	Answer ClassificationAnswer
}

type Checklist struct {
	Answers []ClassificationAnswer
}

type Text struct {
	Answer string
}

type Scalar struct {
	Answer float64
}

func (Radio) classificationValue()     {}
func (Checklist) classificationValue() {}
func (Text) classificationValue()      {}
func (Scalar) classificationValue()    {}

func (r Radio) Validate() error {
	return r.Answer.Validate()
}

func (c Checklist) Validate() error {
	if len(c.Answers) == 0 {
		return labelerr.InvalidInput("", "checklist has no answers")
	}
	for i := range c.Answers {
		if err := c.Answers[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (Text) Validate() error {
	return nil
}

func (Scalar) Validate() error {
	return nil
}

func (a *ClassificationAnswer) Validate() error {
	if !a.IsSet() {
		return labelerr.InvalidInput("", "answer has neither a name nor a feature schema id")
	}
	if err := validateConfidence(a.Key(), a.Confidence); err != nil {
		return err
	}
	for _, c := range a.Classifications {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateConfidence(key string, c *float64) error {
	if c != nil && (*c < 0 || *c > 1) {
		return labelerr.InvalidInput(key, "confidence %v is outside [0,1]", *c)
	}
	return nil
}
