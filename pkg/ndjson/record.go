// Package ndjson converts labels to and from the bulk import/export format:
// newline-delimited JSON records, one per annotation, each keyed by its data
// row and carrying a per-annotation uuid.
package ndjson

import (
	"encoding/json"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
)

type DataRow struct {
	ID        string `json:"id,omitempty"`
	GlobalKey string `json:"globalKey,omitempty"`
}

type BBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

type Mask struct {
	InstanceURI string    `json:"instanceURI,omitempty"`
	ColorRGB    *[3]uint8 `json:"colorRGB,omitempty"`
	PNG         string    `json:"png,omitempty"` // base64 encoded inline canvas
}

type Location struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type TextSelection struct {
	GroupID  string   `json:"groupId"`
	TokenIDs []string `json:"tokenIds"`
	Page     int      `json:"page"`
}

type Answer struct {
	Name            string                    `json:"name,omitempty"`
	SchemaID        string                    `json:"schemaId,omitempty"`
	Confidence      *float64                  `json:"confidence,omitempty"`
	CustomMetrics   []annotation.CustomMetric `json:"customMetrics,omitempty"`
	Classifications []*Record                 `json:"classifications,omitempty"`
}

type Relationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Geometry is the payload of a geometric object. At most one field is set.
type Geometry struct {
	BBox    *BBox        `json:"bbox,omitempty"`
	Polygon []geom.Point `json:"polygon,omitempty"`
	Point   *geom.Point  `json:"point,omitempty"`
	Line    []geom.Point `json:"line,omitempty"`
	Mask    *Mask        `json:"mask,omitempty"`
}

func (g *Geometry) isSet() bool {
	return g.BBox != nil || g.Polygon != nil || g.Point != nil || g.Line != nil || g.Mask != nil
}

// Keyframe is one frame of a video (or DICOM) track
type Keyframe struct {
	Frame int `json:"frame"`
	Geometry
	Classifications []*Record `json:"classifications,omitempty"`
}

type Segment struct {
	Keyframes []Keyframe `json:"keyframes"`
}

// FrameRange is inclusive
type FrameRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type DicomMaskFrame struct {
	Index       int    `json:"index"`
	InstanceURI string `json:"instanceURI"`
}

type DicomMaskInstance struct {
	ColorRGB [3]uint8 `json:"colorRGB"`
	Name     string   `json:"name,omitempty"`
	SchemaID string   `json:"schemaId,omitempty"`
}

type DicomMasks struct {
	Frames    []DicomMaskFrame    `json:"frames"`
	Instances []DicomMaskInstance `json:"instances"`
}

// Record is one line of the bulk format. Nested classifications reuse the
// same shape, without the data row and uuid.
type Record struct {
	UUID            string                    `json:"uuid,omitempty"`
	DataRow         *DataRow                  `json:"dataRow,omitempty"`
	Name            string                    `json:"name,omitempty"`
	SchemaID        string                    `json:"schemaId,omitempty"`
	Classifications []*Record                 `json:"classifications,omitempty"`
	Confidence      *float64                  `json:"confidence,omitempty"`
	CustomMetrics   []annotation.CustomMetric `json:"customMetrics,omitempty"`

	Geometry
	Location       *Location       `json:"location,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	TextSelections []TextSelection `json:"textSelections,omitempty"`
	Page           int             `json:"page,omitempty"`
	Unit           string          `json:"unit,omitempty"`

	// string (text), number (scalar) or an Answer object (radio)
	Answer  json.RawMessage `json:"answer,omitempty"`
	Answers []Answer        `json:"answers,omitempty"` // checklist

	Relationship *Relationship `json:"relationship,omitempty"`

	Segments []Segment    `json:"segments,omitempty"`
	Frames   []FrameRange `json:"frames,omitempty"`
	GroupKey string       `json:"groupKey,omitempty"`
	Masks    *DicomMasks  `json:"masks,omitempty"`
}

func (r *Record) isClassification() bool {
	return len(r.Answer) != 0 || r.Answers != nil
}

func (r *Record) hasGeometry() bool {
	return r.Geometry.isSet() || r.Location != nil || r.TextSelections != nil || r.Segments != nil || r.Masks != nil
}

func (r *Record) feature() annotation.Feature {
	return annotation.Feature{Name: r.Name, FeatureSchemaID: r.SchemaID}
}

// Units of document geometry
const UnitPoints = "POINTS"
