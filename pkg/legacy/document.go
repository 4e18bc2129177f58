// Package legacy converts labels to and from the per-label export format, in
// which each label is one JSON document holding all of its annotations.
//
// Video content is keyed by frame, and DICOM content by plane and then frame.
// Within a document, annotations are ordered: label-level objects, label-level
// classifications, frames in ascending order, DICOM planes (Axial, Sagittal,
// Coronal) and their frames, and finally relationships. A label whose
// annotations follow that order survives a round trip unchanged.
package legacy

import (
	"encoding/json"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
)

type Document struct {
	ID              string         `json:"ID,omitempty"` // Label id
	DataRowID       string         `json:"DataRow ID,omitempty"`
	GlobalKey       string         `json:"Global Key,omitempty"`
	ExternalID      string         `json:"External ID,omitempty"`
	LabeledData     string         `json:"Labeled Data,omitempty"`
	MediaAttributes map[string]any `json:"Media Attributes,omitempty"`
	Metadata        []any          `json:"DataRow Metadata,omitempty"`
	Label           Content        `json:"Label"`
}

type Content struct {
	Objects         []*Object         `json:"objects"`
	Classifications []*Classification `json:"classifications"`
	Relationships   []*Relationship   `json:"relationships,omitempty"`

	Frames map[int]*FrameContent            `json:"frames,omitempty"`
	Dicom  map[string]map[int]*FrameContent `json:"dicom,omitempty"` // plane, then frame
}

type FrameContent struct {
	Objects         []*Object         `json:"objects,omitempty"`
	Classifications []*Classification `json:"classifications,omitempty"`
}

type BBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
}

type Location struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Token struct {
	GroupID  string   `json:"groupId"`
	TokenIDs []string `json:"tokenIds"`
	Page     int      `json:"page"`
}

type Data struct {
	Location *Location `json:"location,omitempty"`
	Tokens   []Token   `json:"tokens,omitempty"`
}

type Object struct {
	FeatureID     string                    `json:"featureId"`
	SchemaID      string                    `json:"schemaId,omitempty"`
	Title         string                    `json:"title,omitempty"`
	Value         string                    `json:"value,omitempty"`
	Confidence    *float64                  `json:"confidence,omitempty"`
	CustomMetrics []annotation.CustomMetric `json:"customMetrics,omitempty"`

	BBox        *BBox        `json:"bbox,omitempty"`
	Polygon     []geom.Point `json:"polygon,omitempty"`
	Point       *geom.Point  `json:"point,omitempty"`
	Line        []geom.Point `json:"line,omitempty"`
	InstanceURI string       `json:"instanceURI,omitempty"`
	ColorRGB    *[3]uint8    `json:"colorRGB,omitempty"`
	Mask        string       `json:"mask,omitempty"` // base64 PNG
	Data        *Data        `json:"data,omitempty"`

	Page      int    `json:"page,omitempty"`
	Unit      string `json:"unit,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Keyframe  bool   `json:"keyframe,omitempty"`
	Segment   int    `json:"segment,omitempty"`

	Classifications []*Classification `json:"classifications,omitempty"`
}

type Classification struct {
	FeatureID string `json:"featureId,omitempty"`
	SchemaID  string `json:"schemaId,omitempty"`
	Title     string `json:"title,omitempty"`
	Value     string `json:"value,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	// An Answer object (radio), a string (text) or a number (scalar)
	Answer  json.RawMessage `json:"answer,omitempty"`
	Answers []*Answer       `json:"answers,omitempty"`
}

type Answer struct {
	SchemaID        string                    `json:"schemaId,omitempty"`
	Title           string                    `json:"title,omitempty"`
	Value           string                    `json:"value,omitempty"`
	Confidence      *float64                  `json:"confidence,omitempty"`
	CustomMetrics   []annotation.CustomMetric `json:"customMetrics,omitempty"`
	Classifications []*Classification         `json:"classifications,omitempty"`
}

type Relationship struct {
	FeatureID string           `json:"featureId"`
	SchemaID  string           `json:"schemaId,omitempty"`
	Title     string           `json:"title,omitempty"`
	Value     string           `json:"value,omitempty"`
	Data      RelationshipData `json:"data"`
}

// Source and Target are featureIds of objects in the same document
type RelationshipData struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Planes, in document order
var dicomPlanes = []struct {
	Key   string
	Group annotation.DicomGroup
}{
	{"Axial", annotation.DicomAxial},
	{"Sagittal", annotation.DicomSagittal},
	{"Coronal", annotation.DicomCoronal},
}

func planeKey(g annotation.DicomGroup) string {
	for _, p := range dicomPlanes {
		if p.Group == g {
			return p.Key
		}
	}
	return string(g)
}

const unitPoints = "POINTS"
