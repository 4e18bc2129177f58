// Package annotation is the in-memory label model.
//
// A Label owns a flat list of annotations. Object annotations carry a
// geometric, raster, or span value. Classification annotations carry an
// answer. Relationship annotations link two object annotations of the same
// Label by their uuids, so the Label is an arena and relationships are
// indices into it.
package annotation

import (
	"sort"
)

// Feature identifies the ontology node that an annotation or answer is an instance of.
// At least one of the two fields must be set.
type Feature struct {
	Name            string
	FeatureSchemaID string
}

// Key returns the feature schema id, or the name if there is no id
func (f Feature) Key() string {
	if f.FeatureSchemaID != "" {
		return f.FeatureSchemaID
	}
	return f.Name
}

func (f Feature) IsSet() bool {
	return f.Name != "" || f.FeatureSchemaID != ""
}

type Extra struct {
	UUID string // Per-annotation identifier. "featureId" in the legacy form.
}

type CustomMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Annotation is one of *ObjectAnnotation, *ClassificationAnnotation, *RelationshipAnnotation
type Annotation interface {
	Base() *Feature
	Validate() error
	annotation()
}

// FrameRef places an annotation on a video frame
type FrameRef struct {
	Index    int
	Keyframe bool
	Segment  int // Index of the segment within the object's track
}

type DicomGroup string

const (
	DicomAxial    DicomGroup = "axial"
	DicomSagittal DicomGroup = "sagittal"
	DicomCoronal  DicomGroup = "coronal"
)

func (g DicomGroup) IsValid() bool {
	return g == DicomAxial || g == DicomSagittal || g == DicomCoronal
}

// DicomRef places an annotation on a frame of one anatomical plane
type DicomRef struct {
	Group DicomGroup
	Frame int
}

type ObjectAnnotation struct {
	Feature
	Value           ObjectValue
	Classifications []*ClassificationAnnotation
	Confidence      *float64
	CustomMetrics   []CustomMetric
	Extra           Extra
	Frame           *FrameRef // Video
	Page            int       // Document page, starting at 1. Zero if not a document.
	Dicom           *DicomRef
}

type ClassificationAnnotation struct {
	Feature
	Value     ClassificationValue
	Extra     Extra
	Frame     *FrameRef // Video
	MessageID string    // Conversational
}

// ClassificationAnswer is a chosen option. Confidence and custom metrics live
// on the answer, not on the classification.
type ClassificationAnswer struct {
	Feature
	Confidence      *float64
	CustomMetrics   []CustomMetric
	Classifications []*ClassificationAnnotation
}

type RelationshipType string

const (
	Unidirectional RelationshipType = "unidirectional"
	Bidirectional  RelationshipType = "bidirectional"
)

type RelationshipAnnotation struct {
	Feature
	Source string // UUID of an ObjectAnnotation in the same Label
	Target string
	Type   RelationshipType
	Extra  Extra
}

func (a *ObjectAnnotation) Base() *Feature         { return &a.Feature }
func (a *ClassificationAnnotation) Base() *Feature { return &a.Feature }
func (a *RelationshipAnnotation) Base() *Feature   { return &a.Feature }

func (a *ObjectAnnotation) annotation()         {}
func (a *ClassificationAnnotation) annotation() {}
func (a *RelationshipAnnotation) annotation()   {}

type MediaType string

const (
	MediaUnknown        MediaType = ""
	MediaImage          MediaType = "image"
	MediaVideo          MediaType = "video"
	MediaText           MediaType = "text"
	MediaConversational MediaType = "conversational"
	MediaDocument       MediaType = "document"
	MediaDicom          MediaType = "dicom"
)

// DataRef identifies the data row that a label belongs to
type DataRef struct {
	ID              string
	GlobalKey       string
	ExternalID      string
	RowData         string // URL of the media
	MediaAttributes map[string]any
	Metadata        []any
}

// Key returns whichever identifier is set, preferring the id
func (d DataRef) Key() string {
	switch {
	case d.ID != "":
		return d.ID
	case d.GlobalKey != "":
		return d.GlobalKey
	}
	return d.ExternalID
}

type Label struct {
	Data        DataRef
	Annotations []Annotation
	MediaType   MediaType
	Extra       map[string]any
}

func (l *Label) Objects() []*ObjectAnnotation {
	out := []*ObjectAnnotation{}
	for _, a := range l.Annotations {
		if o, ok := a.(*ObjectAnnotation); ok {
			out = append(out, o)
		}
	}
	return out
}

func (l *Label) Classifications() []*ClassificationAnnotation {
	out := []*ClassificationAnnotation{}
	for _, a := range l.Annotations {
		if c, ok := a.(*ClassificationAnnotation); ok {
			out = append(out, c)
		}
	}
	return out
}

func (l *Label) Relationships() []*RelationshipAnnotation {
	out := []*RelationshipAnnotation{}
	for _, a := range l.Annotations {
		if r, ok := a.(*RelationshipAnnotation); ok {
			out = append(out, r)
		}
	}
	return out
}

// ObjectByUUID returns nil if there is no such object
func (l *Label) ObjectByUUID(uuid string) *ObjectAnnotation {
	if uuid == "" {
		return nil
	}
	for _, a := range l.Annotations {
		if o, ok := a.(*ObjectAnnotation); ok && o.Extra.UUID == uuid {
			return o
		}
	}
	return nil
}

// Frame is the set of annotations on one video frame
type Frame struct {
	Index           int
	Objects         []*ObjectAnnotation
	Classifications []*ClassificationAnnotation
}

// Frames groups video annotations by frame index, in ascending frame order.
// Annotations without a frame are not included.
func (l *Label) Frames() []*Frame {
	byIndex := map[int]*Frame{}
	get := func(i int) *Frame {
		f := byIndex[i]
		if f == nil {
			f = &Frame{Index: i}
			byIndex[i] = f
		}
		return f
	}
	for _, a := range l.Annotations {
		switch v := a.(type) {
		case *ObjectAnnotation:
			if v.Frame != nil {
				f := get(v.Frame.Index)
				f.Objects = append(f.Objects, v)
			}
		case *ClassificationAnnotation:
			if v.Frame != nil {
				f := get(v.Frame.Index)
				f.Classifications = append(f.Classifications, v)
			}
		}
	}
	frames := make([]*Frame, 0, len(byIndex))
	for _, f := range byIndex {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Index < frames[j].Index
	})
	return frames
}

// EnsureUUIDs gives every annotation without a uuid a deterministic one,
// derived from the data row key and the annotation's position.
func (l *Label) EnsureUUIDs() {
	for i, a := range l.Annotations {
		switch v := a.(type) {
		case *ObjectAnnotation:
			if v.Extra.UUID == "" {
				v.Extra.UUID = DeterministicUUID(l.Data.Key(), i)
			}
		case *ClassificationAnnotation:
			if v.Extra.UUID == "" {
				v.Extra.UUID = DeterministicUUID(l.Data.Key(), i)
			}
		case *RelationshipAnnotation:
			if v.Extra.UUID == "" {
				v.Extra.UUID = DeterministicUUID(l.Data.Key(), i)
			}
		}
	}
}

// InferMediaType guesses the media type from the annotations. Labels with
// nothing more specific are images.
func (l *Label) InferMediaType() MediaType {
	media := MediaImage
	for _, a := range l.Annotations {
		switch v := a.(type) {
		case *ObjectAnnotation:
			switch {
			case v.Dicom != nil:
				return MediaDicom
			case v.Frame != nil:
				return MediaVideo
			}
			switch v.Value.(type) {
			case ConversationalSpan:
				return MediaConversational
			case DocumentSpan:
				return MediaDocument
			case TextSpan:
				media = MediaText
			}
			if v.Page > 0 {
				return MediaDocument
			}
		case *ClassificationAnnotation:
			if v.Frame != nil {
				return MediaVideo
			}
			if v.MessageID != "" {
				return MediaConversational
			}
		}
	}
	return media
}
