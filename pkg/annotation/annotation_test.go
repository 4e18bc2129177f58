package annotation

import (
	"testing"

	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/cyclopcam/labelkit/pkg/ontology"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func rect(name string, x, y, w, h float64) *ObjectAnnotation {
	return &ObjectAnnotation{
		Feature: Feature{Name: name},
		Value:   Rectangle(geom.RectFromXYWH(x, y, w, h)),
	}
}

func confidence(c float64) *float64 {
	return &c
}

func TestValidateAnnotations(t *testing.T) {
	require.NoError(t, rect("cat", 0, 0, 10, 10).Validate())

	noFeature := rect("", 0, 0, 10, 10)
	require.ErrorIs(t, noFeature.Validate(), labelerr.ErrInvalidInput)

	flat := rect("cat", 0, 0, 0, 10)
	err := flat.Validate()
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
	require.Contains(t, err.Error(), "'cat'")

	line := &ObjectAnnotation{Feature: Feature{FeatureSchemaID: "L1"}, Value: Line{{X: 1, Y: 1}}}
	require.ErrorIs(t, line.Validate(), labelerr.ErrInvalidInput)

	span := &ObjectAnnotation{Feature: Feature{Name: "ner"}, Value: TextSpan{Start: 5, End: 2}}
	require.ErrorIs(t, span.Validate(), labelerr.ErrInvalidInput)

	dicom := &ObjectAnnotation{Feature: Feature{Name: "vessel"}, Value: DicomPolyline{{X: 1, Y: 1}, {X: 2, Y: 2}}}
	require.Error(t, dicom.Validate())
	dicom.Dicom = &DicomRef{Group: DicomAxial, Frame: 3}
	require.NoError(t, dicom.Validate())
	dicom.Dicom.Group = "oblique"
	require.Error(t, dicom.Validate())

	doc := &ObjectAnnotation{Feature: Feature{Name: "entity"}, Value: DocumentSpan{Groups: []TokenGroup{{GroupID: "g", Page: 0, TokenIDs: []string{"t1"}}}}}
	require.Error(t, doc.Validate())

	radio := &ClassificationAnnotation{
		Feature: Feature{Name: "is_cat"},
		Value:   Radio{Answer: ClassificationAnswer{Feature: Feature{Name: "yes"}, Confidence: confidence(1.5)}},
	}
	require.ErrorIs(t, radio.Validate(), labelerr.ErrInvalidInput)

	require.ErrorIs(t, (&ClassificationAnnotation{Feature: Feature{Name: "tags"}, Value: Checklist{}}).Validate(), labelerr.ErrInvalidInput)
	require.NoError(t, (&ClassificationAnnotation{Feature: Feature{Name: "notes"}, Value: Text{Answer: ""}}).Validate())

	m := &ObjectAnnotation{Feature: Feature{Name: "seg"}, Value: Mask{*mask.FromURL("", mask.White)}}
	require.Error(t, m.Validate())
}

func TestValidateLabel(t *testing.T) {
	cat := rect("cat", 0, 0, 10, 10)
	cat.Extra.UUID = "c"
	dog := rect("dog", 20, 0, 10, 10)
	dog.Extra.UUID = "d"
	chase := &RelationshipAnnotation{Feature: Feature{Name: "is chasing"}, Source: "d", Target: "c", Type: Unidirectional}
	label := &Label{
		Data:        DataRef{GlobalKey: "row-1"},
		Annotations: []Annotation{cat, dog, chase},
	}
	require.NoError(t, label.Validate())
	require.Same(t, dog, label.ObjectByUUID(chase.Source))

	chase.Target = "x"
	err := label.Validate()
	require.ErrorIs(t, err, labelerr.ErrDanglingRelationship)
	require.Contains(t, err.Error(), "'x'")
	chase.Target = "c"

	label.Data.ID = "id-1"
	require.ErrorIs(t, label.Validate(), labelerr.ErrInvalidInput)
	label.Data = DataRef{}
	require.ErrorIs(t, label.Validate(), labelerr.ErrInvalidInput)
	label.Data = DataRef{ExternalID: "ext"}
	require.NoError(t, label.Validate())

	dog.Extra.UUID = "c"
	require.ErrorIs(t, label.Validate(), labelerr.ErrInvalidInput)
}

func TestEqual(t *testing.T) {
	a := rect("cat", 0, 0, 10, 10)
	b := rect("cat", 0, 0, 10, 10)
	a.Extra.UUID = "one"
	b.Extra.UUID = "two"
	require.True(t, Equal(a, b))

	// id takes precedence over name when both sides have one
	a.FeatureSchemaID = "T1"
	b.FeatureSchemaID = "T1"
	b.Name = "kitty"
	require.True(t, Equal(a, b))
	b.FeatureSchemaID = "T2"
	require.False(t, Equal(a, b))
	b.FeatureSchemaID = "T1"

	b.Value = Rectangle(geom.RectFromXYWH(0, 0, 10, 11))
	require.False(t, Equal(a, b))
	require.NotEmpty(t, Diff(a, b))
	b.Value = Polygon(geom.RectFromXYWH(0, 0, 10, 10).Polygon())
	require.False(t, Equal(a, b))
	b.Value = a.Value

	sub := func(answer string) *ClassificationAnnotation {
		return &ClassificationAnnotation{Feature: Feature{Name: "color"}, Value: Radio{Answer: ClassificationAnswer{Feature: Feature{Name: answer}}}}
	}
	a.Classifications = []*ClassificationAnnotation{sub("black")}
	b.Classifications = []*ClassificationAnnotation{sub("white")}
	require.False(t, Equal(a, b))
	b.Classifications = []*ClassificationAnnotation{sub("black")}
	require.True(t, Equal(a, b))

	require.False(t, Equal(a, sub("black")))

	bm := geom.NewBitmap(3, 3)
	bm.Set(1, 1, true)
	m1 := &ObjectAnnotation{Feature: Feature{Name: "seg"}, Value: Mask{*mask.FromBitmap(bm)}}
	m2 := &ObjectAnnotation{Feature: Feature{Name: "seg"}, Value: Mask{*mask.FromBitmap(bm)}}
	require.True(t, Equal(m1, m2))
	bm.Set(0, 0, true)
	m2.Value = Mask{*mask.FromBitmap(bm)}
	require.False(t, Equal(m1, m2))
}

func TestLabelsEqual(t *testing.T) {
	build := func(catID, dogID string) *Label {
		cat := rect("cat", 0, 0, 10, 10)
		cat.Extra.UUID = catID
		dog := rect("dog", 20, 0, 10, 10)
		dog.Extra.UUID = dogID
		return &Label{
			Data: DataRef{ID: "row"},
			Annotations: []Annotation{cat, dog,
				&RelationshipAnnotation{Feature: Feature{Name: "is chasing"}, Source: dogID, Target: catID, Type: Unidirectional},
			},
		}
	}
	a := build("c1", "d1")
	b := build("c2", "d2")
	require.True(t, LabelsEqual(a, b))

	// Swap direction
	b.Annotations[2].(*RelationshipAnnotation).Source = "c2"
	b.Annotations[2].(*RelationshipAnnotation).Target = "d2"
	require.False(t, LabelsEqual(a, b))

	// Order does not matter
	b = build("c2", "d2")
	b.Annotations[0], b.Annotations[1], b.Annotations[2] = b.Annotations[2], b.Annotations[0], b.Annotations[1]
	require.True(t, LabelsEqual(a, b))

	// Same kinds, but one box differs
	b.Annotations[2] = rect("dog", 25, 0, 10, 10)
	b.Annotations[2].(*ObjectAnnotation).Extra.UUID = "d2"
	require.False(t, LabelsEqual(a, b))

	// Duplicates are counted
	cat := rect("cat", 0, 0, 10, 10)
	dog := rect("dog", 20, 0, 10, 10)
	require.False(t, LabelsEqual(
		&Label{Data: DataRef{ID: "row"}, Annotations: []Annotation{cat, cat}},
		&Label{Data: DataRef{ID: "row"}, Annotations: []Annotation{cat, dog}},
	))
}

func TestFramesAndUUIDs(t *testing.T) {
	a := rect("car", 0, 0, 5, 5)
	a.Frame = &FrameRef{Index: 7, Keyframe: true}
	b := rect("car", 1, 0, 5, 5)
	b.Frame = &FrameRef{Index: 2}
	c := &ClassificationAnnotation{Feature: Feature{Name: "weather"}, Value: Text{Answer: "rain"}, Frame: &FrameRef{Index: 7}}
	label := &Label{Data: DataRef{ID: "video-1"}, MediaType: MediaVideo, Annotations: []Annotation{a, b, c, rect("still", 0, 0, 1, 1)}}

	frames := label.Frames()
	require.Len(t, frames, 2)
	require.Equal(t, 2, frames[0].Index)
	require.Equal(t, 7, frames[1].Index)
	require.Equal(t, []*ObjectAnnotation{a}, frames[1].Objects)
	require.Equal(t, []*ClassificationAnnotation{c}, frames[1].Classifications)

	label.EnsureUUIDs()
	require.True(t, IsUUID(a.Extra.UUID))
	require.NotEqual(t, a.Extra.UUID, b.Extra.UUID)
	require.Equal(t, DeterministicUUID("video-1", 0), a.Extra.UUID)
	require.Equal(t, a.Extra.UUID, DeterministicUUID("video-1", 0))
	require.NotEqual(t, a.Extra.UUID, DeterministicUUID("video-2", 0))

	before := a.Extra.UUID
	label.EnsureUUIDs()
	require.Equal(t, before, a.Extra.UUID)
}

const testOntology = `{
	"tools": [
		{
			"tool": "rectangle", "name": "bbox", "featureSchemaId": "T1",
			"classifications": [
				{
					"type": "radio", "name": "nested", "featureSchemaId": "C1",
					"options": [
						{"value": "radio_option_1", "featureSchemaId": "O1",
						 "options": [{"type": "checklist", "name": "deeper", "featureSchemaId": "C5",
						              "options": [{"value": "x", "featureSchemaId": "O5"}]}]}
					]
				}
			]
		},
		{"tool": "edge", "name": "is chasing", "featureSchemaId": "E1"}
	],
	"classifications": [
		{"type": "text", "name": "notes", "featureSchemaId": "C9"}
	]
}`

func testResolver(t *testing.T) *ontology.Resolver {
	o, err := ontology.FromNormalized([]byte(testOntology))
	require.NoError(t, err)
	r, err := ontology.NewResolver(o)
	require.NoError(t, err)
	return r
}

func nestedBox(optionName string) *ObjectAnnotation {
	box := rect("bbox", 0, 0, 10, 10)
	box.Classifications = []*ClassificationAnnotation{
		{
			Feature: Feature{Name: "nested"},
			Value: Radio{Answer: ClassificationAnswer{
				Feature: Feature{Name: optionName},
				Classifications: []*ClassificationAnnotation{
					{Feature: Feature{Name: "deeper"}, Value: Checklist{Answers: []ClassificationAnswer{{Feature: Feature{Name: "x"}}}}},
				},
			}},
		},
	}
	return box
}

func TestAssignFeatureSchemaIDs(t *testing.T) {
	r := testResolver(t)
	box := nestedBox("radio_option_1")
	notes := &ClassificationAnnotation{Feature: Feature{Name: "notes"}, Value: Text{Answer: "hello"}}
	label := &Label{Data: DataRef{ID: "row"}, Annotations: []Annotation{box, notes}}

	require.NoError(t, AssignFeatureSchemaIDs(logs.NewTestingLog(t), label, r))
	require.Equal(t, "T1", box.FeatureSchemaID)
	nested := box.Classifications[0]
	require.Equal(t, "C1", nested.FeatureSchemaID)
	answer := nested.Value.(Radio).Answer
	require.Equal(t, "O1", answer.FeatureSchemaID)
	deeper := answer.Classifications[0]
	require.Equal(t, "C5", deeper.FeatureSchemaID)
	require.Equal(t, "O5", deeper.Value.(Checklist).Answers[0].FeatureSchemaID)
	require.Equal(t, "C9", notes.FeatureSchemaID)

	// Unknown option fails, and the label is left as it was
	bad := nestedBox("radio_option_9")
	label = &Label{Data: DataRef{ID: "row"}, Annotations: []Annotation{bad}}
	err := AssignFeatureSchemaIDs(nil, label, r)
	require.ErrorIs(t, err, labelerr.ErrUnknownName)
	require.Contains(t, err.Error(), "bbox/nested/radio_option_9")
	require.Equal(t, "", bad.FeatureSchemaID)
}

func TestAssignNames(t *testing.T) {
	r := testResolver(t)
	box := &ObjectAnnotation{
		Feature: Feature{FeatureSchemaID: "T1"},
		Value:   Rectangle(geom.RectFromXYWH(0, 0, 1, 1)),
		Classifications: []*ClassificationAnnotation{
			{Feature: Feature{FeatureSchemaID: "C1"}, Value: Radio{Answer: ClassificationAnswer{Feature: Feature{FeatureSchemaID: "O1"}}}},
		},
	}
	box.Extra.UUID = "b"
	other := rect("bbox", 5, 5, 1, 1)
	other.Extra.UUID = "o"
	rel := &RelationshipAnnotation{Feature: Feature{FeatureSchemaID: "E1"}, Source: "b", Target: "o", Type: Bidirectional}
	label := &Label{Data: DataRef{ID: "row"}, Annotations: []Annotation{box, other, rel}}

	require.NoError(t, AssignNames(logs.NewTestingLog(t), label, r))
	require.Equal(t, "bbox", box.Name)
	require.Equal(t, "nested", box.Classifications[0].Name)
	require.Equal(t, "radio_option_1", box.Classifications[0].Value.(Radio).Answer.Name)
	require.Equal(t, "is chasing", rel.Name)

	// A disagreeing name is replaced by the id's name
	box.Name = "wrong"
	require.NoError(t, AssignNames(logs.NewTestingLog(t), label, r))
	require.Equal(t, "bbox", box.Name)

	box.FeatureSchemaID = "C9"
	require.ErrorIs(t, AssignNames(nil, label, r), labelerr.ErrUnknownSchemaID)
}
