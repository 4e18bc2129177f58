package legacy

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/cyclopcam/labelkit/pkg/ndjson"
	"github.com/stretchr/testify/require"
)

func object(name, uuid string, v annotation.ObjectValue) *annotation.ObjectAnnotation {
	return &annotation.ObjectAnnotation{
		Feature: annotation.Feature{Name: name},
		Value:   v,
		Extra:   annotation.Extra{UUID: uuid},
	}
}

func radio(name, answer string) *annotation.ClassificationAnnotation {
	return &annotation.ClassificationAnnotation{
		Feature: annotation.Feature{Name: name},
		Value:   annotation.Radio{Answer: annotation.ClassificationAnswer{Feature: annotation.Feature{Name: answer}}},
	}
}

func imageLabel() *annotation.Label {
	conf := 0.9
	cat := object("Cat", "cat-1", annotation.Rectangle(geom.RectFromXYWH(1, 2, 10, 20)))
	cat.FeatureSchemaID = "T-cat"
	cat.Classifications = []*annotation.ClassificationAnnotation{radio("pose", "sitting")}
	bm := geom.NewBitmap(3, 3)
	bm.Set(0, 0, true)
	return &annotation.Label{
		Data: annotation.DataRef{
			ID:              "row-1",
			RowData:         "https://example.com/cat.jpg",
			MediaAttributes: map[string]any{"width": 640.0},
			Metadata:        []any{"indoor"},
		},
		Annotations: []annotation.Annotation{
			cat,
			object("dog", "dog-1", annotation.Polygon{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}}),
			object("tail", "l-1", annotation.Line{{X: 0, Y: 0}, {X: 1, Y: 1}}),
			object("nose", "p-1", annotation.Point{X: 3, Y: 3}),
			object("fur", "m-1", annotation.Mask{Mask: *mask.FromBitmap(bm)}),
			object("collar", "m-2", annotation.Mask{Mask: *mask.FromURL("gs://b/seg.png", mask.RGB{1, 2, 3})}),
			&annotation.ClassificationAnnotation{
				Feature: annotation.Feature{Name: "tags"},
				Value: annotation.Checklist{Answers: []annotation.ClassificationAnswer{
					{Feature: annotation.Feature{Name: "cute"}, Confidence: &conf},
					{Feature: annotation.Feature{Name: "fluffy", FeatureSchemaID: "O-fluffy"}},
				}},
			},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "caption"}, Value: annotation.Text{Answer: "two pets"}},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "count"}, Value: annotation.Scalar{Answer: 2}},
			&annotation.RelationshipAnnotation{Feature: annotation.Feature{Name: "Is Chasing"}, Source: "dog-1", Target: "cat-1", Type: annotation.Bidirectional},
		},
	}
}

func roundTrip(t *testing.T, label *annotation.Label) *annotation.Label {
	data, err := Marshal([]*annotation.Label{label})
	require.NoError(t, err)
	labels, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	require.True(t, annotation.LabelsEqual(label, labels[0]), "round trip changed the label")
	return labels[0]
}

func TestImageRoundTrip(t *testing.T) {
	label := imageLabel()
	doc, err := Serialize(label)
	require.NoError(t, err)
	require.Equal(t, "row-1", doc.DataRowID)
	require.Equal(t, "https://example.com/cat.jpg", doc.LabeledData)
	require.Len(t, doc.Label.Objects, 6)
	require.Len(t, doc.Label.Classifications, 3)
	require.Len(t, doc.Label.Relationships, 1)
	require.Equal(t, "cat-1", doc.Label.Objects[0].FeatureID)
	require.Equal(t, "cat", doc.Label.Objects[0].Value)
	require.Equal(t, &BBox{Top: 2, Left: 1, Height: 20, Width: 10}, doc.Label.Objects[0].BBox)
	require.Equal(t, "gs://b/seg.png", doc.Label.Objects[5].InstanceURI)
	require.NotEmpty(t, doc.Label.Objects[4].Mask)
	require.Equal(t, "is_chasing", doc.Label.Relationships[0].Value)
	require.Equal(t, RelationshipData{Source: "dog-1", Target: "cat-1", Type: "bidirectional"}, doc.Label.Relationships[0].Data)
	require.True(t, annotation.IsUUID(doc.Label.Classifications[0].FeatureID))

	out := roundTrip(t, label)
	require.Equal(t, "cat-1", out.Objects()[0].Extra.UUID)
	require.Equal(t, "Cat", out.Objects()[0].Name)
	require.Equal(t, annotation.MediaImage, out.MediaType)
	require.Equal(t, map[string]any{"width": 640.0}, out.Data.MediaAttributes)
	require.Equal(t, []any{"indoor"}, out.Data.Metadata)
}

func TestDocumentAndTextRoundTrip(t *testing.T) {
	doc := &annotation.Label{
		Data: annotation.DataRef{GlobalKey: "pdf-1"},
		Annotations: []annotation.Annotation{
			object("address", "s1", annotation.DocumentSpan{Groups: []annotation.TokenGroup{{GroupID: "g", Page: 3, TokenIDs: []string{"a", "b"}}}}),
			object("signature", "r1", annotation.Rectangle(geom.RectFromXYWH(0, 0, 5, 5))),
		},
	}
	doc.Annotations[1].(*annotation.ObjectAnnotation).Page = 3
	out := roundTrip(t, doc)
	require.Equal(t, annotation.MediaDocument, out.MediaType)
	require.Equal(t, 3, out.Objects()[1].Page)

	conv := &annotation.Label{
		Data: annotation.DataRef{ExternalID: "chat.json"},
		Annotations: []annotation.Annotation{
			object("person", "s2", annotation.ConversationalSpan{Start: 1, End: 5, MessageID: "m1"}),
			object("place", "s3", annotation.TextSpan{Start: 6, End: 9}),
		},
	}
	out = roundTrip(t, conv)
	require.Equal(t, annotation.MediaConversational, out.MediaType)
	require.Equal(t, "chat.json", out.Data.ExternalID)
}

func TestVideoRoundTrip(t *testing.T) {
	car := func(index, segment int, keyframe bool) *annotation.ObjectAnnotation {
		o := object("car", "car-1", annotation.Rectangle(geom.RectFromXYWH(float64(index), 0, 4, 4)))
		o.Frame = &annotation.FrameRef{Index: index, Keyframe: keyframe, Segment: segment}
		return o
	}
	weather := radio("weather", "rain")
	weather.Frame = &annotation.FrameRef{Index: 0}
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "video"},
		Annotations: []annotation.Annotation{
			car(0, 0, true),
			weather,
			car(1, 0, false),
			car(5, 1, true),
		},
	}
	doc, err := Serialize(label)
	require.NoError(t, err)
	require.Empty(t, doc.Label.Objects)
	require.Len(t, doc.Label.Frames, 3)
	require.Len(t, doc.Label.Frames[0].Classifications, 1)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"frames":{"0":`)

	out := roundTrip(t, label)
	require.Equal(t, annotation.MediaVideo, out.MediaType)
	require.Equal(t, 1, out.Objects()[2].Frame.Segment)
}

func TestDicomRoundTrip(t *testing.T) {
	line := object("vessel", "v1", annotation.DicomPolyline{{X: 0, Y: 0}, {X: 5, Y: 5}})
	line.Dicom = &annotation.DicomRef{Group: annotation.DicomAxial, Frame: 4}
	seg := object("lesion", "k1", annotation.DicomMask{Mask: *mask.FromURL("https://example.com/f9.png", mask.RGB{0, 0, 255})})
	seg.Dicom = &annotation.DicomRef{Group: annotation.DicomCoronal, Frame: 9}
	label := &annotation.Label{
		Data:        annotation.DataRef{ID: "scan"},
		Annotations: []annotation.Annotation{line, seg},
	}
	doc, err := Serialize(label)
	require.NoError(t, err)
	require.Contains(t, doc.Label.Dicom, "Axial")
	require.Contains(t, doc.Label.Dicom["Coronal"], 9)

	out := roundTrip(t, label)
	require.Equal(t, annotation.MediaDicom, out.MediaType)
	require.IsType(t, annotation.DicomPolyline{}, out.Objects()[0].Value)
	require.IsType(t, annotation.DicomMask{}, out.Objects()[1].Value)

	_, err = Unmarshal([]byte(`[{"DataRow ID":"x","Label":{"objects":[],"classifications":[],"dicom":{"Oblique":{}}}}]`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
}

func TestDeserializeErrors(t *testing.T) {
	_, err := Unmarshal([]byte(`{"not":"an array"}`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)

	_, err = Unmarshal([]byte(`[{"DataRow ID":"x","Label":{"objects":[{"featureId":"a","title":"cat"}],"classifications":[]}}]`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)

	_, err = Unmarshal([]byte(`[{"DataRow ID":"x","Label":{"objects":[{"featureId":"a","title":"cat","point":{"x":1,"y":1}}],"classifications":[],
		"relationships":[{"featureId":"r","title":"near","data":{"source":"a","target":"zzz","type":"unidirectional"}}]}}]`))
	require.ErrorIs(t, err, labelerr.ErrDanglingRelationship)

	// Older exports only carry the value
	labels, err := Unmarshal([]byte(`[{"DataRow ID":"x","Label":{"objects":[{"featureId":"a","value":"cat","point":{"x":1,"y":1}}],"classifications":[{"featureId":"c","value":"size","answer":7}]}}]`))
	require.NoError(t, err)
	require.Equal(t, "cat", labels[0].Objects()[0].Name)
	require.Equal(t, annotation.Scalar{Answer: 7}, labels[0].Classifications()[0].Value)
}

func TestRoundTripOutOfOrder(t *testing.T) {
	// Rebuilt labels list objects before classifications and relationships
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "row-1"},
		Annotations: []annotation.Annotation{
			&annotation.RelationshipAnnotation{Feature: annotation.Feature{Name: "Is Chasing"}, Source: "dog-1", Target: "cat-1", Type: annotation.Unidirectional},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "caption"}, Value: annotation.Text{Answer: "two pets"}},
			object("cat", "cat-1", annotation.Rectangle(geom.RectFromXYWH(1, 2, 10, 20))),
			object("dog", "dog-1", annotation.Rectangle(geom.RectFromXYWH(30, 2, 10, 20))),
		},
	}
	back := roundTrip(t, label)
	_, isObject := back.Annotations[0].(*annotation.ObjectAnnotation)
	require.True(t, isObject)
}

// The two wire formats carry the same model
func TestCrossConverter(t *testing.T) {
	label := imageLabel()
	// Bulk records only carry a data row id or global key
	label.Data = annotation.DataRef{ID: "row-1"}

	var buf bytes.Buffer
	require.NoError(t, ndjson.Serialize(&buf, []*annotation.Label{label}))
	fromBulk, err := ndjson.Deserialize(&buf)
	require.NoError(t, err)

	data, err := Marshal(fromBulk)
	require.NoError(t, err)
	fromLegacy, err := Unmarshal(data)
	require.NoError(t, err)
	require.True(t, annotation.LabelsEqual(label, fromLegacy[0]))
}
