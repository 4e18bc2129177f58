package ndjson

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cyclopcam/labelkit/pkg/annotation"
	"github.com/cyclopcam/labelkit/pkg/geom"
	"github.com/cyclopcam/labelkit/pkg/labelerr"
	"github.com/cyclopcam/labelkit/pkg/mask"
	"github.com/stretchr/testify/require"
)

func rect(name, uuid string, x, y, w, h float64) *annotation.ObjectAnnotation {
	return &annotation.ObjectAnnotation{
		Feature: annotation.Feature{Name: name},
		Value:   annotation.Rectangle(geom.RectFromXYWH(x, y, w, h)),
		Extra:   annotation.Extra{UUID: uuid},
	}
}

func roundTrip(t *testing.T, labels ...*annotation.Label) []*annotation.Label {
	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, labels))
	out, err := Deserialize(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(labels))
	for i := range labels {
		require.True(t, annotation.LabelsEqual(labels[i], out[i]), "label %v differs", i)
	}
	return out
}

func chaseLabel() *annotation.Label {
	return &annotation.Label{
		Data: annotation.DataRef{ID: "row-1"},
		Annotations: []annotation.Annotation{
			rect("cat", "cat-1", 0, 0, 10, 10),
			rect("dog", "dog-1", 30, 0, 12, 8),
			&annotation.RelationshipAnnotation{
				Feature: annotation.Feature{Name: "is chasing"},
				Source:  "dog-1",
				Target:  "cat-1",
				Type:    annotation.Unidirectional,
			},
		},
	}
}

func TestRelationshipRoundTrip(t *testing.T) {
	label := chaseLabel()
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "cat-1", records[0].UUID)
	require.Equal(t, &BBox{Top: 0, Left: 30, Height: 8, Width: 12}, records[1].BBox)
	require.Equal(t, &Relationship{Source: "dog-1", Target: "cat-1", Type: "UNIDIRECTIONAL"}, records[2].Relationship)
	require.True(t, annotation.IsUUID(records[2].UUID))

	var buf bytes.Buffer
	require.NoError(t, Serialize(&buf, []*annotation.Label{label}))
	require.Equal(t, 3, strings.Count(buf.String(), "\n"))

	labels, err := Deserialize(&buf)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	out := labels[0]
	require.Equal(t, "row-1", out.Data.ID)
	require.Equal(t, annotation.MediaImage, out.MediaType)
	rels := out.Relationships()
	require.Len(t, rels, 1)
	require.Same(t, out.Annotations[1], out.ObjectByUUID(rels[0].Source))
	require.Same(t, out.Annotations[0], out.ObjectByUUID(rels[0].Target))
	require.Equal(t, "dog", out.ObjectByUUID(rels[0].Source).Name)
	require.Equal(t, annotation.Unidirectional, rels[0].Type)
	require.True(t, annotation.LabelsEqual(label, out))
}

func TestRelationshipFollowsReferents(t *testing.T) {
	label := chaseLabel()
	// Move the relationship to the front
	label.Annotations = []annotation.Annotation{label.Annotations[2], label.Annotations[0], label.Annotations[1]}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "cat-1", records[0].UUID)
	require.Equal(t, "dog-1", records[1].UUID)
	require.NotNil(t, records[2].Relationship)
}

func TestDeserializeOutOfOrder(t *testing.T) {
	lines := []string{
		`{"uuid":"r1","dataRow":{"id":"a"},"name":"is chasing","relationship":{"source":"d","target":"c","type":"bidirectional"}}`,
		`{"uuid":"c","dataRow":{"id":"a"},"name":"cat","bbox":{"top":0,"left":0,"height":1,"width":1}}`,
		``,
		`{"uuid":"x","dataRow":{"globalKey":"b"},"name":"tree","point":{"x":4,"y":5}}`,
		`{"uuid":"d","dataRow":{"id":"a"},"name":"dog","polygon":[{"x":0,"y":0},{"x":2,"y":0},{"x":2,"y":2}]}`,
	}
	labels, err := Deserialize(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.Len(t, labels, 2)
	require.Equal(t, "a", labels[0].Data.ID)
	require.Equal(t, "b", labels[1].Data.GlobalKey)
	require.Len(t, labels[0].Annotations, 3)
	rel := labels[0].Relationships()[0]
	require.Equal(t, annotation.Bidirectional, rel.Type)
	require.Equal(t, "dog", labels[0].ObjectByUUID(rel.Source).Name)
	require.Equal(t, annotation.Point{X: 4, Y: 5}, labels[1].Objects()[0].Value)
}

func TestDanglingRelationship(t *testing.T) {
	dec := NewDecoder()
	require.NoError(t, dec.Add([]byte(`{"uuid":"c","dataRow":{"id":"a"},"name":"cat","point":{"x":1,"y":1}}`)))
	require.NoError(t, dec.Add([]byte(`{"uuid":"r","dataRow":{"id":"a"},"name":"is chasing","relationship":{"source":"ghost","target":"c","type":"UNIDIRECTIONAL"}}`)))
	_, err := dec.Labels()
	require.ErrorIs(t, err, labelerr.ErrDanglingRelationship)
	require.Contains(t, err.Error(), "ghost")

	// The referent lives under a different data row
	dec = NewDecoder()
	require.NoError(t, dec.Add([]byte(`{"uuid":"c","dataRow":{"id":"a"},"name":"cat","point":{"x":1,"y":1}}`)))
	require.NoError(t, dec.Add([]byte(`{"uuid":"r","dataRow":{"id":"b"},"name":"is chasing","relationship":{"source":"c","target":"c","type":"UNIDIRECTIONAL"}}`)))
	_, err = dec.Labels()
	require.ErrorIs(t, err, labelerr.ErrDanglingRelationship)

	// Serialize refuses the same thing
	label := chaseLabel()
	label.Annotations = label.Annotations[1:]
	_, err = SerializeLabel(label)
	require.ErrorIs(t, err, labelerr.ErrDanglingRelationship)
	require.Contains(t, err.Error(), "cat-1")
}

func TestDataRow(t *testing.T) {
	label := chaseLabel()
	label.Data = annotation.DataRef{ExternalID: "legacy-only"}
	_, err := SerializeLabel(label)
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)

	label.Data = annotation.DataRef{ID: "a", GlobalKey: "b"}
	_, err = SerializeLabel(label)
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)

	dec := NewDecoder()
	err = dec.Add([]byte(`{"uuid":"c","dataRow":{"id":"a","globalKey":"b"},"name":"cat","point":{"x":1,"y":1}}`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
	err = dec.Add([]byte(`{"uuid":"c","name":"cat","point":{"x":1,"y":1}}`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
	err = dec.Add([]byte(`{"uuid":"c","dataRow":{"id":"a"},"name":"cat"}`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
	err = dec.Add([]byte(`{not json`))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)

	_, err = Deserialize(strings.NewReader("\n{\"dataRow\":{\"id\":\"a\"},\"name\":\"x\",\"point\":{\"x\":0,\"y\":0},\"bbox\":{\"top\":0,\"left\":0,\"height\":1,\"width\":1}}\n"))
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
	require.Contains(t, err.Error(), "line 2")
}

func TestDeterministicUUIDs(t *testing.T) {
	label := &annotation.Label{
		Data:        annotation.DataRef{GlobalKey: "img-7"},
		Annotations: []annotation.Annotation{rect("cat", "", 0, 0, 1, 1), rect("cat", "", 5, 5, 1, 1)},
	}
	a, err := SerializeLabel(label)
	require.NoError(t, err)
	b, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Equal(t, annotation.DeterministicUUID("img-7", 1), a[1].UUID)
	require.Equal(t, a[0].UUID, b[0].UUID)
	require.NotEqual(t, a[0].UUID, a[1].UUID)
	require.Equal(t, &DataRow{GlobalKey: "img-7"}, a[0].DataRow)
	// The label itself is not modified
	require.Empty(t, label.Objects()[0].Extra.UUID)
}

func TestClassificationRoundTrip(t *testing.T) {
	conf := 0.75
	box := rect("bbox", "b1", 1, 2, 3, 4)
	box.Feature.FeatureSchemaID = "T1"
	box.Confidence = &conf
	box.CustomMetrics = []annotation.CustomMetric{{Name: "iou", Value: 0.5}}
	box.Classifications = []*annotation.ClassificationAnnotation{{
		Feature: annotation.Feature{Name: "nested", FeatureSchemaID: "C1"},
		Value: annotation.Radio{Answer: annotation.ClassificationAnswer{
			Feature:    annotation.Feature{Name: "radio_option_1"},
			Confidence: &conf,
			Classifications: []*annotation.ClassificationAnnotation{{
				Feature: annotation.Feature{Name: "deeper"},
				Value:   annotation.Checklist{Answers: []annotation.ClassificationAnswer{{Feature: annotation.Feature{Name: "x"}}}},
			}},
		}},
	}}
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "row"},
		Annotations: []annotation.Annotation{
			box,
			&annotation.ClassificationAnnotation{
				Feature: annotation.Feature{Name: "tags"},
				Value: annotation.Checklist{Answers: []annotation.ClassificationAnswer{
					{Feature: annotation.Feature{FeatureSchemaID: "A"}, CustomMetrics: []annotation.CustomMetric{{Name: "m", Value: 2}}},
					{Feature: annotation.Feature{FeatureSchemaID: "B"}},
				}},
			},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "caption"}, Value: annotation.Text{Answer: "a \"quoted\" cat"}},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "count"}, Value: annotation.Scalar{Answer: 3}},
		},
	}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.JSONEq(t, `{"name":"radio_option_1","confidence":0.75,"classifications":[{"name":"deeper","answers":[{"name":"x"}]}]}`, string(records[0].Classifications[0].Answer))
	require.Len(t, records[1].Answers, 2)
	require.Equal(t, `"a \"quoted\" cat"`, string(records[2].Answer))
	require.Equal(t, `3`, string(records[3].Answer))

	out := roundTrip(t, label)
	require.Equal(t, annotation.Scalar{Answer: 3}, out[0].Classifications()[2].Value)
}

func TestSpansRoundTrip(t *testing.T) {
	text := &annotation.Label{
		Data: annotation.DataRef{ID: "t"},
		Annotations: []annotation.Annotation{
			&annotation.ObjectAnnotation{Feature: annotation.Feature{Name: "person"}, Value: annotation.TextSpan{Start: 3, End: 9}, Extra: annotation.Extra{UUID: "s1"}},
		},
	}
	conv := &annotation.Label{
		Data: annotation.DataRef{ID: "c"},
		Annotations: []annotation.Annotation{
			&annotation.ObjectAnnotation{Feature: annotation.Feature{Name: "person"}, Value: annotation.ConversationalSpan{Start: 0, End: 4, MessageID: "m0"}, Extra: annotation.Extra{UUID: "s2"}},
			&annotation.ClassificationAnnotation{Feature: annotation.Feature{Name: "tone"}, Value: annotation.Text{Answer: "calm"}, MessageID: "m0"},
		},
	}
	doc := &annotation.Label{
		Data: annotation.DataRef{ID: "d"},
		Annotations: []annotation.Annotation{
			&annotation.ObjectAnnotation{
				Feature: annotation.Feature{Name: "address"},
				Value: annotation.DocumentSpan{Groups: []annotation.TokenGroup{
					{GroupID: "g1", Page: 2, TokenIDs: []string{"t1", "t2"}},
				}},
				Page:  2,
				Extra: annotation.Extra{UUID: "s3"},
			},
			rect("logo", "r1", 0, 0, 20, 10),
		},
	}
	doc.Annotations[1].(*annotation.ObjectAnnotation).Page = 1

	records, err := SerializeLabel(doc)
	require.NoError(t, err)
	require.Equal(t, UnitPoints, records[1].Unit)
	require.Equal(t, 1, records[1].Page)

	out := roundTrip(t, text, conv, doc)
	require.Equal(t, annotation.MediaText, out[0].MediaType)
	require.Equal(t, annotation.MediaConversational, out[1].MediaType)
	require.Equal(t, annotation.MediaDocument, out[2].MediaType)
}

func TestMaskRoundTrip(t *testing.T) {
	bm := geom.NewBitmap(4, 3)
	bm.Set(1, 1, true)
	bm.Set(2, 1, true)
	inline := &annotation.ObjectAnnotation{
		Feature: annotation.Feature{Name: "road"},
		Value:   annotation.Mask{Mask: *mask.FromBitmap(bm)},
		Extra:   annotation.Extra{UUID: "m1"},
	}
	referenced := &annotation.ObjectAnnotation{
		Feature: annotation.Feature{Name: "car"},
		Value:   annotation.Mask{Mask: *mask.FromURL("gs://bucket/composite.png", mask.RGB{255, 0, 0})},
		Extra:   annotation.Extra{UUID: "m2"},
	}
	label := &annotation.Label{Data: annotation.DataRef{ID: "row"}, Annotations: []annotation.Annotation{inline, referenced}}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.NotEmpty(t, records[0].Mask.PNG)
	require.Equal(t, "gs://bucket/composite.png", records[1].Mask.InstanceURI)
	require.Equal(t, &[3]uint8{255, 0, 0}, records[1].Mask.ColorRGB)

	out := roundTrip(t, label)
	got := out[0].Objects()[0].Value.(annotation.Mask)
	require.True(t, got.IsInline())
	require.Equal(t, 2, mask.SelectColor(got.Image, got.Color).Count())
}

func TestVideoRoundTrip(t *testing.T) {
	frame := func(uuid string, index, segment int, x float64) *annotation.ObjectAnnotation {
		o := rect("car", uuid, x, 0, 5, 5)
		o.Frame = &annotation.FrameRef{Index: index, Keyframe: true, Segment: segment}
		return o
	}
	weather := func(index int, answer string) *annotation.ClassificationAnnotation {
		return &annotation.ClassificationAnnotation{
			Feature: annotation.Feature{Name: "weather"},
			Value:   annotation.Radio{Answer: annotation.ClassificationAnswer{Feature: annotation.Feature{Name: answer}}},
			Frame:   &annotation.FrameRef{Index: index},
		}
	}
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "video"},
		Annotations: []annotation.Annotation{
			frame("car-1", 0, 0, 0),
			frame("car-1", 1, 0, 1),
			frame("car-1", 9, 1, 9),
			frame("car-2", 1, 0, 50),
			weather(3, "rain"),
			weather(4, "rain"),
			weather(6, "rain"),
			weather(5, "sun"),
		},
	}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "car-1", records[0].UUID)
	require.Len(t, records[0].Segments, 2)
	require.Len(t, records[0].Segments[0].Keyframes, 2)
	require.Equal(t, 9, records[0].Segments[1].Keyframes[0].Frame)
	require.Equal(t, []FrameRange{{Start: 3, End: 4}, {Start: 6, End: 6}}, records[2].Frames)
	require.Equal(t, []FrameRange{{Start: 5, End: 5}}, records[3].Frames)

	out := roundTrip(t, label)
	require.Equal(t, annotation.MediaVideo, out[0].MediaType)
	require.Len(t, out[0].Frames(), 7)
}

func TestVideoObjectsWithoutUUID(t *testing.T) {
	// Two cars of the same feature on the same frame, neither with a uuid
	a := rect("car", "", 0, 0, 5, 5)
	a.Frame = &annotation.FrameRef{Index: 0, Keyframe: true}
	b := rect("car", "", 50, 0, 5, 5)
	b.Frame = &annotation.FrameRef{Index: 0, Keyframe: true}
	label := &annotation.Label{
		Data:        annotation.DataRef{ID: "video"},
		Annotations: []annotation.Annotation{a, b},
	}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotEqual(t, records[0].UUID, records[1].UUID)
	require.Len(t, records[0].Segments[0].Keyframes, 1)
	require.Len(t, records[1].Segments[0].Keyframes, 1)

	out := roundTrip(t, label)
	require.NoError(t, out[0].Validate())
	require.Len(t, out[0].Objects(), 2)
}

func TestInterleavedTracks(t *testing.T) {
	frame := func(uuid string, index int, x float64) *annotation.ObjectAnnotation {
		o := rect("car", uuid, x, 0, 5, 5)
		o.Frame = &annotation.FrameRef{Index: index, Keyframe: true}
		return o
	}
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "video"},
		Annotations: []annotation.Annotation{
			frame("car-1", 0, 0),
			frame("car-2", 0, 50),
			frame("car-1", 1, 1),
		},
	}
	// Frames come back grouped by track, so the order differs from the input
	out := roundTrip(t, label)
	require.Equal(t, "car-2", out[0].Objects()[2].Extra.UUID)
}

func TestDicomRoundTrip(t *testing.T) {
	polyline := func(frame int) *annotation.ObjectAnnotation {
		return &annotation.ObjectAnnotation{
			Feature: annotation.Feature{Name: "vessel"},
			Value:   annotation.DicomPolyline{{X: 0, Y: 0}, {X: float64(frame), Y: 3}},
			Extra:   annotation.Extra{UUID: "p1"},
			Dicom:   &annotation.DicomRef{Group: annotation.DicomAxial, Frame: frame},
		}
	}
	m := annotation.DicomMask{Mask: *mask.FromURL("https://example.com/seg.png", mask.RGB{0, 255, 0})}
	conf := 0.9
	label := &annotation.Label{
		Data: annotation.DataRef{ID: "scan"},
		Annotations: []annotation.Annotation{
			polyline(2),
			polyline(3),
			&annotation.ObjectAnnotation{
				Feature:       annotation.Feature{Name: "lesion"},
				Value:         m,
				Confidence:    &conf,
				CustomMetrics: []annotation.CustomMetric{{Name: "dice", Value: 0.8}},
				Extra:         annotation.Extra{UUID: "k1"},
				Dicom:         &annotation.DicomRef{Group: annotation.DicomCoronal, Frame: 7},
			},
		},
	}
	records, err := SerializeLabel(label)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "axial", records[0].GroupKey)
	require.Equal(t, 3, records[0].Segments[0].Keyframes[1].Frame)
	require.Equal(t, []DicomMaskFrame{{Index: 7, InstanceURI: "https://example.com/seg.png"}}, records[1].Masks.Frames)
	require.Equal(t, &conf, records[1].Confidence)
	require.Equal(t, []annotation.CustomMetric{{Name: "dice", Value: 0.8}}, records[1].CustomMetrics)

	out := roundTrip(t, label)
	require.Equal(t, annotation.MediaDicom, out[0].MediaType)
	lesion := out[0].Objects()[2]
	require.Equal(t, 0.9, *lesion.Confidence)
	require.Equal(t, "dice", lesion.CustomMetrics[0].Name)

	inline := &annotation.ObjectAnnotation{
		Feature: annotation.Feature{Name: "lesion"},
		Value:   annotation.DicomMask{Mask: *mask.FromBitmap(geom.NewBitmap(2, 2))},
		Dicom:   &annotation.DicomRef{Group: annotation.DicomAxial},
	}
	_, err = SerializeLabel(&annotation.Label{Data: annotation.DataRef{ID: "scan"}, Annotations: []annotation.Annotation{inline}})
	require.ErrorIs(t, err, labelerr.ErrInvalidInput)
}
