package annotation

import (
	"fmt"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

func validateFeature(f *Feature, what string) error {
	if !f.IsSet() {
		return labelerr.InvalidInput("", "%v has neither a name nor a feature schema id", what)
	}
	return nil
}

func (a *ObjectAnnotation) Validate() error {
	if err := validateFeature(&a.Feature, "object annotation"); err != nil {
		return err
	}
	if a.Value == nil {
		return labelerr.InvalidInput(a.Key(), "object annotation has no value")
	}
	if err := a.Value.Validate(); err != nil {
		return withKey(err, a.Key())
	}
	if err := validateConfidence(a.Key(), a.Confidence); err != nil {
		return err
	}
	if a.Frame != nil && a.Frame.Index < 0 {
		return labelerr.InvalidInput(a.Key(), "negative frame index %v", a.Frame.Index)
	}
	if a.Page < 0 {
		return labelerr.InvalidInput(a.Key(), "negative page %v", a.Page)
	}
	switch a.Value.(type) {
	case DicomPolyline, DicomMask:
		if a.Dicom == nil {
			return labelerr.InvalidInput(a.Key(), "DICOM annotation has no group")
		}
	}
	if a.Dicom != nil {
		if !a.Dicom.Group.IsValid() {
			return labelerr.InvalidInput(a.Key(), "unknown DICOM group '%v'", a.Dicom.Group)
		}
		if a.Dicom.Frame < 0 {
			return labelerr.InvalidInput(a.Key(), "negative DICOM frame %v", a.Dicom.Frame)
		}
	}
	for _, c := range a.Classifications {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (a *ClassificationAnnotation) Validate() error {
	if err := validateFeature(&a.Feature, "classification"); err != nil {
		return err
	}
	if a.Value == nil {
		return labelerr.InvalidInput(a.Key(), "classification has no answer")
	}
	if a.Frame != nil && a.Frame.Index < 0 {
		return labelerr.InvalidInput(a.Key(), "negative frame index %v", a.Frame.Index)
	}
	return withKey(a.Value.Validate(), a.Key())
}

func (a *RelationshipAnnotation) Validate() error {
	if err := validateFeature(&a.Feature, "relationship"); err != nil {
		return err
	}
	if a.Source == "" || a.Target == "" {
		return labelerr.InvalidInput(a.Key(), "relationship needs both a source and a target")
	}
	if a.Type != Unidirectional && a.Type != Bidirectional {
		return labelerr.InvalidInput(a.Key(), "unknown relationship type '%v'", a.Type)
	}
	return nil
}

// Validate checks every annotation, and that every relationship refers to
// objects of this label. The first failure aborts.
func (l *Label) Validate() error {
	if err := l.Data.Validate(); err != nil {
		return err
	}
	// A video track shares one uuid across its frames
	uuids := map[string]bool{}
	placed := map[string]bool{}
	for _, a := range l.Annotations {
		if a == nil {
			return labelerr.InvalidInput(l.Data.Key(), "nil annotation")
		}
		if err := a.Validate(); err != nil {
			return err
		}
		if o, ok := a.(*ObjectAnnotation); ok && o.Extra.UUID != "" {
			where := o.Extra.UUID
			if o.Frame != nil {
				where = fmt.Sprintf("%v@%v", o.Extra.UUID, o.Frame.Index)
			} else if o.Dicom != nil {
				where = fmt.Sprintf("%v@%v:%v", o.Extra.UUID, o.Dicom.Group, o.Dicom.Frame)
			}
			if placed[where] {
				return labelerr.InvalidInput(o.Extra.UUID, "two objects in one label share a uuid")
			}
			placed[where] = true
			uuids[o.Extra.UUID] = true
		}
	}
	for _, r := range l.Relationships() {
		if !uuids[r.Source] {
			return labelerr.DanglingRelationship(r.Source)
		}
		if !uuids[r.Target] {
			return labelerr.DanglingRelationship(r.Target)
		}
	}
	return nil
}

// Validate requires exactly one of id or global key.
// An external id is accepted only when neither is present.
func (d DataRef) Validate() error {
	if d.ID != "" && d.GlobalKey != "" {
		return labelerr.InvalidInput(d.ID, "data row has both an id and a global key")
	}
	if d.ID == "" && d.GlobalKey == "" && d.ExternalID == "" {
		return labelerr.InvalidInput("", "data row has neither an id nor a global key")
	}
	return nil
}

// withKey fills in the key of an error raised by a value, which does not know
// which annotation it belongs to.
func withKey(err error, key string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*labelerr.Error); ok && e.Key == "" {
		return labelerr.New(e.Kind, key, "%v", e.Message)
	}
	return fmt.Errorf("%v: %w", key, err)
}
