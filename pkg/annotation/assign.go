package annotation

import (
	"github.com/cyclopcam/labelkit/pkg/ontology"
	"github.com/cyclopcam/logs"
)

// AssignFeatureSchemaIDs fills in the feature schema id of every annotation,
// answer, and nested classification that only has a name.
//
// When an annotation has both, and they disagree, the id wins: the name is
// replaced with the ontology's name and a warning is logged.
func AssignFeatureSchemaIDs(log logs.Log, label *Label, r *ontology.Resolver) error {
	return assign(log, label, r, func(f *Feature, n *ontology.Node) {
		if f.FeatureSchemaID == "" {
			f.FeatureSchemaID = n.FeatureSchemaID()
		}
	})
}

// AssignNames fills in the name of every annotation, answer, and nested
// classification that only has a feature schema id.
func AssignNames(log logs.Log, label *Label, r *ontology.Resolver) error {
	return assign(log, label, r, func(f *Feature, n *ontology.Node) {
		if f.Name == "" {
			f.Name = n.Name()
		}
	})
}

type resolveWalker struct {
	log    logs.Log
	fill   func(f *Feature, n *ontology.Node)
	dryRun bool
}

// The label is resolved twice. The first pass changes nothing, so that a
// failure leaves the label untouched.
func assign(log logs.Log, label *Label, r *ontology.Resolver, fill func(f *Feature, n *ontology.Node)) error {
	if err := (&resolveWalker{dryRun: true}).walk(label, r); err != nil {
		return err
	}
	return (&resolveWalker{log: log, fill: fill}).walk(label, r)
}

func (w *resolveWalker) walk(label *Label, r *ontology.Resolver) error {
	for _, a := range label.Annotations {
		var err error
		switch v := a.(type) {
		case *ObjectAnnotation:
			err = w.object(r.Tools(), v)
		case *ClassificationAnnotation:
			err = w.classification(r.Classifications(), v)
		case *RelationshipAnnotation:
			_, err = w.resolve(r.Tools(), &v.Feature)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *resolveWalker) resolve(parent ontology.Scope, f *Feature) (ontology.Scope, error) {
	s, err := parent.Resolve(f.Name, f.FeatureSchemaID)
	if err != nil {
		return s, err
	}
	if w.dryRun {
		return s, nil
	}
	n := s.Node()
	if f.Name != "" && f.FeatureSchemaID != "" && f.Name != n.Name() {
		if w.log != nil {
			w.log.Warnf("Annotation name '%v' disagrees with feature schema id %v, which is '%v'. Using the feature schema id.", f.Name, f.FeatureSchemaID, n.Path)
		}
		f.Name = n.Name()
	}
	w.fill(f, n)
	return s, nil
}

func (w *resolveWalker) object(tools ontology.Scope, a *ObjectAnnotation) error {
	s, err := w.resolve(tools, &a.Feature)
	if err != nil {
		return err
	}
	for _, c := range a.Classifications {
		if err := w.classification(s, c); err != nil {
			return err
		}
	}
	return nil
}

func (w *resolveWalker) classification(parent ontology.Scope, c *ClassificationAnnotation) error {
	s, err := w.resolve(parent, &c.Feature)
	if err != nil {
		return err
	}
	switch v := c.Value.(type) {
	case Radio:
		if err := w.answer(s, &v.Answer); err != nil {
			return err
		}
		c.Value = v
	case Checklist:
		for i := range v.Answers {
			if err := w.answer(s, &v.Answers[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *resolveWalker) answer(classification ontology.Scope, a *ClassificationAnswer) error {
	s, err := w.resolve(classification, &a.Feature)
	if err != nil {
		return err
	}
	for _, c := range a.Classifications {
		if err := w.classification(s, c); err != nil {
			return err
		}
	}
	return nil
}
