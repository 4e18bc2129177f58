package ontology

import (
	"strings"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

// Builder assembles an ontology locally. Schema ids are optional.
type Builder struct {
	tools           []*Tool
	classifications []*Classification
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) AddTool(t *Tool) error {
	for _, existing := range b.tools {
		if existing.Name == t.Name {
			return labelerr.InconsistentOntology(t.Name, "duplicate tool")
		}
	}
	b.tools = append(b.tools, t)
	return nil
}

func (b *Builder) AddClassification(c *Classification) error {
	if err := addUnique("", b.classifications, c); err != nil {
		return err
	}
	b.classifications = append(b.classifications, c)
	return nil
}

// Build validates and returns the ontology.
// The builder keeps no reference to the result.
func (b *Builder) Build() (*Ontology, error) {
	o := (&Ontology{
		Tools:           b.tools,
		Classifications: b.classifications,
	}).Clone()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Merge flattens two ontologies into one. Root nodes are matched by name,
// ignoring case, and a node from later replaces the node from earlier.
// Nodes that only exist in one of the two are kept, in their original order.
func Merge(earlier, later *Ontology) *Ontology {
	merged := earlier.Clone()
	for _, t := range later.Tools {
		found := false
		for i := range merged.Tools {
			if strings.EqualFold(merged.Tools[i].Name, t.Name) {
				merged.Tools[i] = t.Clone()
				found = true
			}
		}
		if !found {
			merged.Tools = append(merged.Tools, t.Clone())
		}
	}
	for _, c := range later.Classifications {
		found := false
		for i := range merged.Classifications {
			if strings.EqualFold(merged.Classifications[i].Name, c.Name) {
				merged.Classifications[i] = c.Clone()
				found = true
			}
		}
		if !found {
			merged.Classifications = append(merged.Classifications, c.Clone())
		}
	}
	return merged
}
