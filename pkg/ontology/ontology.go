// Package ontology is the typed schema of a labeling project.
// An Ontology is a tree: tools and classifications at the root, options under
// choice classifications, and nested classifications under tools and options.
// Every node may carry a platform-issued feature schema id. Names are unique
// among siblings.
package ontology

import (
	"encoding/json"
	"strings"

	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

type ToolKind string

const (
	ToolRectangle            ToolKind = "rectangle"
	ToolPolygon              ToolKind = "polygon"
	ToolPoint                ToolKind = "point"
	ToolLine                 ToolKind = "line"
	ToolRasterSegmentation   ToolKind = "raster-segmentation"
	ToolNamedEntity          ToolKind = "named-entity"
	ToolConversationalEntity ToolKind = "conversational-entity"
	ToolDocumentEntity       ToolKind = "document-entity"
	ToolEdge                 ToolKind = "edge" // Relationship between two objects
)

var allToolKinds = []ToolKind{
	ToolRectangle,
	ToolPolygon,
	ToolPoint,
	ToolLine,
	ToolRasterSegmentation,
	ToolNamedEntity,
	ToolConversationalEntity,
	ToolDocumentEntity,
	ToolEdge,
}

func (k ToolKind) IsValid() bool {
	for _, v := range allToolKinds {
		if k == v {
			return true
		}
	}
	return false
}

type ClassificationKind string

const (
	ClassificationRadio     ClassificationKind = "radio"
	ClassificationChecklist ClassificationKind = "checklist"
	ClassificationText      ClassificationKind = "text"
	ClassificationDropdown  ClassificationKind = "dropdown"
	ClassificationScalar    ClassificationKind = "scalar"
)

func (k ClassificationKind) IsValid() bool {
	switch k {
	case ClassificationRadio, ClassificationChecklist, ClassificationText, ClassificationDropdown, ClassificationScalar:
		return true
	}
	return false
}

// HasOptions is true for the kinds whose answers are chosen from a list
func (k ClassificationKind) HasOptions() bool {
	return k == ClassificationRadio || k == ClassificationChecklist || k == ClassificationDropdown
}

type Ontology struct {
	Tools           []*Tool           `json:"tools"`
	Classifications []*Classification `json:"classifications"`
}

type Tool struct {
	Kind            ToolKind          `json:"tool"`
	Name            string            `json:"name"`
	FeatureSchemaID string            `json:"featureSchemaId,omitempty"`
	SchemaNodeID    string            `json:"schemaNodeId,omitempty"`
	Color           string            `json:"color,omitempty"`
	Required        bool              `json:"required"`
	Classifications []*Classification `json:"classifications"`
}

type Classification struct {
	Kind            ClassificationKind `json:"type"`
	Name            string             `json:"name"`
	FeatureSchemaID string             `json:"featureSchemaId,omitempty"`
	SchemaNodeID    string             `json:"schemaNodeId,omitempty"`
	Required        bool               `json:"required"`
	Scope           string             `json:"scope,omitempty"` // "global" or "index" (per frame). Empty means global.
	Options         []*Option          `json:"options"`
}

// Option is an answer choice. Its name is Value.
type Option struct {
	Value           string            `json:"value"`
	Label           string            `json:"label,omitempty"`
	FeatureSchemaID string            `json:"featureSchemaId,omitempty"`
	SchemaNodeID    string            `json:"schemaNodeId,omitempty"`
	Options         []*Classification `json:"options"`
}

// The platform also sends the classification name as "instructions"
func (c *Classification) UnmarshalJSON(b []byte) error {
	type plain Classification
	aux := struct {
		*plain
		Instructions string `json:"instructions"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = aux.Instructions
	}
	return nil
}

func (c Classification) MarshalJSON() ([]byte, error) {
	type plain Classification
	return json.Marshal(struct {
		plain
		Instructions string `json:"instructions"`
	}{plain(c), c.Name})
}

func (o *Option) UnmarshalJSON(b []byte) error {
	type plain Option
	if err := json.Unmarshal(b, (*plain)(o)); err != nil {
		return err
	}
	if o.Value == "" {
		o.Value = o.Label
	}
	if o.Label == "" {
		o.Label = o.Value
	}
	return nil
}

// FromNormalized parses and validates the normalized JSON form of an ontology
func FromNormalized(data []byte) (*Ontology, error) {
	o := &Ontology{}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, labelerr.InvalidInput("", "ontology is not valid JSON: %v", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// FromMap accepts an already-decoded normalized ontology
func FromMap(m map[string]any) (*Ontology, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, labelerr.InvalidInput("", "ontology cannot be encoded: %v", err)
	}
	return FromNormalized(raw)
}

// Normalized serializes the ontology, after validating it
func (o *Ontology) Normalized() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(o)
}

// Validate checks the closed tool and classification sets, that choice
// classifications have options, and that sibling names are unique.
func (o *Ontology) Validate() error {
	names := map[string]bool{}
	for _, t := range o.Tools {
		if err := checkName(names, "", t.Name); err != nil {
			return err
		}
		if err := t.validate(); err != nil {
			return err
		}
	}
	return validateClassifications("", o.Classifications)
}

func (t *Tool) validate() error {
	if !t.Kind.IsValid() {
		return labelerr.InvalidInput(t.Name, "unknown tool kind '%v'", t.Kind)
	}
	return validateClassifications(t.Name, t.Classifications)
}

func validateClassifications(parent string, list []*Classification) error {
	names := map[string]bool{}
	for _, c := range list {
		if err := checkName(names, parent, c.Name); err != nil {
			return err
		}
		if err := c.validate(joinPath(parent, c.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Classification) validate(path string) error {
	if !c.Kind.IsValid() {
		return labelerr.InvalidInput(path, "unknown classification type '%v'", c.Kind)
	}
	if c.Kind.HasOptions() && len(c.Options) == 0 {
		return labelerr.InconsistentOntology(path, "%v classification has no options", c.Kind)
	}
	if !c.Kind.HasOptions() && len(c.Options) != 0 {
		return labelerr.InconsistentOntology(path, "%v classification may not have options", c.Kind)
	}
	names := map[string]bool{}
	for _, opt := range c.Options {
		if err := checkName(names, path, opt.Value); err != nil {
			return err
		}
		if err := validateClassifications(joinPath(path, opt.Value), opt.Options); err != nil {
			return err
		}
	}
	return nil
}

func checkName(seen map[string]bool, parent, name string) error {
	if name == "" {
		return labelerr.InvalidInput(parent, "ontology node has no name")
	}
	if seen[name] {
		return labelerr.InconsistentOntology(joinPath(parent, name), "duplicate name among siblings")
	}
	seen[name] = true
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// AddClassification attaches a nested classification to a tool
func (t *Tool) AddClassification(c *Classification) error {
	if err := addUnique(t.Name, t.Classifications, c); err != nil {
		return err
	}
	t.Classifications = append(t.Classifications, c)
	return nil
}

func (c *Classification) AddOption(opt *Option) error {
	for _, existing := range c.Options {
		if existing.Value == opt.Value {
			return labelerr.InconsistentOntology(joinPath(c.Name, opt.Value), "duplicate option")
		}
	}
	c.Options = append(c.Options, opt)
	return nil
}

// AddClassification attaches a nested classification to an option
func (o *Option) AddClassification(c *Classification) error {
	if err := addUnique(o.Value, o.Options, c); err != nil {
		return err
	}
	o.Options = append(o.Options, c)
	return nil
}

func addUnique(parent string, list []*Classification, c *Classification) error {
	for _, existing := range list {
		if existing.Name == c.Name {
			return labelerr.InconsistentOntology(joinPath(parent, c.Name), "duplicate classification")
		}
	}
	return nil
}

func (t *Tool) Clone() *Tool {
	c := *t
	c.Classifications = cloneClassifications(t.Classifications)
	return &c
}

func (c *Classification) Clone() *Classification {
	cp := *c
	cp.Options = nil
	for _, opt := range c.Options {
		o := *opt
		o.Options = cloneClassifications(opt.Options)
		cp.Options = append(cp.Options, &o)
	}
	return &cp
}

func cloneClassifications(list []*Classification) []*Classification {
	if list == nil {
		return nil
	}
	out := make([]*Classification, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

func (o *Ontology) Clone() *Ontology {
	c := &Ontology{
		Classifications: cloneClassifications(o.Classifications),
	}
	for _, t := range o.Tools {
		c.Tools = append(c.Tools, t.Clone())
	}
	return c
}
