package ontology

type NodeKind int

const (
	NodeTool NodeKind = iota
	NodeClassification
	NodeOption
)

func (k NodeKind) String() string {
	switch k {
	case NodeTool:
		return "tool"
	case NodeClassification:
		return "classification"
	case NodeOption:
		return "option"
	}
	return "unknown"
}

// Node is a reference to one node of the tree. Exactly one of Tool,
// Classification, or Option is set, matching Kind.
type Node struct {
	Kind           NodeKind
	Path           string // Names from the root, joined by "/"
	Tool           *Tool
	Classification *Classification
	Option         *Option
}

func (n *Node) Name() string {
	switch n.Kind {
	case NodeTool:
		return n.Tool.Name
	case NodeClassification:
		return n.Classification.Name
	case NodeOption:
		return n.Option.Value
	}
	return ""
}

func (n *Node) FeatureSchemaID() string {
	switch n.Kind {
	case NodeTool:
		return n.Tool.FeatureSchemaID
	case NodeClassification:
		return n.Classification.FeatureSchemaID
	case NodeOption:
		return n.Option.FeatureSchemaID
	}
	return ""
}

// Children returns the direct descendants of the node
func (n *Node) Children() []*Node {
	out := []*Node{}
	switch n.Kind {
	case NodeTool:
		for _, c := range n.Tool.Classifications {
			out = append(out, &Node{Kind: NodeClassification, Path: joinPath(n.Path, c.Name), Classification: c})
		}
	case NodeClassification:
		for _, o := range n.Classification.Options {
			out = append(out, &Node{Kind: NodeOption, Path: joinPath(n.Path, o.Value), Option: o})
		}
	case NodeOption:
		for _, c := range n.Option.Options {
			out = append(out, &Node{Kind: NodeClassification, Path: joinPath(n.Path, c.Name), Classification: c})
		}
	}
	return out
}

// Roots returns the tools followed by the root classifications
func (o *Ontology) Roots() []*Node {
	out := []*Node{}
	for _, t := range o.Tools {
		out = append(out, &Node{Kind: NodeTool, Path: t.Name, Tool: t})
	}
	for _, c := range o.Classifications {
		out = append(out, &Node{Kind: NodeClassification, Path: c.Name, Classification: c})
	}
	return out
}

// Walk visits every node, depth first, parents before children.
// If visit returns false, the children of that node are skipped.
func (o *Ontology) Walk(visit func(n *Node) bool) {
	var walk func(n *Node)
	walk = func(n *Node) {
		if !visit(n) {
			return
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	for _, r := range o.Roots() {
		walk(r)
	}
}

// ByFeatureSchemaID finds a node anywhere in the tree, including nested options
func (o *Ontology) ByFeatureSchemaID(id string) (*Node, bool) {
	if id == "" {
		return nil, false
	}
	var found *Node
	o.Walk(func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.FeatureSchemaID() == id {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// ByPath finds a node by its name path, for example "bbox/nested/radio_option_1".
// Tools are searched before root classifications.
func (o *Ontology) ByPath(path string) (*Node, bool) {
	parts := splitPath(path)
	level := o.Roots()
	var cur *Node
	for _, name := range parts {
		cur = nil
		for _, n := range level {
			if n.Name() == name {
				cur = n
				break
			}
		}
		if cur == nil {
			return nil, false
		}
		level = cur.Children()
	}
	return cur, cur != nil
}

// ToolByName returns the first root tool with the given name
func (o *Ontology) ToolByName(name string) *Tool {
	for _, t := range o.Tools {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ClassificationByName returns the first root classification with the given name
func (o *Ontology) ClassificationByName(name string) *Classification {
	for _, c := range o.Classifications {
		if c.Name == name {
			return c
		}
	}
	return nil
}
