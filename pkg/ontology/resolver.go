package ontology

import (
	"github.com/cyclopcam/labelkit/pkg/labelerr"
)

type Root int

const (
	RootTools Root = iota
	RootClassifications
)

type resolverNode struct {
	node     *Node // nil for the two synthetic roots
	parent   *resolverNode
	children map[string]*resolverNode
}

func newResolverNode(n *Node, parent *resolverNode) *resolverNode {
	return &resolverNode{
		node:     n,
		parent:   parent,
		children: map[string]*resolverNode{},
	}
}

// Resolver maps name paths to feature schema ids and back.
// Resolution is path-sensitive, so the same name may appear under different
// parents. The ontology must not be modified while a Resolver refers to it.
type Resolver struct {
	tools           *resolverNode
	classifications *resolverNode
	byID            map[string]*resolverNode
	pathToID        map[string]string
}

// NewResolver indexes the ontology.
// Returns AmbiguousName if two siblings share a name.
func NewResolver(o *Ontology) (*Resolver, error) {
	r := &Resolver{
		tools:           newResolverNode(nil, nil),
		classifications: newResolverNode(nil, nil),
		byID:            map[string]*resolverNode{},
		pathToID:        map[string]string{},
	}
	for _, n := range o.Roots() {
		parent := r.tools
		if n.Kind == NodeClassification {
			parent = r.classifications
		}
		if err := r.add(parent, n); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Resolver) add(parent *resolverNode, n *Node) error {
	name := n.Name()
	if _, exists := parent.children[name]; exists {
		return labelerr.AmbiguousName(n.Path)
	}
	rn := newResolverNode(n, parent)
	parent.children[name] = rn
	if id := n.FeatureSchemaID(); id != "" {
		if _, exists := r.byID[id]; exists {
			return labelerr.InconsistentOntology(id, "feature schema id is used by more than one node")
		}
		r.byID[id] = rn
		r.pathToID[n.Path] = id
	}
	for _, c := range n.Children() {
		if err := r.add(rn, c); err != nil {
			return err
		}
	}
	return nil
}

// Scope is a position in the tree. Children of a scope have unique names.
type Scope struct {
	r *Resolver
	n *resolverNode
}

func (r *Resolver) Tools() Scope {
	return Scope{r, r.tools}
}

func (r *Resolver) Classifications() Scope {
	return Scope{r, r.classifications}
}

// Node returns the ontology node of the scope, or nil for a root scope
func (s Scope) Node() *Node {
	return s.n.node
}

func (s Scope) path() string {
	if s.n.node == nil {
		return ""
	}
	return s.n.node.Path
}

// Resolve finds a direct child of the scope.
// If id is given it takes precedence, and name is not consulted. The caller
// can compare the name of the result to detect a disagreement.
func (s Scope) Resolve(name, id string) (Scope, error) {
	if id != "" {
		rn, ok := s.r.byID[id]
		if !ok || rn.parent != s.n {
			return Scope{}, labelerr.UnknownSchemaID(id)
		}
		return Scope{s.r, rn}, nil
	}
	if name == "" {
		return Scope{}, labelerr.InvalidInput(s.path(), "neither a name nor a feature schema id")
	}
	rn, ok := s.n.children[name]
	if !ok {
		return Scope{}, labelerr.UnknownName(joinPath(s.path(), name))
	}
	return Scope{s.r, rn}, nil
}

// Lookup follows a path of names from a root
func (r *Resolver) Lookup(root Root, path ...string) (*Node, error) {
	s := r.Tools()
	if root == RootClassifications {
		s = r.Classifications()
	}
	for _, name := range path {
		var err error
		if s, err = s.Resolve(name, ""); err != nil {
			return nil, err
		}
	}
	if s.Node() == nil {
		return nil, labelerr.InvalidInput("", "empty path")
	}
	return s.Node(), nil
}

// SchemaID returns the feature schema id of the node at path.
// Returns UnknownName if the path does not exist, and UnknownSchemaID if the
// node exists but has no id (it was authored locally).
func (r *Resolver) SchemaID(root Root, path ...string) (string, error) {
	n, err := r.Lookup(root, path...)
	if err != nil {
		return "", err
	}
	if n.FeatureSchemaID() == "" {
		return "", labelerr.UnknownSchemaID(n.Path)
	}
	return n.FeatureSchemaID(), nil
}

// Node returns the node with the given feature schema id
func (r *Resolver) Node(id string) (*Node, error) {
	rn, ok := r.byID[id]
	if !ok {
		return nil, labelerr.UnknownSchemaID(id)
	}
	return rn.node, nil
}

// Name returns the name of the node with the given feature schema id
func (r *Resolver) Name(id string) (string, error) {
	n, err := r.Node(id)
	if err != nil {
		return "", err
	}
	return n.Name(), nil
}

// IDByPath is the flat path to id mapping, over every node that has an id
func (r *Resolver) IDByPath() map[string]string {
	out := make(map[string]string, len(r.pathToID))
	for k, v := range r.pathToID {
		out[k] = v
	}
	return out
}
