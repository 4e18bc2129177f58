// Package labelerr holds the error kinds shared by the annotation, ontology,
// converter and metrics packages.
package labelerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInvalidInput Kind = iota
	KindInconsistentOntology
	KindUnknownName
	KindUnknownSchemaID
	KindAmbiguousName
	KindDanglingRelationship
	KindShapeMismatch
	KindClosedSetViolation // Programmer error. An annotation value outside the closed set.
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindInconsistentOntology:
		return "inconsistent ontology"
	case KindUnknownName:
		return "unknown name"
	case KindUnknownSchemaID:
		return "unknown schema id"
	case KindAmbiguousName:
		return "ambiguous name"
	case KindDanglingRelationship:
		return "dangling relationship"
	case KindShapeMismatch:
		return "shape mismatch"
	case KindClosedSetViolation:
		return "closed set violation"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrInconsistentOntology = &Error{Kind: KindInconsistentOntology}
	ErrUnknownName          = &Error{Kind: KindUnknownName}
	ErrUnknownSchemaID      = &Error{Kind: KindUnknownSchemaID}
	ErrAmbiguousName        = &Error{Kind: KindAmbiguousName}
	ErrDanglingRelationship = &Error{Kind: KindDanglingRelationship}
	ErrShapeMismatch        = &Error{Kind: KindShapeMismatch}
	ErrClosedSetViolation   = &Error{Kind: KindClosedSetViolation}
)

// Error is returned by every package in labelkit.
// Key identifies the offending entity: a name, a feature schema id, or a uuid.
type Error struct {
	Kind    Kind
	Key     string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Key != "" && e.Message != "":
		return fmt.Sprintf("%v '%v': %v", e.Kind, e.Key, e.Message)
	case e.Key != "":
		return fmt.Sprintf("%v '%v'", e.Kind, e.Key)
	case e.Message != "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
// key may be empty when there is no identifying entity.
func New(kind Kind, key string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Key:     key,
		Message: fmt.Sprintf(format, args...),
	}
}

func InvalidInput(key string, format string, args ...any) *Error {
	return New(KindInvalidInput, key, format, args...)
}

func InconsistentOntology(key string, format string, args ...any) *Error {
	return New(KindInconsistentOntology, key, format, args...)
}

func UnknownName(name string) *Error {
	return &Error{Kind: KindUnknownName, Key: name}
}

func UnknownSchemaID(id string) *Error {
	return &Error{Kind: KindUnknownSchemaID, Key: id}
}

func AmbiguousName(path string) *Error {
	return New(KindAmbiguousName, path, "more than one sibling has this name")
}

func DanglingRelationship(uuid string) *Error {
	return New(KindDanglingRelationship, uuid, "relationship references an annotation that is not in the same label")
}

func ShapeMismatch(format string, args ...any) *Error {
	return New(KindShapeMismatch, "", format, args...)
}

func ClosedSetViolation(value any) *Error {
	return New(KindClosedSetViolation, "", "unsupported annotation value %T", value)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
