package geom

import "github.com/cyclopcam/labelkit/pkg/labelerr"

// Span is an inclusive [Start, End] range over a text unit (characters or tokens)
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Validate() error {
	if s.Start < 0 {
		return labelerr.InvalidInput("", "span start %v is negative", s.Start)
	}
	if s.Start > s.End {
		return labelerr.InvalidInput("", "span start %v is after end %v", s.Start, s.End)
	}
	return nil
}

// SpanIoU is the overlap length divided by the union length.
// Disjoint spans give 0. When the union collapses to a single element, the
// spans are identical and the result is 1.
func SpanIoU(a, b Span) float64 {
	if a.Start > b.End || b.Start > a.End {
		return 0
	}
	unionStart := min(a.Start, b.Start)
	unionEnd := max(a.End, b.End)
	if unionEnd == unionStart {
		return 1
	}
	overlapStart := max(a.Start, b.Start)
	overlapEnd := min(a.End, b.End)
	return float64(overlapEnd-overlapStart) / float64(unionEnd-unionStart)
}
