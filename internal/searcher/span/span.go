// Package span builds the short multi-line windows that a transcript
// fragment crossing a line break is matched against.
package span

import (
	"strings"
)

// MaxLines is the longest window considered.
const MaxLines = 3

// Span is an inclusive range of line ids with End-Start < MaxLines.
type Span struct {
	Start int `json:"start_line_id"`
	End   int `json:"end_line_id"`
}

func (s Span) Len() int { return s.End - s.Start + 1 }

func (s Span) Contains(id int) bool { return id >= s.Start && id <= s.End }

// offsets lists the windows around an anchor in evaluation order:
// self, self+next, prev+self, prev+self+next, self+next+next, prev+prev+self.
var offsets = [...][2]int{
	{0, 0},
	{0, 1},
	{-1, 0},
	{-1, 1},
	{0, 2},
	{-2, 0},
}

// Windows returns the windows around anchor that fit within [first, last],
// in evaluation order.
func Windows(anchor, first, last int) []Span {
	out := make([]Span, 0, len(offsets))
	for _, o := range offsets {
		s := Span{Start: anchor + o[0], End: anchor + o[1]}
		if s.Start < first || s.End > last {
			continue
		}
		out = append(out, s)
	}
	return out
}

// TextSource resolves a line id to its text.
type TextSource interface {
	Text(id int) string
}

// Text joins the lines of s with single spaces.
func Text(src TextSource, s Span) string {
	if s.Len() == 1 {
		return src.Text(s.Start)
	}
	parts := make([]string, 0, s.Len())
	for id := s.Start; id <= s.End; id++ {
		parts = append(parts, src.Text(id))
	}
	return strings.Join(parts, " ")
}
