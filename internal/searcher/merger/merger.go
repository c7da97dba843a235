// Package merger keeps the best-scoring lines seen during a scan.
package merger

import (
	"container/heap"
	"sort"
)

// Scored is a line id with its score.
type Scored struct {
	LineID int     `json:"line_id"`
	Score  float64 `json:"score"`
}

// Better reports whether a ranks above b: higher score first, then the
// earlier line.
func Better(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.LineID < b.LineID
}

// TopK retains the k best Scored values pushed into it.
type TopK struct {
	limit int
	h     scoredHeap
}

func NewTopK(k int) *TopK {
	if k <= 0 {
		k = 1
	}
	return &TopK{limit: k, h: make(scoredHeap, 0, k+1)}
}

func (t *TopK) Push(s Scored) {
	if t.h.Len() < t.limit {
		heap.Push(&t.h, s)
		return
	}
	if Better(s, t.h[0]) {
		t.h[0] = s
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int { return t.h.Len() }

// Results returns the retained values best first without consuming them.
func (t *TopK) Results() []Scored {
	out := append([]Scored(nil), t.h...)
	sort.Slice(out, func(i, j int) bool { return Better(out[i], out[j]) })
	return out
}

// Merge returns the best limit values across several result lists.
func Merge(lists [][]Scored, limit int) []Scored {
	if limit <= 0 {
		limit = 10
	}
	top := NewTopK(limit)
	for _, list := range lists {
		for _, s := range list {
			top.Push(s)
		}
	}
	return top.Results()
}

// scoredHeap is a min-heap whose root is the worst retained value.
type scoredHeap []Scored

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x interface{}) {
	*h = append(*h, x.(Scored))
}

func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
