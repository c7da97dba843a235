package merger

import (
	"reflect"
	"testing"
)

func TestTopKKeepsBest(t *testing.T) {
	top := NewTopK(3)
	for _, s := range []Scored{
		{1, 40}, {2, 90}, {3, 70}, {4, 90}, {5, 10}, {6, 80},
	} {
		top.Push(s)
	}
	want := []Scored{{2, 90}, {4, 90}, {6, 80}}
	if got := top.Results(); !reflect.DeepEqual(got, want) {
		t.Errorf("Results() = %v, want %v", got, want)
	}
}

func TestTopKTieKeepsEarliest(t *testing.T) {
	top := NewTopK(1)
	top.Push(Scored{LineID: 3, Score: 50})
	top.Push(Scored{LineID: 7, Score: 50})
	top.Push(Scored{LineID: 1, Score: 50})
	if got := top.Results(); got[0].LineID != 1 {
		t.Errorf("tie winner = %d, want 1", got[0].LineID)
	}
}

func TestMerge(t *testing.T) {
	got := Merge([][]Scored{
		{{1, 10}, {2, 60}},
		{{3, 60}, {4, 99}},
	}, 2)
	want := []Scored{{4, 99}, {2, 60}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
	if got := Merge(nil, 0); len(got) != 0 {
		t.Errorf("Merge(nil) = %v", got)
	}
}
