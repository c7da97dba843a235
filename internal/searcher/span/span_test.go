package span

import (
	"reflect"
	"testing"
)

type lines []string

func (l lines) Text(id int) string { return l[id-1] }

func TestWindowsOrder(t *testing.T) {
	got := Windows(5, 1, 10)
	want := []Span{{5, 5}, {5, 6}, {4, 5}, {4, 6}, {5, 7}, {3, 5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Windows = %v, want %v", got, want)
	}
}

func TestWindowsClipped(t *testing.T) {
	tests := []struct {
		name                string
		anchor, first, last int
		want                []Span
	}{
		{"first line", 1, 1, 10, []Span{{1, 1}, {1, 2}, {1, 3}}},
		{"second line", 2, 1, 10, []Span{{2, 2}, {2, 3}, {1, 2}, {1, 3}, {2, 4}}},
		{"last line", 10, 1, 10, []Span{{10, 10}, {9, 10}, {8, 10}}},
		{"single line section", 4, 4, 4, []Span{{4, 4}}},
		{"section bounds", 5, 5, 6, []Span{{5, 5}, {5, 6}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Windows(tt.anchor, tt.first, tt.last)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Windows(%d, %d, %d) = %v, want %v", tt.anchor, tt.first, tt.last, got, tt.want)
			}
			for _, s := range got {
				if s.Len() > MaxLines || !s.Contains(tt.anchor) {
					t.Errorf("bad span %v", s)
				}
			}
		})
	}
}

func TestText(t *testing.T) {
	src := lines{"ਇਕ", "ਦੋ", "ਤਿੰਨ"}
	if got := Text(src, Span{1, 1}); got != "ਇਕ" {
		t.Errorf("Text single = %q", got)
	}
	if got := Text(src, Span{1, 3}); got != "ਇਕ ਦੋ ਤਿੰਨ" {
		t.Errorf("Text triple = %q", got)
	}
}
