package index

// PostingList is a strictly ascending list of line ids.
type PostingList []int

// TermEntry pairs a term with its postings. Snapshot and the segment format
// exchange slices of these sorted by term.
type TermEntry struct {
	Term     string      `json:"term"`
	Postings PostingList `json:"postings"`
}

// TermStat is a term and the number of lines containing it.
type TermStat struct {
	Term      string `json:"term"`
	LineCount int    `json:"line_count"`
}

// Intersect returns the ids present in both lists.
func Intersect(a, b PostingList) PostingList {
	out := make(PostingList, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Union returns the ids present in either list.
func Union(a, b PostingList) PostingList {
	out := make(PostingList, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Contains reports whether id is in the list.
func (p PostingList) Contains(id int) bool {
	lo, hi := 0, len(p)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case p[mid] == id:
			return true
		case p[mid] < id:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}
