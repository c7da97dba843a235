// Package corpus holds the immutable, ordered set of normalized scripture
// lines that every search runs against. Line ids are 1-based and stable for
// the life of a Corpus. Lines are grouped into contiguous sections (shabads).
package corpus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

// Line is one normalized corpus line.
type Line struct {
	ID      int    `json:"line_id"`
	Text    string `json:"text"`
	Section string `json:"section_id"`
}

// Section is a contiguous run of lines [First, Last].
type Section struct {
	ID    string `json:"section_id"`
	First int    `json:"first_line_id"`
	Last  int    `json:"last_line_id"`
}

// Len returns the number of lines in the section.
func (s Section) Len() int { return s.Last - s.First + 1 }

// Entry is a raw line as read by a loader, before ids are assigned.
type Entry struct {
	Text    string
	Section string
}

// Corpus is safe for concurrent readers. It is never mutated after New.
type Corpus struct {
	lines       []Line
	sections    []Section
	sectionIdx  map[string]int
	fingerprint string
}

// New assigns ids to entries in order and groups them into sections.
// Entries whose text is empty are skipped without consuming an id. Entries
// must already be normalized. A section id that reappears after a different
// section has started is rejected.
func New(entries []Entry) (*Corpus, error) {
	c := &Corpus{
		lines:      make([]Line, 0, len(entries)),
		sectionIdx: make(map[string]int),
	}
	h := blake3.New()
	var buf [8]byte

	for i, e := range entries {
		if !utf8.ValidString(e.Text) {
			return nil, fmt.Errorf("%w: entry %d is not valid UTF-8", apperrors.ErrMalformedCorpus, i+1)
		}
		if e.Text == "" {
			continue
		}
		if e.Section == "" {
			return nil, fmt.Errorf("%w: entry %d has no section", apperrors.ErrMalformedCorpus, i+1)
		}
		id := len(c.lines) + 1
		c.lines = append(c.lines, Line{ID: id, Text: e.Text, Section: e.Section})

		n := len(c.sections)
		if n > 0 && c.sections[n-1].ID == e.Section {
			c.sections[n-1].Last = id
		} else {
			if _, seen := c.sectionIdx[e.Section]; seen {
				return nil, fmt.Errorf("%w: section %q is not contiguous (line %d)", apperrors.ErrMalformedCorpus, e.Section, id)
			}
			c.sectionIdx[e.Section] = n
			c.sections = append(c.sections, Section{ID: e.Section, First: id, Last: id})
		}

		binary.LittleEndian.PutUint64(buf[:], uint64(len(e.Section)))
		h.Write(buf[:])
		h.Write([]byte(e.Section))
		binary.LittleEndian.PutUint64(buf[:], uint64(len(e.Text)))
		h.Write(buf[:])
		h.Write([]byte(e.Text))
	}
	if len(c.lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", apperrors.ErrMalformedCorpus)
	}
	c.fingerprint = hex.EncodeToString(h.Sum(nil))
	return c, nil
}

// Len returns the number of lines.
func (c *Corpus) Len() int { return len(c.lines) }

// Line returns the line with the given 1-based id.
func (c *Corpus) Line(id int) (Line, bool) {
	if id < 1 || id > len(c.lines) {
		return Line{}, false
	}
	return c.lines[id-1], true
}

// Text returns the text of line id, or "" when out of range.
func (c *Corpus) Text(id int) string {
	if id < 1 || id > len(c.lines) {
		return ""
	}
	return c.lines[id-1].Text
}

// Lines returns every line in id order. The slice is shared and must not be
// modified.
func (c *Corpus) Lines() []Line { return c.lines }

// Sections returns the sections in corpus order. The slice is shared.
func (c *Corpus) Sections() []Section { return c.sections }

func (c *Corpus) Section(id string) (Section, bool) {
	i, ok := c.sectionIdx[id]
	if !ok {
		return Section{}, false
	}
	return c.sections[i], true
}

// SectionOf returns the section containing line id.
func (c *Corpus) SectionOf(id int) (Section, bool) {
	if id < 1 || id > len(c.lines) {
		return Section{}, false
	}
	i := sort.Search(len(c.sections), func(i int) bool {
		return c.sections[i].Last >= id
	})
	return c.sections[i], true
}

// Fingerprint is a blake3 digest of every section id and line text, in
// order. Two corpora with the same fingerprint produce identical indexes.
func (c *Corpus) Fingerprint() string { return c.fingerprint }
