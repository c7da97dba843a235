package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/errors"
)

const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

const maxLineBytes = 1 << 20

// Load reads, normalizes and indexes lines from path. Files ending in .xz
// are decompressed transparently. With FormatAuto the format is taken from
// the extension under any .xz suffix: .json means JSON, anything else text.
func Load(path string, format string) (*Corpus, error) {
	logger := slog.Default().With("component", "corpus")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()

	r, err := Open(f, path)
	if err != nil {
		return nil, err
	}
	if format == "" || format == FormatAuto {
		format = DetectFormat(path)
	}

	var entries []Entry
	switch format {
	case FormatJSON:
		entries, err = ParseJSON(r)
	case FormatText:
		entries, err = ParseText(r)
	default:
		return nil, fmt.Errorf("unknown corpus format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing corpus %s: %w", path, err)
	}
	c, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("building corpus %s: %w", path, err)
	}
	logger.Info("corpus loaded",
		"path", path,
		"format", format,
		"lines", c.Len(),
		"sections", len(c.Sections()),
		"fingerprint", c.Fingerprint()[:16],
	)
	return c, nil
}

// Open wraps r in an xz decompressor when name ends in .xz.
func Open(r io.Reader, name string) (io.Reader, error) {
	if !strings.HasSuffix(name, ".xz") {
		return r, nil
	}
	xr, err := xz.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("%w: opening xz stream %s: %v", apperrors.ErrMalformedCorpus, name, err)
	}
	return xr, nil
}

func DetectFormat(path string) string {
	path = strings.TrimSuffix(path, ".xz")
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatText
}

// ParseText reads one corpus line per row. A row of the form [id] starts a
// section named id. A blank row closes the current section and the next
// line opens an auto-numbered one. Rows that normalize to nothing (verse
// numbers alone, for instance) are dropped but do not close a section.
func ParseText(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		entries  []Entry
		section  string
		auto     int
		hasLines bool
	)
	nextAuto := func() string {
		auto++
		return strconv.Itoa(auto)
	}
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			if hasLines {
				section = ""
				hasLines = false
			}
			continue
		}
		if id, ok := sectionHeader(raw); ok {
			section = id
			hasLines = false
			continue
		}
		text := tokenizer.Normalize(raw)
		if text == "" {
			continue
		}
		if section == "" {
			section = nextAuto()
		}
		entries = append(entries, Entry{Text: text, Section: section})
		hasLines = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedCorpus, err)
	}
	return entries, nil
}

func sectionHeader(row string) (string, bool) {
	if len(row) < 3 || row[0] != '[' || row[len(row)-1] != ']' {
		return "", false
	}
	id := strings.TrimSpace(row[1 : len(row)-1])
	return id, id != ""
}

type jsonLine struct {
	Line     string    `json:"line"`
	ShabadID sectionID `json:"shabad_id"`
}

// sectionID accepts both string and numeric ids.
type sectionID string

func (s *sectionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = sectionID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("shabad_id must be a string or number: %w", err)
	}
	*s = sectionID(n.String())
	return nil
}

// ParseJSON reads an array of {"line": ..., "shabad_id": ...} objects.
func ParseJSON(r io.Reader) ([]Entry, error) {
	var rows []jsonLine
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedCorpus, err)
	}
	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		if row.ShabadID == "" {
			return nil, fmt.Errorf("%w: row %d has no shabad_id", apperrors.ErrMalformedCorpus, i+1)
		}
		entries = append(entries, Entry{
			Text:    tokenizer.Normalize(row.Line),
			Section: string(row.ShabadID),
		})
	}
	return entries, nil
}
