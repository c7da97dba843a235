package corpus

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/tokenizer"
)

// OptimizeStats reports what Optimize removed.
type OptimizeStats struct {
	LinesIn  int            `json:"lines_in"`
	LinesOut int            `json:"lines_out"`
	BytesIn  int64          `json:"bytes_in"`
	BytesOut int64          `json:"bytes_out"`
	Sections int            `json:"sections"`
	Removed  map[string]int `json:"removed"`
}

// Optimize rewrites a text-format corpus in normalized form. Section headers
// and section breaks are preserved so the output loads into the same
// sections as the input.
func Optimize(r io.Reader, w io.Writer) (OptimizeStats, error) {
	stats := OptimizeStats{Removed: make(map[string]int)}
	removable := tokenizer.Removable()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	bw := bufio.NewWriter(w)

	var (
		inSection  bool
		hasLines   bool
		wroteAny   bool
		needsBreak bool
	)
	write := func(s string) error {
		n, err := bw.WriteString(s + "\n")
		stats.BytesOut += int64(n)
		if err != nil {
			return fmt.Errorf("writing optimized corpus: %w", err)
		}
		return nil
	}

	for sc.Scan() {
		raw := sc.Text()
		stats.LinesIn++
		stats.BytesIn += int64(len(raw)) + 1
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" {
			if inSection && hasLines {
				inSection, hasLines = false, false
				needsBreak = true
			}
			continue
		}
		if _, ok := sectionHeader(trimmed); ok {
			if wroteAny {
				if err := write(""); err != nil {
					return stats, err
				}
			}
			if err := write(trimmed); err != nil {
				return stats, err
			}
			stats.Sections++
			inSection, hasLines, needsBreak, wroteAny = true, false, false, true
			continue
		}

		for _, el := range removable {
			stats.Removed[el] += strings.Count(trimmed, el)
		}
		text := tokenizer.Normalize(trimmed)
		if text == "" {
			continue
		}
		if needsBreak {
			if err := write(""); err != nil {
				return stats, err
			}
			needsBreak = false
		}
		if !inSection {
			stats.Sections++
			inSection = true
		}
		if err := write(text); err != nil {
			return stats, err
		}
		stats.LinesOut++
		hasLines, wroteAny = true, true
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("reading corpus: %w", err)
	}
	for el, n := range stats.Removed {
		if n == 0 {
			delete(stats.Removed, el)
		}
	}
	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("flushing optimized corpus: %w", err)
	}
	return stats, nil
}
