// Package similarity implements Indel based string similarity metrics on a
// 0-100 scale. All functions operate on runes, so Gurmukhi
// text with combining vowel signs is compared character by character.
// Inputs are expected to be normalized by the caller.
package similarity

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Metric scores two strings in [0,100].
type Metric func(a, b string) float64

const (
	MetricRatio          = "ratio"
	MetricPartialRatio   = "partial_ratio"
	MetricTokenSortRatio = "token_sort_ratio"
	MetricTokenSetRatio  = "token_set_ratio"
	MetricWRatio         = "wratio"
)

// Metrics lists every named metric. Callers must not modify it.
var Metrics = map[string]Metric{
	MetricRatio:          Ratio,
	MetricPartialRatio:   PartialRatio,
	MetricTokenSortRatio: TokenSortRatio,
	MetricTokenSetRatio:  TokenSetRatio,
	MetricWRatio:         WRatio,
}

// MetricNames returns the metric names in a stable order.
func MetricNames() []string {
	return []string{MetricRatio, MetricPartialRatio, MetricTokenSortRatio, MetricTokenSetRatio, MetricWRatio}
}

// Ratio is the normalized Indel similarity
// 100*(1 - (|a|+|b|-2*lcs(a,b))/(|a|+|b|)), where only insertions and
// deletions count. Two empty strings are identical.
func Ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	return indelRatio([]rune(a), []rune(b))
}

// PartialRatio aligns the shorter string against the longer one and returns
// the best Ratio over every same-length window plus the shorter windows at
// either end. It is 0 when either side is empty.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if len(ra) > len(rb) {
		return partialAlign(rb, ra)
	}
	best := partialAlign(ra, rb)
	if len(ra) == len(rb) && best < 100 {
		best = max(best, partialAlign(rb, ra))
	}
	return best
}

// EditDistance is the unit-cost Levenshtein distance between a and b in
// runes.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

func partialAlign(short, long []rune) float64 {
	if strings.Contains(string(long), string(short)) {
		return 100
	}
	m := len(short)
	best := 0.0
	score := func(window []rune) bool {
		if s := indelRatio(short, window); s > best {
			best = s
		}
		return best == 100
	}
	for i := 1; i < m; i++ {
		if score(long[:i]) {
			return best
		}
	}
	for i := 0; i+m <= len(long); i++ {
		if score(long[i : i+m]) {
			return best
		}
	}
	for i := len(long) - m + 1; i < len(long); i++ {
		if score(long[i:]) {
			return best
		}
	}
	return best
}

func indelRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	dist := total - 2*lcsLen(a, b)
	return clamp(100 * (1 - float64(dist)/float64(total)))
}

// lcsLen is the length of the longest common subsequence, in two rows.
func lcsLen(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// TokenSortRatio compares the strings after sorting their tokens.
func TokenSortRatio(a, b string) float64 {
	ta, tb := sortedTokens(a), sortedTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return Ratio(strings.Join(ta, " "), strings.Join(tb, " "))
}

// TokenSetRatio compares the shared token set against each side's full token
// set. A side whose tokens are a subset of the other's scores 100.
func TokenSetRatio(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter = append(inter, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	if len(inter) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(inter, " ")
	diffA := strings.Join(onlyA, " ")
	diffB := strings.Join(onlyB, " ")
	if sect == "" {
		return Ratio(diffA, diffB)
	}
	combA := sect + " " + diffA
	combB := sect + " " + diffB
	return max(Ratio(sect, combA), Ratio(sect, combB), Ratio(combA, combB))
}

// WRatio picks the strongest of the other metrics, discounting partial and
// token based scores the more the lengths differ.
func WRatio(a, b string) float64 {
	la, lb := runeLen(a), runeLen(b)
	if la == 0 || lb == 0 {
		return 0
	}
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))
	base := Ratio(a, b)
	if lenRatio < 1.5 {
		return max(base, TokenSortRatio(a, b)*0.95, TokenSetRatio(a, b)*0.95)
	}
	scale := 0.9
	if lenRatio >= 8 {
		scale = 0.6
	}
	return max(
		base,
		PartialRatio(a, b)*scale,
		TokenSortRatio(a, b)*0.95*scale,
		TokenSetRatio(a, b)*0.95*scale,
	)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func sortedTokens(s string) []string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return fields
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
