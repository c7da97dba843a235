package parser

import (
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/tokenizer"
)

// QueryPlan is a normalized query ready for retrieval and scoring.
type QueryPlan struct {
	RawQuery   string
	Normalized string
	Words      []string
}

// Empty reports whether nothing searchable survived normalization.
func (p *QueryPlan) Empty() bool {
	return len(p.Words) == 0
}

// Parse normalizes a raw transcript fragment the same way corpus lines are
// normalized and splits it into words.
func Parse(query string) *QueryPlan {
	normalized := tokenizer.Normalize(query)
	return &QueryPlan{
		RawQuery:   query,
		Normalized: normalized,
		Words:      tokenizer.Terms(normalized),
	}
}
