package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
)

// Where the active index came from.
const (
	SourceSegment = "segment"
	SourceBuilt   = "built"
)

// Engine owns the corpus and its token index. Both are immutable once
// Open returns, so an Engine may be shared by any number of searchers.
type Engine struct {
	corpus *corpus.Corpus
	index  *index.TokenIndex
	source string
	logger *slog.Logger
}

// Stats summarises the loaded corpus and index.
type Stats struct {
	Lines       int              `json:"lines"`
	Sections    int              `json:"sections"`
	Terms       int              `json:"terms"`
	Occurrences int              `json:"occurrences"`
	Fingerprint string           `json:"fingerprint"`
	IndexSource string           `json:"index_source"`
	TopTerms    []index.TermStat `json:"top_terms"`
}

// Open loads the corpus named by cfg and then its index. A corpus that
// cannot be loaded is fatal; an index problem never is.
func Open(cfg config.CorpusConfig) (*Engine, error) {
	c, err := corpus.Load(cfg.Path, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	return New(c, cfg.IndexPath, cfg.RebuildIndex), nil
}

// New attaches an index to c. When indexPath names a segment built from the
// same corpus it is loaded; otherwise the index is built in memory and, if
// indexPath is set, written back for the next start.
func New(c *corpus.Corpus, indexPath string, rebuild bool) *Engine {
	e := &Engine{
		corpus: c,
		logger: slog.Default().With("component", "indexer"),
	}
	if indexPath != "" && !rebuild {
		idx, err := e.loadSegment(indexPath)
		switch {
		case err == nil:
			e.index = idx
			e.source = SourceSegment
			e.logger.Info("token index loaded from segment",
				"path", indexPath,
				"terms", idx.Len(),
			)
			return e
		case errors.Is(err, os.ErrNotExist):
			e.logger.Info("no index segment found, building", "path", indexPath)
		default:
			e.logger.Warn("index segment unusable, rebuilding",
				"path", indexPath,
				"error", err,
			)
		}
	}

	e.index = index.Build(c)
	e.source = SourceBuilt
	e.logger.Info("token index built",
		"terms", e.index.Len(),
		"occurrences", e.index.Occurrences(),
	)
	if indexPath != "" {
		if err := e.Persist(indexPath); err != nil {
			e.logger.Warn("persisting token index failed", "path", indexPath, "error", err)
		}
	}
	return e
}

func (e *Engine) loadSegment(path string) (*index.TokenIndex, error) {
	r, err := segment.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if r.Fingerprint() != e.corpus.Fingerprint() {
		return nil, fmt.Errorf("segment built from corpus %s, have %s",
			short(r.Fingerprint()), short(e.corpus.Fingerprint()))
	}
	if int(r.LineCount()) != e.corpus.Len() {
		return nil, fmt.Errorf("segment covers %d lines, corpus has %d", r.LineCount(), e.corpus.Len())
	}
	return r.Load()
}

// Persist writes the current index to path.
func (e *Engine) Persist(path string) error {
	if err := segment.Write(path, e.index); err != nil {
		return fmt.Errorf("writing index segment: %w", err)
	}
	e.logger.Info("token index persisted", "path", path)
	return nil
}

func (e *Engine) Corpus() *corpus.Corpus { return e.corpus }

func (e *Engine) Index() *index.TokenIndex { return e.index }

func (e *Engine) IndexSource() string { return e.source }

// Stats reports sizes plus the topN most widespread terms.
func (e *Engine) Stats(topN int) Stats {
	return Stats{
		Lines:       e.corpus.Len(),
		Sections:    len(e.corpus.Sections()),
		Terms:       e.index.Len(),
		Occurrences: e.index.Occurrences(),
		Fingerprint: e.corpus.Fingerprint(),
		IndexSource: e.source,
		TopTerms:    e.index.TopTerms(topN),
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
