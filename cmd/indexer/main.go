// Command indexer manages the corpus and its persisted token index.
//
//	indexer build    [-c config.yaml] [--force]
//	indexer stats    [-c config.yaml] [--top 10] [--json]
//	indexer optimize IN OUT
//	indexer query    [-c config.yaml] [QUERY...]
//
// query with no arguments starts an interactive matcher reading one query
// per line from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ulikunitz/xz"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
)

var CLI struct {
	Config   string `name:"config" short:"c" help:"Path to config file" type:"path" default:"configs/development.yaml"`
	LogLevel string `name:"log-level" help:"Log level override"`

	Build    BuildCmd    `cmd:"" help:"Build the token index and write its segment file"`
	Stats    StatsCmd    `cmd:"" help:"Print corpus and index statistics"`
	Optimize OptimizeCmd `cmd:"" help:"Write a normalized copy of a text corpus"`
	Query    QueryCmd    `cmd:"" help:"Match queries against the corpus"`
}

// Globals is handed to every command's Run.
type Globals struct {
	cfg *config.Config
}

type BuildCmd struct {
	Force bool   `help:"Rebuild even when the segment is current"`
	Out   string `help:"Segment path (defaults to corpus.indexPath)" type:"path"`
}

func (c *BuildCmd) Run(g *Globals) error {
	cfg := g.cfg.Corpus
	if c.Out != "" {
		cfg.IndexPath = c.Out
	}
	if cfg.IndexPath == "" {
		return fmt.Errorf("no index path: set corpus.indexPath or --out")
	}
	cfg.RebuildIndex = c.Force

	start := time.Now()
	eng, err := indexer.Open(cfg)
	if err != nil {
		return err
	}
	st := eng.Stats(0)
	fmt.Printf("index %s (%s): %d terms, %d occurrences over %d lines in %s\n",
		cfg.IndexPath, eng.IndexSource(), st.Terms, st.Occurrences, st.Lines, time.Since(start).Round(time.Millisecond))
	return nil
}

type StatsCmd struct {
	Top  int  `help:"Number of top terms to list" default:"10"`
	JSON bool `name:"json" help:"Print JSON"`
}

func (c *StatsCmd) Run(g *Globals) error {
	eng, err := indexer.Open(g.cfg.Corpus)
	if err != nil {
		return err
	}
	st := eng.Stats(c.Top)
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Printf("lines:        %d\n", st.Lines)
	fmt.Printf("sections:     %d\n", st.Sections)
	fmt.Printf("terms:        %d\n", st.Terms)
	fmt.Printf("occurrences:  %d\n", st.Occurrences)
	fmt.Printf("fingerprint:  %s\n", st.Fingerprint)
	fmt.Printf("index source: %s\n", st.IndexSource)
	if len(st.TopTerms) > 0 {
		fmt.Println("top terms:")
		for i, t := range st.TopTerms {
			fmt.Printf("  %2d. %-20s %d\n", i+1, t.Term, t.LineCount)
		}
	}
	return nil
}

type OptimizeCmd struct {
	In  string `arg:"" help:"Input corpus (.txt or .txt.xz)" type:"existingfile"`
	Out string `arg:"" help:"Output corpus; a .xz suffix compresses it" type:"path"`
}

func (c *OptimizeCmd) Run(g *Globals) error {
	in, err := os.Open(c.In)
	if err != nil {
		return err
	}
	defer in.Close()
	r, err := corpus.Open(in, c.In)
	if err != nil {
		return err
	}

	out, err := os.Create(c.Out)
	if err != nil {
		return err
	}
	defer out.Close()
	var w io.Writer = out
	var xw *xz.Writer
	if strings.HasSuffix(c.Out, ".xz") {
		xw, err = xz.NewWriter(out)
		if err != nil {
			return fmt.Errorf("creating xz writer: %w", err)
		}
		w = xw
	}

	st, err := corpus.Optimize(r, w)
	if err != nil {
		return err
	}
	if xw != nil {
		if err := xw.Close(); err != nil {
			return fmt.Errorf("finishing xz stream: %w", err)
		}
	}
	fmt.Printf("lines %d -> %d, bytes %d -> %d, sections %d\n",
		st.LinesIn, st.LinesOut, st.BytesIn, st.BytesOut, st.Sections)
	for what, n := range st.Removed {
		fmt.Printf("  removed %-12s %d\n", what, n)
	}
	return out.Sync()
}

type QueryCmd struct {
	Threshold float64  `help:"Acceptance threshold (defaults to match.threshold)"`
	Section   string   `help:"Restrict matching to one section"`
	Verbose   bool     `short:"v" help:"Show retrieval details"`
	Query     []string `arg:"" optional:"" help:"Query words; omit for interactive mode"`
}

func (c *QueryCmd) Run(g *Globals) error {
	eng, err := indexer.Open(g.cfg.Corpus)
	if err != nil {
		return err
	}
	exec := executor.New(
		eng.Corpus(),
		retriever.New(eng.Index(), retriever.ParamsFromConfig(g.cfg.Retriever)),
		executor.ParamsFromConfig(g.cfg.Match),
	)
	threshold := c.Threshold
	if threshold == 0 {
		threshold = exec.Params().Threshold
	}

	ctx := context.Background()
	if len(c.Query) > 0 {
		return c.run(ctx, exec, strings.Join(c.Query, " "), threshold)
	}

	fmt.Printf("%d lines loaded. Enter a query, or an empty line to quit.\n", eng.Corpus().Len())
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			break
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			break
		}
		if err := c.run(ctx, exec, q, threshold); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return sc.Err()
}

func (c *QueryCmd) run(ctx context.Context, exec *executor.Executor, q string, threshold float64) error {
	if c.Section != "" {
		m, err := exec.SearchSection(ctx, c.Section, q)
		if err != nil {
			return err
		}
		if m == nil {
			fmt.Println("no match")
			return nil
		}
		fmt.Printf("[%s #%d] %.2f  %s\n", m.SectionID, m.LineID, m.Score, m.MatchedText)
		return nil
	}

	res, err := exec.Search(ctx, q, threshold)
	if err != nil {
		return err
	}
	switch {
	case !res.Found:
		fmt.Printf("no match (best %.2f)\n", res.Score)
	case res.Weak:
		fmt.Printf("weak  [%s #%d] %.2f  %s\n", res.SectionID, res.LineID, res.Score, res.Text)
	default:
		fmt.Printf("match [%s #%d] %.2f  %s\n", res.SectionID, res.LineID, res.Score, res.Text)
	}
	if c.Verbose {
		fmt.Printf("  stage=%s candidates=%d span=%d-%d early_exit=%v\n",
			res.Stage, res.Candidates, res.Span.Start, res.Span.End, res.EarlyExit)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("indexer"),
		kong.Description("Build and inspect the scripture token index"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := config.Load(CLI.Config)
	ctx.FatalIfErrorf(err)
	level := cfg.Logging.Level
	if CLI.LogLevel != "" {
		level = CLI.LogLevel
	}
	// Logs go to stderr so stats and query output stay pipeable.
	slog.SetDefault(logger.New(os.Stderr, level, cfg.Logging.Format))

	err = ctx.Run(&Globals{cfg: cfg})
	ctx.FatalIfErrorf(err)
}
