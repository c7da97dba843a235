// Package ranker combines similarity metrics into a single weighted score.
package ranker

import (
	"fmt"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/similarity"
)

// Weights maps metric names (see similarity.Metrics) to their weight.
// Scores are divided by the total weight, so they stay within [0,100]
// whatever the weights sum to.
type Weights map[string]float64

var (
	// LineWeights score a query against a corpus line or span.
	LineWeights = Weights{
		similarity.MetricRatio:         0.3,
		similarity.MetricPartialRatio:  0.4,
		similarity.MetricTokenSetRatio: 0.3,
	}
	// WordWeights score a query word against an index token.
	WordWeights = Weights{
		similarity.MetricPartialRatio:  0.7,
		similarity.MetricTokenSetRatio: 0.3,
	}
)

// FromConfig converts configured line weights.
func FromConfig(w config.Weights) Weights {
	return Weights{
		similarity.MetricRatio:         w.Ratio,
		similarity.MetricPartialRatio:  w.Partial,
		similarity.MetricTokenSetRatio: w.TokenSet,
	}
}

// Validate rejects unknown metrics, negative weights and an all-zero set.
func (w Weights) Validate() error {
	total := 0.0
	for name, v := range w {
		if _, ok := similarity.Metrics[name]; !ok {
			return fmt.Errorf("unknown metric %q", name)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight for %s must be a non-negative number", name)
		}
		total += v
	}
	if total == 0 {
		return fmt.Errorf("weights must not all be zero")
	}
	return nil
}

// Scorer is a compiled Weights. The zero-weight metrics are skipped.
type Scorer struct {
	names   []string
	metrics []similarity.Metric
	weights []float64
	total   float64
}

// Scorer compiles w. Metrics are visited in similarity.MetricNames order so
// that floating point sums are reproducible.
func (w Weights) Scorer() *Scorer {
	s := &Scorer{}
	for _, name := range similarity.MetricNames() {
		v := w[name]
		if v <= 0 {
			continue
		}
		s.names = append(s.names, name)
		s.metrics = append(s.metrics, similarity.Metrics[name])
		s.weights = append(s.weights, v)
		s.total += v
	}
	return s
}

// Score returns the weighted score of a against b.
func (s *Scorer) Score(a, b string) float64 {
	if s.total == 0 {
		return 0
	}
	sum := 0.0
	for i, m := range s.metrics {
		sum += s.weights[i] * m(a, b)
	}
	return clamp(sum / s.total)
}

// Breakdown returns the weighted score plus every metric's raw score,
// including metrics with zero weight.
func (s *Scorer) Breakdown(a, b string) (float64, map[string]float64) {
	raw := make(map[string]float64, len(similarity.Metrics))
	scores := make(map[string]float64, len(similarity.Metrics))
	for _, name := range similarity.MetricNames() {
		v := similarity.Metrics[name](a, b)
		raw[name] = v
		scores[name] = round(v)
	}
	if s.total == 0 {
		return 0, scores
	}
	sum := 0.0
	for i, name := range s.names {
		sum += s.weights[i] * raw[name]
	}
	return clamp(sum / s.total), scores
}

// Metrics returns the names of the metrics with non-zero weight.
func (s *Scorer) Metrics() []string {
	out := append([]string(nil), s.names...)
	sort.Strings(out)
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round rounds a score to two decimals for presentation.
func Round(v float64) float64 { return round(v) }
