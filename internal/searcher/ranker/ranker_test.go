package ranker

import (
	"math"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/similarity"
)

func TestLineScoreFormula(t *testing.T) {
	a, b := "ਸਚੁ ਨਾਮੁ", "ਸਤਿ ਨਾਮੁ ਕਰਤਾ ਪੁਰਖੁ"
	want := 0.3*similarity.Ratio(a, b) + 0.4*similarity.PartialRatio(a, b) + 0.3*similarity.TokenSetRatio(a, b)
	got := LineWeights.Scorer().Score(a, b)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got, want)
	}
	if s := LineWeights.Scorer().Score(b, b); math.Abs(s-100) > 1e-9 {
		t.Errorf("self score = %v", s)
	}
}

func TestWeightsNormalizeByTotal(t *testing.T) {
	a, b := "ਗਾਵੈ ਕੋ", "ਗਾਵੈ ਕੋ ਤਾਣੁ"
	single := Weights{similarity.MetricRatio: 2}.Scorer().Score(a, b)
	if math.Abs(single-similarity.Ratio(a, b)) > 1e-9 {
		t.Errorf("single weight score = %v, want ratio %v", single, similarity.Ratio(a, b))
	}
	if FromConfig(config.Weights{Ratio: 0.3, Partial: 0.4, TokenSet: 0.3}).Scorer().Score(a, b) !=
		LineWeights.Scorer().Score(a, b) {
		t.Error("FromConfig defaults differ from LineWeights")
	}
}

func TestBreakdown(t *testing.T) {
	score, parts := WordWeights.Scorer().Breakdown("ਨਾਮ", "ਨਾਮੁ")
	if len(parts) != len(similarity.Metrics) {
		t.Errorf("breakdown has %d metrics", len(parts))
	}
	want := WordWeights.Scorer().Score("ਨਾਮ", "ਨਾਮੁ")
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("Breakdown score = %v, Score = %v", score, want)
	}
	if got := WordWeights.Scorer().Metrics(); len(got) != 2 {
		t.Errorf("Metrics() = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		w    Weights
		ok   bool
	}{
		{"defaults", LineWeights, true},
		{"wratio only", Weights{similarity.MetricWRatio: 1}, true},
		{"unknown", Weights{"soundex": 1}, false},
		{"negative", Weights{similarity.MetricRatio: -1, similarity.MetricPartialRatio: 2}, false},
		{"zero", Weights{similarity.MetricRatio: 0}, false},
		{"nan", Weights{similarity.MetricRatio: math.NaN()}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.w.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
