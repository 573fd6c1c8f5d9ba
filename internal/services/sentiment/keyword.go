package sentiment

import (
	"context"
	"strings"
	"unicode"

	"NightScan/internal/domain/models"
	domsvc "NightScan/internal/domain/service"
)

var (
	positiveWords = wordSet(
		"beat", "beats", "surge", "surges", "soar", "soars", "rally", "rallies", "gain", "gains",
		"upgrade", "upgraded", "outperform", "record", "strong", "growth", "profit", "bullish",
		"raise", "raises", "raised", "boost", "jump", "jumps", "rebound", "buyback", "approval",
	)
	negativeWords = wordSet(
		"miss", "misses", "plunge", "plunges", "slump", "drop", "drops", "fall", "falls", "loss",
		"losses", "downgrade", "downgraded", "underperform", "weak", "bearish", "cut", "cuts",
		"lawsuit", "probe", "recall", "layoffs", "warning", "fraud", "bankruptcy", "sell-off", "crash",
	)
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// KeywordClassifier scores texts by counting lexicon hits:
// (positive - negative) / (positive + negative), 0 without hits.
type KeywordClassifier struct{}

func (KeywordClassifier) Name() string { return models.SentimentKeyword }

func (k KeywordClassifier) Classify(_ context.Context, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = k.polarity(t)
	}
	return out, nil
}

func (KeywordClassifier) polarity(text string) float64 {
	var pos, neg int
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	for _, w := range fields {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

var _ domsvc.TextClassifier = KeywordClassifier{}
