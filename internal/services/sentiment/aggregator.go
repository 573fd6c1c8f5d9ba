package sentiment

import (
	"context"
	"math"
	"sort"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/pkg/logger"
)

// Aggregator combines symbol and macro headlines into one polarity.
type Aggregator struct {
	news     []repository.NewsSource
	macro    *MacroCache
	primary  domsvc.TextClassifier
	fallback KeywordClassifier
	sectors  map[string]string
	log      *logger.Logger
}

type Option func(*Aggregator)

func WithNewsSource(s repository.NewsSource) Option {
	return func(a *Aggregator) { a.news = append(a.news, s) }
}

func WithMacro(m *MacroCache) Option {
	return func(a *Aggregator) { a.macro = m }
}

// WithClassifier sets the primary text classifier. Without one, only the
// keyword lexicon is used.
func WithClassifier(c domsvc.TextClassifier) Option {
	return func(a *Aggregator) { a.primary = c }
}

// WithUniverse lets macro feeds be matched by sector.
func WithUniverse(symbols []models.Symbol) Option {
	return func(a *Aggregator) {
		for _, s := range symbols {
			a.sectors[models.NormalizeTicker(s.Ticker)] = s.Sector
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		sectors: make(map[string]string),
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Score never fails. Sources that error are skipped; with no items the
// polarity is 0 and the method is none.
func (a *Aggregator) Score(ctx context.Context, symbol string) models.SentimentRecord {
	symbol = models.NormalizeTicker(symbol)
	rec := models.SentimentRecord{Symbol: symbol, Method: models.SentimentNone}

	var items []models.NewsItem
	for _, src := range a.news {
		got, err := src.Fetch(ctx, symbol)
		if err != nil {
			a.log.Debug("news source failed",
				logger.String("source", src.Name()),
				logger.String("symbol", symbol),
				logger.Error(err),
			)
			continue
		}
		items = append(items, got...)
	}
	if a.macro != nil {
		macro, age := a.macro.Items(ctx, a.sectors[symbol])
		items = append(items, macro...)
		rec.CacheAge = age
	}
	if len(items) == 0 {
		return rec
	}

	texts := make([]string, len(items))
	seen := make(map[string]struct{})
	for i, it := range items {
		texts[i] = it.Title
		if it.Text != "" && it.Text != it.Title {
			texts[i] += ". " + it.Text
		}
		if _, ok := seen[it.Source]; !ok {
			seen[it.Source] = struct{}{}
			rec.Sources = append(rec.Sources, it.Source)
		}
	}
	sort.Strings(rec.Sources)

	polarities, method := a.classify(ctx, symbol, texts)
	var sum float64
	for _, p := range polarities {
		sum += p
	}
	rec.Polarity = math.Max(-1, math.Min(1, sum/float64(len(polarities))))
	rec.ArticleCount = len(items)
	rec.Method = method
	return rec
}

func (a *Aggregator) classify(ctx context.Context, symbol string, texts []string) ([]float64, string) {
	if a.primary != nil {
		out, err := a.primary.Classify(ctx, texts)
		if err == nil && len(out) == len(texts) {
			return out, models.SentimentModel
		}
		if err != nil && !errs.Is(err, errs.KindModelUnavailable) {
			a.log.Warn("sentiment classifier failed", logger.String("symbol", symbol), logger.Error(err))
		}
	}
	out, _ := a.fallback.Classify(ctx, texts)
	return out, models.SentimentKeyword
}

var _ domsvc.SentimentScorer = (*Aggregator)(nil)
