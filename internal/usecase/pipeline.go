package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	domsvc "NightScan/internal/domain/service"
	"NightScan/pkg/config"
	"NightScan/pkg/logger"
)

const (
	// ReasonPredictionFailed marks symbols the ensemble could not evaluate.
	ReasonPredictionFailed = "prediction_failed"
	ReasonInternalError    = "internal_error"

	persistTimeout = 30 * time.Second
)

// PipelineDeps are the stages a run is made of.
type PipelineDeps struct {
	Data       domsvc.MarketData
	Regime     domsvc.RegimeEngine
	Sentiment  domsvc.SentimentScorer
	Validation *ValidationStage
	Predictor  domsvc.Predictor
	Scorer     domsvc.Scorer
}

// Pipeline runs the nightly screen end to end. Runs are serialized.
type Pipeline struct {
	cfg  *config.Config
	deps PipelineDeps

	store     repository.RunStore
	publisher repository.SummaryPublisher
	metrics   repository.Metrics
	log       *logger.Logger
	now       func() time.Time
	newID     func() string

	mu sync.Mutex
}

type PipelineOption func(*Pipeline)

func WithRunStore(s repository.RunStore) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

func WithPublisher(pub repository.SummaryPublisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithMetrics(m repository.Metrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func WithRunID(gen func() string) PipelineOption {
	return func(p *Pipeline) { p.newID = gen }
}

func NewPipeline(cfg *config.Config, deps PipelineDeps, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		metrics: repository.NopMetrics{},
		log:     logger.NewNop(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// runState collects what concurrent symbol workers report.
type runState struct {
	mu  sync.Mutex
	run models.PipelineRun
}

func (s *runState) recordError(err error) { s.count(errs.KindOf(err)) }

func (s *runState) count(kind errs.Kind) {
	s.mu.Lock()
	s.run.ErrorDigest[string(kind)]++
	s.mu.Unlock()
}

func (s *runState) skip(symbol, reason string) {
	s.mu.Lock()
	s.run.Skipped[symbol] = reason
	s.mu.Unlock()
}

func (s *runState) warn(msg string) {
	s.mu.Lock()
	s.run.WarningList = append(s.run.WarningList, msg)
	s.mu.Unlock()
}

// tally derives the error and warning counts from what was recorded.
func (s *runState) tally() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Errors = 0
	for _, n := range s.run.ErrorDigest {
		s.run.Errors += n
	}
	sort.Strings(s.run.WarningList)
	s.run.Warnings = len(s.run.WarningList)
}

// Run executes one pipeline run. Only a configuration error fails it;
// every other problem is recorded in the returned run.
func (p *Pipeline) Run(ctx context.Context) (models.PipelineRun, error) {
	if err := p.cfg.Validate(); err != nil {
		p.log.Error("configuration rejected", logger.Error(err))
		return models.PipelineRun{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	parent := ctx
	if d := p.cfg.Pipeline.RunTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	st := &runState{run: models.PipelineRun{
		ID:          p.newID(),
		StartedAt:   p.now().UTC(),
		ErrorDigest: map[string]int{},
		Skipped:     map[string]string{},
	}}
	log := p.log.With(logger.String("run_id", st.run.ID))
	universe := normalizeUniverse(p.cfg.Universe.Symbols)
	log.Info("pipeline run started", logger.Int("symbols", len(universe)), logger.Int("workers", p.workers()))

	if p.deps.Validation != nil {
		p.deps.Validation.Reset()
	}

	var (
		regime     models.RegimeState
		sentiments map[string]models.SentimentRecord
		eligible   []models.Symbol
		flagged    map[string]float64
		work       []*symbolWork
		scores     []models.OpportunityScore
	)

	p.phase(st, log, models.PhaseSentimentRegime, func() (string, string) {
		regime, sentiments = p.sentimentRegime(ctx, universe)
		detail := fmt.Sprintf("regime=%s classify=%s vol=%s; sentiment for %d symbols",
			regime.Label, regime.ClassifyMethod, regime.VolMethod, len(sentiments))
		switch {
		case regime.Label == models.RegimeUnknown:
			return models.PhaseFailed, detail
		case regime.Degraded:
			return models.PhaseDegraded, detail
		}
		return models.PhaseOK, detail
	})

	p.phase(st, log, models.PhaseScanValidate, func() (string, string) {
		var unavailable int
		eligible, unavailable = p.scanValidate(ctx, st, universe)
		detail := fmt.Sprintf("%d of %d eligible", len(eligible), len(universe))
		switch {
		case len(universe) > 0 && len(eligible) == 0:
			return models.PhaseFailed, detail
		case unavailable > 0:
			return models.PhaseDegraded, detail
		}
		return models.PhaseOK, detail
	})

	p.phase(st, log, models.PhaseEventRisk, func() (string, string) {
		if !p.cfg.Pipeline.EventRisk {
			return models.PhaseOK, "disabled"
		}
		var failures int
		flagged, failures = p.eventRisk(ctx, st, eligible)
		detail := fmt.Sprintf("%d flagged", len(flagged))
		if failures > 0 {
			return models.PhaseDegraded, fmt.Sprintf("%s, %d quotes unavailable", detail, failures)
		}
		return models.PhaseOK, detail
	})

	p.phase(st, log, models.PhasePredict, func() (string, string) {
		work = p.predict(ctx, st, eligible, regime, sentiments, flagged)
		detail := fmt.Sprintf("%d of %d predicted", len(work), len(eligible))
		switch {
		case len(eligible) > 0 && len(work) == 0:
			return models.PhaseFailed, detail
		case len(work) < len(eligible):
			return models.PhaseDegraded, detail
		}
		return models.PhaseOK, detail
	})

	p.phase(st, log, models.PhaseScore, func() (string, string) {
		scores = make([]models.OpportunityScore, 0, len(work))
		for _, w := range work {
			sc := p.deps.Scorer.Score(w.prediction, regime, domsvc.ScoringInput{
				Symbol: w.symbol,
				Series: w.series,
				Source: w.source,
			})
			p.metrics.RecordScore(sc.Symbol, sc.Score)
			scores = append(scores, sc)
		}
		return models.PhaseOK, fmt.Sprintf("%d scored", len(scores))
	})

	p.phase(st, log, models.PhaseFinalize, func() (string, string) {
		st.run.Ranked = p.deps.Scorer.Rank(scores)
		st.run.Regime = regime
		st.run.Coverage = coverage(len(st.run.Ranked), len(universe), regime)
		st.run.CallsUsed = p.deps.Data.CallsUsed()
		p.metrics.RecordSymbolsScored(len(st.run.Ranked))
		return models.PhaseOK, st.run.Coverage
	})

	st.run.FinishedAt = p.now().UTC()
	st.tally()
	p.persist(parent, st, log)
	// archive and publish failures only exist on the returned copy
	st.tally()

	log.Info("pipeline run finished",
		logger.String("coverage", st.run.Coverage),
		logger.Int("errors", st.run.Errors),
		logger.Int("warnings", st.run.Warnings),
		logger.Duration("elapsed", st.run.FinishedAt.Sub(st.run.StartedAt)),
	)
	return st.run.Clone(), nil
}

// phase runs fn and records its outcome. A panic fails the phase, not the run.
func (p *Pipeline) phase(st *runState, log *logger.Logger, name string, fn func() (status, detail string)) {
	start := p.now()
	status, detail := func() (status, detail string) {
		defer func() {
			if r := recover(); r != nil {
				status, detail = models.PhaseFailed, fmt.Sprintf("panic: %v", r)
			}
		}()
		return fn()
	}()
	elapsed := p.now().Sub(start)

	st.run.Phases = append(st.run.Phases, models.PhaseStatus{Name: name, Status: status, Detail: detail, Duration: elapsed})
	p.metrics.RecordPhase(name, status, elapsed.Seconds())

	fields := []logger.Field{
		logger.String("phase", name),
		logger.String("status", status),
		logger.String("detail", detail),
		logger.Duration("elapsed", elapsed),
	}
	if status == models.PhaseOK {
		log.Info("phase finished", fields...)
	} else {
		log.Warn("phase finished", fields...)
	}
}

func (p *Pipeline) workers() int {
	if n := p.cfg.Pipeline.Workers; n > 0 {
		return n
	}
	return 2
}

// forEach runs fn for every symbol on the bounded pool. A panicking symbol
// is recorded and skipped.
func (p *Pipeline) forEach(st *runState, symbols []models.Symbol, fn func(models.Symbol)) {
	var g errgroup.Group
	g.SetLimit(p.workers())
	for _, s := range symbols {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					st.recordError(fmt.Errorf("panic: %v", r))
					st.skip(s.Ticker, ReasonInternalError)
					p.log.Error("symbol worker panicked", logger.String("symbol", s.Ticker), logger.Any("panic", r))
				}
			}()
			fn(s)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) sentimentRegime(ctx context.Context, universe []models.Symbol) (models.RegimeState, map[string]models.SentimentRecord) {
	var (
		regime     models.RegimeState
		mu         sync.Mutex
		sentiments = make(map[string]models.SentimentRecord, len(universe))
	)

	var g errgroup.Group
	g.Go(func() error {
		regime = p.deps.Regime.Classify(ctx)
		return nil
	})
	if p.deps.Sentiment != nil && p.cfg.Sentiment.Enabled {
		g.Go(func() error {
			var sg errgroup.Group
			sg.SetLimit(p.workers())
			for _, s := range universe {
				sg.Go(func() error {
					rec := p.deps.Sentiment.Score(ctx, s.Ticker)
					mu.Lock()
					sentiments[s.Ticker] = rec
					mu.Unlock()
					return nil
				})
			}
			return sg.Wait()
		})
	}
	_ = g.Wait()
	return regime, sentiments
}

func (p *Pipeline) scanValidate(ctx context.Context, st *runState, universe []models.Symbol) ([]models.Symbol, int) {
	results := p.deps.Validation.Validate(ctx, universe)

	var eligible []models.Symbol
	unavailable := 0
	for _, s := range universe {
		r := results[s.Ticker]
		if r.Eligible {
			eligible = append(eligible, s)
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = models.ReasonDataUnavailable
		}
		st.skip(s.Ticker, reason)
		if reason == models.ReasonDataUnavailable {
			unavailable++
			st.count(errs.KindDataUnavailable)
		}
	}
	return eligible, unavailable
}

func (p *Pipeline) eventRisk(ctx context.Context, st *runState, eligible []models.Symbol) (map[string]float64, int) {
	var (
		mu       sync.Mutex
		flagged  = make(map[string]float64)
		failures int
	)
	limit := p.cfg.EventRisk.MaxGapPct
	p.forEach(st, eligible, func(s models.Symbol) {
		q, err := p.deps.Data.FetchQuote(ctx, s.Ticker)
		if err != nil || q == nil {
			if err != nil {
				st.recordError(err)
			}
			mu.Lock()
			failures++
			mu.Unlock()
			return
		}
		gap := q.GapPct()
		if math.Abs(gap) <= limit {
			return
		}
		mu.Lock()
		flagged[s.Ticker] = gap
		mu.Unlock()
		st.warn(fmt.Sprintf("%s moved %.1f%% from the previous close; confidence damped", s.Ticker, gap))
	})
	return flagged, failures
}

type symbolWork struct {
	symbol     models.Symbol
	series     models.HistoricalSeries
	source     models.SourceTag
	prediction models.PredictionResult
}

func (p *Pipeline) predict(ctx context.Context, st *runState, eligible []models.Symbol, regime models.RegimeState,
	sentiments map[string]models.SentimentRecord, flagged map[string]float64) []*symbolWork {
	results := make([]*symbolWork, len(eligible))
	index := make(map[string]int, len(eligible))
	for i, s := range eligible {
		index[s.Ticker] = i
	}
	params := repository.HistoryParams{Period: p.cfg.Pipeline.HistoryPeriod, Interval: repository.Interval1d}
	damping := p.cfg.EventRisk.Damping

	p.forEach(st, eligible, func(s models.Symbol) {
		if err := ctx.Err(); err != nil {
			st.recordError(errs.DataUnavailable("predict", err).WithSymbol(s.Ticker))
			st.skip(s.Ticker, models.ReasonDataUnavailable)
			return
		}
		series, src, err := p.deps.Data.FetchHistory(ctx, s.Ticker, params)
		if err == nil && series.Empty() {
			err = errs.DataUnavailable("predict", errors.New("empty history")).WithSymbol(s.Ticker)
		}
		if err != nil {
			if ctx.Err() != nil {
				err = errs.DataUnavailable("predict", ctx.Err()).WithSymbol(s.Ticker)
			}
			st.recordError(err)
			st.skip(s.Ticker, models.ReasonDataUnavailable)
			return
		}

		pred, err := p.deps.Predictor.Predict(ctx, s.Ticker, series, regime, sentiments[s.Ticker])
		if err != nil {
			st.recordError(err)
			st.skip(s.Ticker, ReasonPredictionFailed)
			return
		}
		if _, ok := flagged[s.Ticker]; ok && damping > 0 {
			pred.Confidence *= damping
		}
		results[index[s.Ticker]] = &symbolWork{symbol: s, series: series, source: src, prediction: pred}
	})

	out := make([]*symbolWork, 0, len(results))
	for _, w := range results {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

// persist archives and publishes the run. Both outlive the run timeout.
func (p *Pipeline) persist(parent context.Context, st *runState, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
	defer cancel()

	snapshot := st.run.Clone()
	if p.store != nil {
		if err := p.store.SaveRun(ctx, snapshot); err != nil {
			log.Warn("run archive failed", logger.Error(err))
			st.warn("run archive failed: " + err.Error())
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishRun(ctx, snapshot); err != nil {
			log.Warn("run publish failed", logger.Error(err))
			st.warn("run publish failed: " + err.Error())
		}
	}
}

func coverage(scored, total int, regime models.RegimeState) string {
	line := fmt.Sprintf("%d of %d symbols scored", scored, total)
	switch {
	case regime.Label == models.RegimeUnknown:
		line += "; regime detection unavailable"
	case regime.Degraded:
		line += "; regime detection used fallback method"
	}
	return line
}

// normalizeUniverse upper-cases tickers and drops blanks and duplicates,
// keeping the configured order.
func normalizeUniverse(symbols []models.Symbol) []models.Symbol {
	out := make([]models.Symbol, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s.Ticker = models.NormalizeTicker(s.Ticker)
		if s.Ticker == "" || seen[s.Ticker] {
			continue
		}
		seen[s.Ticker] = true
		out = append(out, s)
	}
	return out
}
