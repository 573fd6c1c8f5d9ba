package sentiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/internal/domain/repository"
	"NightScan/internal/service/metrics"
	"NightScan/pkg/config"
	xhttp "NightScan/pkg/http"
)

// FeedReader downloads and parses RSS/Atom feeds. All requests share one
// rate limiter.
type FeedReader struct {
	client      *xhttp.Client
	limiter     *rate.Limiter
	maxArticles int
	maxAge      time.Duration
	now         func() time.Time
}

type FeedOption func(*FeedReader)

func WithFeedClient(c *xhttp.Client) FeedOption {
	return func(r *FeedReader) { r.client = c }
}

func WithFeedClock(now func() time.Time) FeedOption {
	return func(r *FeedReader) { r.now = now }
}

func NewFeedReader(cfg config.SentimentConfig, opts ...FeedOption) *FeedReader {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	r := &FeedReader{
		client:      xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxArticles: cfg.MaxArticles,
		maxAge:      cfg.MaxAge,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read returns at most maxArticles items from the feed at feedURL that are
// newer than maxAge. Items without a date are kept.
func (r *FeedReader) Read(ctx context.Context, source, feedURL string) ([]models.NewsItem, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err := r.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     feedURL,
		Headers: map[string]string{"Accept": "application/rss+xml, application/atom+xml, text/xml"},
	}, &body)
	if err != nil {
		metrics.FeedFetches.WithLabelValues(source, "error").Inc()
		if xhttp.StatusCode(err) == http.StatusTooManyRequests {
			return nil, errs.RateLimited("read feed", err).WithProvider(source)
		}
		return nil, errs.DataUnavailable("read feed", err).WithProvider(source)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		metrics.FeedFetches.WithLabelValues(source, "malformed").Inc()
		return nil, errs.DataUnavailable("parse feed", err).WithProvider(source)
	}
	metrics.FeedFetches.WithLabelValues(source, "ok").Inc()

	cutoff := time.Time{}
	if r.maxAge > 0 {
		cutoff = r.now().Add(-r.maxAge)
	}

	var out []models.NewsItem
	for _, it := range feed.Items {
		if r.maxArticles > 0 && len(out) >= r.maxArticles {
			break
		}
		var published time.Time
		switch {
		case it.PublishedParsed != nil:
			published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = *it.UpdatedParsed
		}
		if !published.IsZero() && published.Before(cutoff) {
			continue
		}
		text := it.Description
		if text == "" {
			text = it.Content
		}
		out = append(out, models.NewsItem{
			Source:    source,
			Title:     strings.TrimSpace(it.Title),
			Text:      StripHTML(text),
			Link:      it.Link,
			Published: published.UTC(),
		})
	}
	return out, nil
}

// StripHTML returns the visible text of an HTML fragment.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// SymbolFeed is the per-ticker headline search feed.
type SymbolFeed struct {
	reader   *FeedReader
	template string
}

// NewSymbolFeed uses template with a single %s for the escaped ticker.
func NewSymbolFeed(reader *FeedReader, template string) *SymbolFeed {
	return &SymbolFeed{reader: reader, template: template}
}

func (f *SymbolFeed) Name() string { return "symbol_feed" }

func (f *SymbolFeed) Fetch(ctx context.Context, symbol string) ([]models.NewsItem, error) {
	u := fmt.Sprintf(f.template, url.QueryEscape(symbol))
	items, err := f.reader.Read(ctx, f.Name(), u)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return nil, e.WithSymbol(symbol)
		}
		return nil, err
	}
	return items, nil
}

var _ repository.NewsSource = (*SymbolFeed)(nil)
