package sentiment

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"NightScan/internal/domain/models"
	"NightScan/pkg/config"
	"NightScan/pkg/logger"
)

type macroEntry struct {
	items     []models.NewsItem
	fetchedAt time.Time
}

// MacroCache holds macro headlines shared by every symbol. Each feed is
// fetched at most once per ttl, failures included, unless the caller's
// context ended during the fetch.
type MacroCache struct {
	reader *FeedReader
	feeds  []config.MacroFeed
	ttl    time.Duration
	store  *gocache.Cache
	log    *logger.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewMacroCache(reader *FeedReader, feeds []config.MacroFeed, ttl time.Duration, log *logger.Logger) *MacroCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &MacroCache{
		reader: reader,
		feeds:  feeds,
		ttl:    ttl,
		store:  gocache.New(ttl, 2*ttl),
		log:    log,
		now:    time.Now,
	}
}

// Items returns headlines from every feed that applies to sector, and the
// age of the oldest cache entry used.
func (m *MacroCache) Items(ctx context.Context, sector string) ([]models.NewsItem, time.Duration) {
	var (
		out    []models.NewsItem
		oldest time.Duration
	)
	for _, f := range m.feeds {
		if !appliesTo(f, sector) {
			continue
		}
		e := m.entry(ctx, f)
		if age := m.now().Sub(e.fetchedAt); age > oldest {
			oldest = age
		}
		out = append(out, e.items...)
	}
	return out, oldest
}

func (m *MacroCache) entry(ctx context.Context, f config.MacroFeed) macroEntry {
	if v, ok := m.store.Get(f.Name); ok {
		return v.(macroEntry)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store.Get(f.Name); ok {
		return v.(macroEntry)
	}

	items, err := m.reader.Read(ctx, f.Name, f.URL)
	if err != nil {
		m.log.Warn("macro feed unavailable", logger.String("feed", f.Name), logger.Error(err))
	}
	e := macroEntry{items: items, fetchedAt: m.now()}
	// a fetch cut short by the caller says nothing about the feed
	if ctx.Err() == nil {
		m.store.Set(f.Name, e, m.ttl)
	}
	return e
}

func appliesTo(f config.MacroFeed, sector string) bool {
	if len(f.Sectors) == 0 {
		return true
	}
	for _, s := range f.Sectors {
		if strings.EqualFold(s, sector) {
			return true
		}
	}
	return false
}
