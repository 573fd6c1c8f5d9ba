package models

import "time"

// Sentiment classification methods.
const (
	SentimentModel   = "model"
	SentimentKeyword = "keyword"
	SentimentNone    = "none"
)

// SentimentRecord is the aggregated news polarity for one symbol.
type SentimentRecord struct {
	Symbol       string        `json:"symbol"`
	Polarity     float64       `json:"polarity"`
	ArticleCount int           `json:"article_count"`
	CacheAge     time.Duration `json:"cache_age"`
	Sources      []string      `json:"sources"`
	Method       string        `json:"method"`
}

// NewsItem is one headline with optional body text.
type NewsItem struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
}
