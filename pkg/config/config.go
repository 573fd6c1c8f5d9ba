package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	"NightScan/pkg/util"
)

const weightTolerance = 1e-6

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Log         LogConfig        `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Universe    UniverseConfig   `yaml:"universe"`
	Providers   ProvidersConfig  `yaml:"providers"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Cache       CacheConfig      `yaml:"cache"`
	Validation  ValidationConfig `yaml:"validation"`
	Regime      RegimeConfig     `yaml:"regime"`
	Sentiment   SentimentConfig  `yaml:"sentiment"`
	Models      ModelsConfig     `yaml:"models"`
	Ensemble    EnsembleConfig   `yaml:"ensemble"`
	Scoring     ScoringConfig    `yaml:"scoring"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	EventRisk   EventRiskConfig  `yaml:"event_risk"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type UniverseConfig struct {
	Symbols []models.Symbol `yaml:"symbols" validate:"required,min=1,dive"`
}

type ProviderConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	MinSpacing  time.Duration `yaml:"min_spacing" default:"500ms"`
	DailyBudget int64         `yaml:"daily_budget" default:"2000" validate:"min=0"`
	Timeout     time.Duration `yaml:"timeout" default:"15s"`
}

type ProvidersConfig struct {
	Primary   ProviderConfig `yaml:"primary"`
	Secondary ProviderConfig `yaml:"secondary"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" default:"3" validate:"min=1"`
	Initial     time.Duration `yaml:"initial" default:"500ms"`
	Max         time.Duration `yaml:"max" default:"5s"`
	Multiplier  float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" default:"3" validate:"min=1"`
	OpenTimeout         time.Duration `yaml:"open_timeout" default:"60s"`
}

type GatewayConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"4h"`
	BatchSampleSize int           `yaml:"batch_sample_size" default:"5" validate:"min=1"`
	Retry           RetryConfig   `yaml:"retry"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	MaxEntries int         `yaml:"max_entries" default:"5000" validate:"min=1"`
	Redis      RedisConfig `yaml:"redis"`
}

// ValidationConfig drives the eligibility screen. MinPrice of 0 disables
// the price filter.
type ValidationConfig struct {
	Period   string        `yaml:"period" default:"1mo"`
	MinRows  int           `yaml:"min_rows" default:"5" validate:"min=1"`
	MinPrice float64       `yaml:"min_price" validate:"gte=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" default:"12h"`
}

type RegimeConfig struct {
	ReferenceSymbol string `yaml:"reference_symbol" default:"SPY" validate:"required"`
	RiskIndexSymbol string `yaml:"risk_index_symbol" default:"^VIX"`
	Lookback        string `yaml:"lookback" default:"2y"`
	PrimaryModel    bool   `yaml:"primary_model" default:"true"`
	VolWindow       int    `yaml:"vol_window" default:"10" validate:"min=2"`
	MaxIterations   int    `yaml:"max_iterations" default:"200" validate:"min=1"`
}

type MacroFeed struct {
	Name    string   `yaml:"name" validate:"required"`
	URL     string   `yaml:"url" validate:"required,url"`
	Sectors []string `yaml:"sectors"`
}

type SentimentConfig struct {
	Enabled           bool          `yaml:"enabled" default:"true"`
	SymbolFeedURL     string        `yaml:"symbol_feed_url" default:"https://news.google.com/rss/search?q=%s+stock&hl=en-US&gl=US&ceid=US:en"`
	MacroFeeds        []MacroFeed   `yaml:"macro_feeds" validate:"dive"`
	MaxArticles       int           `yaml:"max_articles" default:"20" validate:"min=1"`
	MaxAge            time.Duration `yaml:"max_age" default:"72h"`
	MacroTTL          time.Duration `yaml:"macro_ttl" default:"30m"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"1" validate:"gt=0"`
	Burst             int           `yaml:"burst" default:"1" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
}

type ModelsConfig struct {
	ForecasterURL string        `yaml:"forecaster_url" validate:"omitempty,url"`
	ClassifierURL string        `yaml:"classifier_url" validate:"omitempty,url"`
	Timeout       time.Duration `yaml:"timeout" default:"20s"`
}

type EnsembleWeights struct {
	Sequence  float64 `yaml:"sequence" default:"0.45" validate:"gte=0"`
	Trend     float64 `yaml:"trend" default:"0.25" validate:"gte=0"`
	Technical float64 `yaml:"technical" default:"0.15" validate:"gte=0"`
	Sentiment float64 `yaml:"sentiment" default:"0.15" validate:"gte=0"`
}

func (w EnsembleWeights) Sum() float64 { return w.Sequence + w.Trend + w.Technical + w.Sentiment }

type EnsembleConfig struct {
	Weights         EnsembleWeights `yaml:"weights"`
	BuyThreshold    float64         `yaml:"buy_threshold" default:"0.15"`
	SellThreshold   float64         `yaml:"sell_threshold" default:"-0.15"`
	ConfidenceScale float64         `yaml:"confidence_scale" default:"0.6" validate:"gt=0"`
}

type ScoringWeights struct {
	Confidence float64 `yaml:"confidence" default:"0.30" validate:"gte=0"`
	Technical  float64 `yaml:"technical" default:"0.20" validate:"gte=0"`
	Regime     float64 `yaml:"regime" default:"0.15" validate:"gte=0"`
	Liquidity  float64 `yaml:"liquidity" default:"0.10" validate:"gte=0"`
	Volatility float64 `yaml:"volatility" default:"0.10" validate:"gte=0"`
	Sector     float64 `yaml:"sector" default:"0.05" validate:"gte=0"`
	Beta       float64 `yaml:"beta" default:"0.10" validate:"gte=0"`
}

func (w ScoringWeights) Sum() float64 {
	return w.Confidence + w.Technical + w.Regime + w.Liquidity + w.Volatility + w.Sector + w.Beta
}

type ScoringConfig struct {
	Weights        ScoringWeights `yaml:"weights"`
	CrashHaircut   float64        `yaml:"crash_haircut" default:"10" validate:"gte=0"`
	VolatilityCap  float64        `yaml:"volatility_cap" default:"0.6" validate:"gt=0"`
	LiquidityFloor float64        `yaml:"liquidity_floor" default:"1e5" validate:"gt=0"`
	LiquidityCeil  float64        `yaml:"liquidity_ceil" default:"1e10" validate:"gtfield=LiquidityFloor"`
}

type PipelineConfig struct {
	Workers       int           `yaml:"workers" default:"2" validate:"min=1,max=64"`
	RunTimeout    time.Duration `yaml:"run_timeout" default:"2h"`
	HistoryPeriod string        `yaml:"history_period" default:"1y"`
	EventRisk     bool          `yaml:"event_risk"`
	Schedule      string        `yaml:"schedule" default:"0 2 * * 1-5"`
	Timezone      string        `yaml:"timezone" default:"America/New_York"`
}

type EventRiskConfig struct {
	MaxGapPct float64 `yaml:"max_gap_pct" default:"8" validate:"gt=0"`
	Damping   float64 `yaml:"damping" default:"0.8" validate:"gt=0,lte=1"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	SummaryTopic string        `yaml:"summary_topic"`
	LogTopic     string        `yaml:"log_topic"`
	RequiredAcks int           `yaml:"required_acks" default:"1"`
	Compression  string        `yaml:"compression" default:"snappy"`
	MaxAttempts  int           `yaml:"max_attempts" default:"5"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	LogWindow    time.Duration `yaml:"log_window" default:"30s"`
}

type ClickHouseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"9000"`
	Database     string        `yaml:"database" default:"nightscan"`
	User         string        `yaml:"user" default:"default"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
}

// Default returns a configuration with every default applied and an empty universe.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errs.Configuration("parse config", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("read config", err)
	}

	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides with environment variables
// and validates the merged result.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("read config", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}

	c.ApplyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment.
// SYMBOLS is a comma list of TICKER or TICKER:SECTOR entries.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("NIGHTSCAN_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		c.Providers.Secondary.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Universe.Symbols = ParseSymbols(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("NIGHTSCAN_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Enabled = true
		c.Cache.Redis.Addr = v
	}
	if v := getenv("NIGHTSCAN_FORECASTER_URL"); v != "" {
		c.Models.ForecasterURL = v
	}
	if v := getenv("NIGHTSCAN_CLASSIFIER_URL"); v != "" {
		c.Models.ClassifierURL = v
	}
	if v := getenv("NIGHTSCAN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// ParseSymbols parses "AAPL:Technology,XOM:Energy,SPY".
func ParseSymbols(raw string) []models.Symbol {
	var out []models.Symbol
	for _, part := range strings.Split(raw, ",") {
		ticker, sector, _ := strings.Cut(strings.TrimSpace(part), ":")
		ticker = models.NormalizeTicker(ticker)
		if ticker == "" {
			continue
		}
		if sector == "" {
			sector = "Unclassified"
		}
		out = append(out, models.Symbol{Ticker: ticker, Sector: strings.TrimSpace(sector)})
	}
	return out
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules. Every
// failure is a configuration error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Configuration("validate config", err)
	}

	var problems []error
	seen := make(map[string]bool, len(c.Universe.Symbols))
	for i, s := range c.Universe.Symbols {
		t := models.NormalizeTicker(s.Ticker)
		if t == "" {
			problems = append(problems, fmt.Errorf("universe.symbols[%d]: empty ticker", i))
			continue
		}
		if seen[t] {
			problems = append(problems, fmt.Errorf("universe.symbols: duplicate ticker %s", t))
		}
		seen[t] = true
	}
	if sum := c.Ensemble.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		problems = append(problems, fmt.Errorf("ensemble.weights must sum to 1, got %.6f", sum))
	}
	if sum := c.Scoring.Weights.Sum(); math.Abs(sum-1) > weightTolerance {
		problems = append(problems, fmt.Errorf("scoring.weights must sum to 1, got %.6f", sum))
	}
	if c.Ensemble.SellThreshold >= c.Ensemble.BuyThreshold {
		problems = append(problems, fmt.Errorf("ensemble.sell_threshold (%.3f) must be below buy_threshold (%.3f)",
			c.Ensemble.SellThreshold, c.Ensemble.BuyThreshold))
	}
	if !c.Providers.Primary.Enabled && !c.Providers.Secondary.Enabled {
		problems = append(problems, errors.New("providers: at least one provider must be enabled"))
	}
	if c.Providers.Secondary.Enabled && c.Providers.Secondary.APIKey == "" {
		problems = append(problems, errors.New("providers.secondary.api_key is required when the secondary provider is enabled"))
	}
	if (c.Kafka.SummaryTopic != "" || c.Kafka.LogTopic != "") && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, errors.New("kafka.brokers is required when a kafka topic is set"))
	}
	if c.Sentiment.Enabled && !strings.Contains(c.Sentiment.SymbolFeedURL, "%s") {
		problems = append(problems, errors.New("sentiment.symbol_feed_url must contain %s for the ticker"))
	}

	for _, p := range [][2]string{
		{"validation.period", c.Validation.Period},
		{"regime.lookback", c.Regime.Lookback},
		{"pipeline.history_period", c.Pipeline.HistoryPeriod},
	} {
		if _, err := util.ParsePeriod(p[1]); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", p[0], err))
		}
	}

	if len(problems) > 0 {
		return errs.Configuration("validate config", errors.Join(problems...))
	}
	return nil
}
