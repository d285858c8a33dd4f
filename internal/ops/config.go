// Package ops loads the runtime configuration of the feed.
package ops

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"marketfeed/internal/breaker"
	"marketfeed/internal/cache"
	"marketfeed/internal/codec"
	"marketfeed/internal/ingest"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/rest"
	"marketfeed/pkg/conn"
	"marketfeed/pkg/exception"
)

// EnvPrefix prefixes every environment override, e.g. MARKETFEED_REST_TIMEOUT.
const EnvPrefix = "MARKETFEED"

type Config struct {
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Reconnect ReconnectConfig  `mapstructure:"reconnect"`
	Breaker   BreakerConfig    `mapstructure:"breaker"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Rest      RestConfig       `mapstructure:"rest"`
	Postgres  PostgresConfig   `mapstructure:"postgres"`
	Profiling ProfilingConfig  `mapstructure:"profiling"`
	Stats     StatsConfig      `mapstructure:"stats"`
}

type ExchangeConfig struct {
	Name      string   `mapstructure:"name"`
	WSURL     string   `mapstructure:"ws_url"`
	RestURL   string   `mapstructure:"rest_url"`
	Symbols   []string `mapstructure:"symbols"`
	PoolSize  int      `mapstructure:"pool_size"`
	RateLimit float64  `mapstructure:"rate_limit"` // requests per second
	Burst     int      `mapstructure:"burst"`
}

type ReconnectConfig struct {
	Delays      []time.Duration `mapstructure:"delays"`
	MaxAttempts int             `mapstructure:"max_attempts"`
}

type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

type CacheSpec struct {
	MaxEntries     int           `mapstructure:"max_entries"`
	MaxMemoryBytes int64         `mapstructure:"max_memory_bytes"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
}

type CacheConfig struct {
	MarketData CacheSpec `mapstructure:"market_data"`
	Derived    CacheSpec `mapstructure:"derived"`
	Upstream   CacheSpec `mapstructure:"upstream"`
	Preference CacheSpec `mapstructure:"preference"`
}

type RestConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	DSN      string `mapstructure:"dsn"`
}

type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchanges", []map[string]any{
		{"name": "binance", "symbols": []string{"BTCUSDT", "ETHUSDT"}},
		{"name": "okx", "symbols": []string{"BTC-USDT", "ETH-USDT"}},
		{"name": "bybit", "symbols": []string{"BTCUSDT", "ETHUSDT"}},
	})

	v.SetDefault("reconnect.delays", []string{"1s", "1s", "2s", "3s", "5s", "8s", "13s", "21s"})
	v.SetDefault("reconnect.max_attempts", 10)

	v.SetDefault("breaker.max_failures", breaker.DefaultMaxFailures)
	v.SetDefault("breaker.reset_timeout", breaker.DefaultResetTimeout)

	def := cache.DefaultManagerConfig()
	setCacheDefaults(v, "cache.market_data", def.MarketData)
	setCacheDefaults(v, "cache.derived", def.Derived)
	setCacheDefaults(v, "cache.upstream", def.Upstream)
	setCacheDefaults(v, "cache.preference", def.Preference)

	v.SetDefault("rest.timeout", rest.DefaultTimeout)
	v.SetDefault("rest.ttl", rest.DefaultTTL)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "marketfeed")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.server_address", "http://localhost:4040")
	v.SetDefault("profiling.app_name", "marketfeed")

	v.SetDefault("stats.interval", time.Minute)
}

func setCacheDefaults(v *viper.Viper, prefix string, c cache.Config) {
	v.SetDefault(prefix+".max_entries", c.MaxEntries)
	v.SetDefault(prefix+".max_memory_bytes", c.MaxMemoryBytes)
	v.SetDefault(prefix+".default_ttl", c.DefaultTTL)
	v.SetDefault(prefix+".prune_interval", time.Minute)
}

// Load reads path (YAML) when it is not empty, then applies .env and
// MARKETFEED_* overrides on top of the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file").With("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pool could not run with.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "no exchange configured")
	}
	seen := make(map[enum.Exchange]bool, len(c.Exchanges))
	for _, ec := range c.Exchanges {
		ex, ok := enum.ParseExchange(ec.Name)
		if !ok {
			return errors.Wrap(exception.ErrUnknownExchange, "validate config").With("exchange", ec.Name)
		}
		if seen[ex] {
			return errors.Wrap(exception.ErrInvalidArgument, "duplicated exchange").With("exchange", ec.Name)
		}
		seen[ex] = true
		if len(ec.Symbols) == 0 {
			return errors.Wrap(exception.ErrInvalidArgument, "no symbols").With("exchange", ec.Name)
		}
	}
	for _, d := range c.Reconnect.Delays {
		if d < 0 {
			return errors.Wrap(exception.ErrInvalidArgument, "negative reconnect delay").With("delay", d)
		}
	}
	return nil
}

// SymbolNames returns the canonical symbols of every exchange, deduplicated
// in first-seen order, ready for codec.NewSymbolTable.
func (c *Config) SymbolNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, ec := range c.Exchanges {
		for _, s := range ec.Symbols {
			name := codec.CanonicalSymbol(s)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (c *Config) IngestConfig() ingest.Config {
	out := ingest.Config{
		Delays:      c.Reconnect.Delays,
		MaxAttempts: c.Reconnect.MaxAttempts,
		Breaker: breaker.Config{
			MaxFailures:  c.Breaker.MaxFailures,
			ResetTimeout: c.Breaker.ResetTimeout,
		},
	}
	for _, ec := range c.Exchanges {
		ex, _ := enum.ParseExchange(ec.Name)
		out.Exchanges = append(out.Exchanges, ingest.ExchangeConfig{
			Exchange: ex,
			URL:      ec.WSURL,
			Symbols:  ec.Symbols,
			PoolSize: ec.PoolSize,
		})
	}
	return out
}

func (c *Config) CacheConfig() cache.ManagerConfig {
	return cache.ManagerConfig{
		MarketData: c.Cache.MarketData.cacheConfig(),
		Derived:    c.Cache.Derived.cacheConfig(),
		Upstream:   c.Cache.Upstream.cacheConfig(),
		Preference: c.Cache.Preference.cacheConfig(),
	}
}

func (s CacheSpec) cacheConfig() cache.Config {
	return cache.Config{
		MaxEntries:     s.MaxEntries,
		MaxMemoryBytes: s.MaxMemoryBytes,
		DefaultTTL:     s.DefaultTTL,
		PruneInterval:  s.PruneInterval,
	}
}

func (c *Config) RestConfig() rest.Config {
	out := rest.Config{
		Timeout:   c.Rest.Timeout,
		TTL:       c.Rest.TTL,
		Endpoints: make(map[enum.Exchange]rest.Endpoint, len(c.Exchanges)),
	}
	for _, ec := range c.Exchanges {
		ex, _ := enum.ParseExchange(ec.Name)
		out.Endpoints[ex] = rest.Endpoint{
			BaseURL: ec.RestURL,
			RPS:     ec.RateLimit,
			Burst:   ec.Burst,
		}
	}
	return out
}

func (c *Config) PostgresOption() conn.Option {
	return conn.Option{
		Host:       c.Postgres.Host,
		Port:       c.Postgres.Port,
		User:       c.Postgres.User,
		Password:   c.Postgres.Password,
		Database:   c.Postgres.Database,
		SSLMode:    c.Postgres.SSLMode,
		ConnString: c.Postgres.DSN,
	}
}
