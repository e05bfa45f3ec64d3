package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tradewire service.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Cache     Cache     `yaml:"cache"`
	Journal   Journal   `yaml:"journal"`
	Secrets   Secrets   `yaml:"secrets"`
	Trading   Trading   `yaml:"trading"`
	OANDA     OANDA     `yaml:"oanda"`
	Tradovate Tradovate `yaml:"tradovate"`
	Coinbase  Coinbase  `yaml:"coinbase"`
	Symbols   Symbols   `yaml:"symbols"`
	Profiling Profiling `yaml:"profiling"`
}

// Server holds network listener configuration.
type Server struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	LogFile string `yaml:"log_file"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Cache configures the shared TTL cache store and its circuit breaker.
type Cache struct {
	Path             string `yaml:"path"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

// Journal configures the execution journal and its parquet archive.
type Journal struct {
	Path       string `yaml:"path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Secrets selects where broker credentials are fetched from: "env" reads
// process environment variables, "file" reads a local YAML parameter file.
type Secrets struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
}

// Trading holds execution parameters shared by the adapters.
type Trading struct {
	PaperMode       bool `yaml:"paper_mode"`
	FuturesQuantity int  `yaml:"futures_quantity"`
}

// OANDA holds endpoint selection for the OANDA forex adapter.
type OANDA struct {
	Practice bool   `yaml:"practice"`
	BaseURL  string `yaml:"base_url"`
}

// Tradovate holds endpoint selection for the Tradovate futures adapter.
type Tradovate struct {
	Demo    bool   `yaml:"demo"`
	BaseURL string `yaml:"base_url"`
}

// Coinbase holds endpoint selection for the Coinbase spot adapter.
type Coinbase struct {
	BaseURL string `yaml:"base_url"`
}

// Symbols configures the futures contract resolution pipeline.
type Symbols struct {
	Dataset       string   `yaml:"dataset"`
	Universe      []string `yaml:"universe"`
	CacheTTLHours int      `yaml:"cache_ttl_hours"`
	BaseURL       string   `yaml:"base_url"`
}

// Profiling configures the optional continuous profiler.
type Profiling struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Endpoint defaults. The practice/demo flags pick which base URL applies
// when base_url is left empty.
const (
	OANDAPracticeURL = "https://api-fxpractice.oanda.com"
	OANDALiveURL     = "https://api-fxtrade.oanda.com"
	TradovateDemoURL = "https://demo.tradovateapi.com/v1"
	TradovateLiveURL = "https://live.tradovateapi.com/v1"
	CoinbaseURL      = "https://api.coinbase.com"
	DatabentoURL     = "https://hist.databento.com"
)

// defaultUniverse is the fixed set of continuous futures roots ranked during
// symbol resolution.
var defaultUniverse = []string{"ES", "NQ", "6E", "GC", "RTY", "CL", "YM", "NG", "MBT", "HG", "SI"}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "data/cache.db"
	}
	if cfg.Cache.FailureThreshold == 0 {
		cfg.Cache.FailureThreshold = 3
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/journal.db"
	}
	if cfg.Journal.ArchiveDir == "" {
		cfg.Journal.ArchiveDir = "data/archive"
	}
	if cfg.Secrets.Source == "" {
		cfg.Secrets.Source = "env"
	}
	if cfg.Trading.FuturesQuantity == 0 {
		cfg.Trading.FuturesQuantity = 1
	}
	if cfg.OANDA.BaseURL == "" {
		if cfg.OANDA.Practice {
			cfg.OANDA.BaseURL = OANDAPracticeURL
		} else {
			cfg.OANDA.BaseURL = OANDALiveURL
		}
	}
	if cfg.Tradovate.BaseURL == "" {
		if cfg.Tradovate.Demo {
			cfg.Tradovate.BaseURL = TradovateDemoURL
		} else {
			cfg.Tradovate.BaseURL = TradovateLiveURL
		}
	}
	if cfg.Coinbase.BaseURL == "" {
		cfg.Coinbase.BaseURL = CoinbaseURL
	}
	if cfg.Symbols.Dataset == "" {
		cfg.Symbols.Dataset = "GLBX.MDP3"
	}
	if len(cfg.Symbols.Universe) == 0 {
		cfg.Symbols.Universe = append([]string(nil), defaultUniverse...)
	}
	if cfg.Symbols.CacheTTLHours == 0 {
		cfg.Symbols.CacheTTLHours = 18
	}
	if cfg.Symbols.BaseURL == "" {
		cfg.Symbols.BaseURL = DatabentoURL
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = "tradewire"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADEWIRE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRADEWIRE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("TRADEWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRADEWIRE_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("TRADEWIRE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("TRADEWIRE_SECRETS_SOURCE"); v != "" {
		cfg.Secrets.Source = v
	}
	if v := os.Getenv("TRADEWIRE_SECRETS_FILE"); v != "" {
		cfg.Secrets.File = v
	}
}
