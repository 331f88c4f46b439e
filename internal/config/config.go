package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Chain        uint64
	StateBackend string
	StateDir     string
	SQLitePath   string
	PGDSN        string
	Outbox       string
	Fee          string
	MinFee       string
	Feeds        map[string]string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
	Chains       []ChainConfig
}

// ChainConfig describes one chain deployment. Admin fields seed a chain's
// state only the first time it is created.
type ChainConfig struct {
	ChainID         uint64         `mapstructure:"chain-id"`
	RPC             string         `mapstructure:"rpc"`
	Controller      string         `mapstructure:"controller"`
	Vault           string         `mapstructure:"vault"`
	Rebalancer      string         `mapstructure:"rebalancer"`
	Asset           string         `mapstructure:"asset"`
	Tokens          []string       `mapstructure:"tokens"`
	Owner           string         `mapstructure:"owner"`
	Updaters        []string       `mapstructure:"updaters"`
	TrustedRemotes  []RemoteConfig `mapstructure:"trusted-remotes"`
	ThresholdBps    uint64         `mapstructure:"threshold-bps"`
	FeedA           string         `mapstructure:"feed-a"`
	FeedB           string         `mapstructure:"feed-b"`
	PriceWindow     int            `mapstructure:"price-window"`
	MaxPriceAge     uint64         `mapstructure:"max-price-age"`
	Routes          []RouteConfig  `mapstructure:"routes"`
	Sizing          SizingConfig   `mapstructure:"sizing"`
	MaxSlippageBps  *uint64        `mapstructure:"max-slippage-bps"`
	AllowZeroMinOut bool           `mapstructure:"allow-zero-min-out"`
	AllowedSkew     uint64         `mapstructure:"allowed-skew"`
	AutoDeposit     bool           `mapstructure:"auto-deposit"`
	Venue           []VenueRate    `mapstructure:"venue"`
}

// RemoteConfig is a trusted remote endpoint.
type RemoteConfig struct {
	ChainID uint64 `mapstructure:"chain-id"`
	Address string `mapstructure:"address"`
}

// RouteConfig is one routing table entry; the source is the owning chain.
type RouteConfig struct {
	Destination  uint64 `mapstructure:"destination"`
	TokenIn      string `mapstructure:"token-in"`
	TokenOut     string `mapstructure:"token-out"`
	Beneficiary  string `mapstructure:"beneficiary"`
	MinScore     uint64 `mapstructure:"min-score"`
	SwapTemplate string `mapstructure:"swap-template"`
}

// SizingConfig selects and parameterizes the per-trigger sizing policy.
type SizingConfig struct {
	Policy        string `mapstructure:"policy"`
	Amount        string `mapstructure:"amount"`
	MaxAmount     string `mapstructure:"max-amount"`
	MultiplierBps uint64 `mapstructure:"multiplier-bps"`
	MaxBps        uint64 `mapstructure:"max-bps"`
}

// VenueRate quotes one pair on the simulated swap venue.
type VenueRate struct {
	TokenIn  string `mapstructure:"token-in"`
	TokenOut string `mapstructure:"token-out"`
	RateBps  uint64 `mapstructure:"rate-bps"`
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REBALANCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-backend", "file")
	v.SetDefault("state-dir", "./data/state")
	v.SetDefault("sqlite-path", "./data/state.db")
	v.SetDefault("outbox", "./data/outbox.jsonl")
	v.SetDefault("fee", "10000000000000000")
	v.SetDefault("min-fee", "10000000000000000")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Chain:        v.GetUint64("chain"),
		StateBackend: v.GetString("state-backend"),
		StateDir:     v.GetString("state-dir"),
		SQLitePath:   v.GetString("sqlite-path"),
		PGDSN:        v.GetString("pg-dsn"),
		Outbox:       v.GetString("outbox"),
		Fee:          v.GetString("fee"),
		MinFee:       v.GetString("min-fee"),
		Feeds:        getStringMap(v, "feeds"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	if err := v.UnmarshalKey("chains", &cfg.Chains); err != nil {
		return Config{}, fmt.Errorf("parse chains: %w", err)
	}

	switch cfg.StateBackend {
	case "file", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
	seen := make(map[uint64]bool, len(cfg.Chains))
	for i, c := range cfg.Chains {
		if c.ChainID == 0 {
			return Config{}, fmt.Errorf("chains[%d]: chain-id is required", i)
		}
		if seen[c.ChainID] {
			return Config{}, fmt.Errorf("chains[%d]: chain %d listed twice", i, c.ChainID)
		}
		seen[c.ChainID] = true
	}

	return cfg, nil
}

// ChainByID returns the deployment for chainID.
func (c Config) ChainByID(chainID uint64) (ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, true
		}
	}
	return ChainConfig{}, false
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[strings.ToUpper(k)] = v
		}
		return out
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[strings.ToUpper(k)] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
