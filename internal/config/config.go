package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Hedge      HedgeConfig      `mapstructure:"hedge"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Waterfall  WaterfallConfig  `mapstructure:"waterfall"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Venues     []VenueConfig    `mapstructure:"venues"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BreakerCheck string `mapstructure:"breaker_check"`
	PriceRefresh string `mapstructure:"price_refresh"`
}

type OracleConfig struct {
	MinOracles           int           `mapstructure:"min_oracles"`
	MaxOracles           int           `mapstructure:"max_oracles"`
	MinTotalWeight       int           `mapstructure:"min_total_weight"`
	QuorumPct            int           `mapstructure:"quorum_pct"`
	MajorityPct          int           `mapstructure:"majority_pct"`
	DisputeWindow        time.Duration `mapstructure:"dispute_window"`
	MaxResolutionsPerDay int           `mapstructure:"max_resolutions_per_day"`
	ProofMaxAge          time.Duration `mapstructure:"proof_max_age"`
}

type HedgeConfig struct {
	MaxVenues          int           `mapstructure:"max_venues"`
	MinLiquidity       float64       `mapstructure:"min_liquidity"`
	ReferenceLiquidity float64       `mapstructure:"reference_liquidity"`
	MinPrice           float64       `mapstructure:"min_price"`
	MaxPrice           float64       `mapstructure:"max_price"`
	PriceStaleness     time.Duration `mapstructure:"price_staleness"`
	RebalanceThreshold float64       `mapstructure:"rebalance_threshold"`
	SlippageTolerance  float64       `mapstructure:"slippage_tolerance"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

type VenueConfig struct {
	Name         string  `mapstructure:"name"`
	Kind         string  `mapstructure:"kind"`
	Endpoint     string  `mapstructure:"endpoint"`
	Weight       int     `mapstructure:"weight"`
	MaxTradeSize float64 `mapstructure:"max_trade_size"`
	Enabled      bool    `mapstructure:"enabled"`
}

type BreakerConfig struct {
	WindowCapacity int           `mapstructure:"window_capacity"`
	Defaults       []BreakerSpec `mapstructure:"defaults"`
}

type BreakerSpec struct {
	ID        string        `mapstructure:"id"`
	Metric    string        `mapstructure:"metric"`
	Threshold float64       `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	Aggregate string        `mapstructure:"aggregate"`
	Inverted  bool          `mapstructure:"inverted"`
	Critical  bool          `mapstructure:"critical"`
	Enabled   bool          `mapstructure:"enabled"`
}

type WaterfallConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence"`
	SolvencyBuffer   float64 `mapstructure:"solvency_buffer"`
	MinHedgeRatio    float64 `mapstructure:"min_hedge_ratio"`
	MaxReserveRatio  float64 `mapstructure:"max_reserve_ratio"`
	MaxFeeRatio      float64 `mapstructure:"max_fee_ratio"`
	HedgeDivertShare float64 `mapstructure:"hedge_divert_share"`
	Treasury         string  `mapstructure:"treasury"`
}

type GovernanceConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.breaker_check", "@every 30s")
	v.SetDefault("cron.price_refresh", "@every 1m")

	v.SetDefault("oracle.min_oracles", 2)
	v.SetDefault("oracle.max_oracles", 5)
	v.SetDefault("oracle.min_total_weight", 51)
	v.SetDefault("oracle.quorum_pct", 51)
	v.SetDefault("oracle.majority_pct", 51)
	v.SetDefault("oracle.dispute_window", "24h")
	v.SetDefault("oracle.max_resolutions_per_day", 50)
	v.SetDefault("oracle.proof_max_age", "1h")

	v.SetDefault("hedge.max_venues", 10)
	v.SetDefault("hedge.min_liquidity", 100)
	v.SetDefault("hedge.reference_liquidity", 100000)
	v.SetDefault("hedge.min_price", 0.01)
	v.SetDefault("hedge.max_price", 0.99)
	v.SetDefault("hedge.price_staleness", "5m")
	v.SetDefault("hedge.rebalance_threshold", 0.10)
	v.SetDefault("hedge.slippage_tolerance", 0.02)
	v.SetDefault("hedge.request_timeout", "10s")

	v.SetDefault("breaker.window_capacity", 64)

	v.SetDefault("waterfall.min_confidence", 0.95)
	v.SetDefault("waterfall.solvency_buffer", 0.90)
	v.SetDefault("waterfall.min_hedge_ratio", 0.5)
	v.SetDefault("waterfall.max_reserve_ratio", 0.10)
	v.SetDefault("waterfall.max_fee_ratio", 0.05)
	v.SetDefault("waterfall.hedge_divert_share", 1.0)
	v.SetDefault("waterfall.treasury", "treasury")

	v.SetDefault("governance.min_delay", "24h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
