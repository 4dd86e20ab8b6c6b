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
	Auth       AuthConfig       `mapstructure:"auth"`
	Cron       CronConfig       `mapstructure:"cron"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
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

type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens; empty disables the
	// authenticated routes.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CandleIngest    string `mapstructure:"candle_ingest"`
	SettlementSweep string `mapstructure:"settlement_sweep"`
	RankRefresh     string `mapstructure:"rank_refresh"`
}

type MarketDataConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SettlementConfig struct {
	// SweepWindows is how many recently closed windows per market one
	// sweep pass revisits.
	SweepWindows int `mapstructure:"sweep_windows"`
}

type RankingConfig struct {
	LeaderboardLimit int `mapstructure:"leaderboard_limit"`
}

type IngestConfig struct {
	// Windows is how many recently closed candles per market one ingest
	// pass pulls into the cache.
	Windows int `mapstructure:"windows"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PM")
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
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.candle_ingest", "@every 5m")
	v.SetDefault("cron.settlement_sweep", "@every 1m")
	v.SetDefault("cron.rank_refresh", "@every 30m")
	v.SetDefault("market_data.base_url", "https://data-api.binance.vision")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("settlement.sweep_windows", 4)
	v.SetDefault("ranking.leaderboard_limit", 10)
	v.SetDefault("ingest.windows", 4)

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
