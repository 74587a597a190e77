package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Mail     MailConfig     `mapstructure:"mail"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AdminIPs restricts /api/admin to these client IPs. Empty allows all.
	AdminIPs       []string      `mapstructure:"admin_ips"`
}

// MailConfig tunes the private message subsystem.
type MailConfig struct {
	// TokenSecret keys the per-message view tokens. Changing it invalidates
	// every token handed out before.
	TokenSecret      string         `mapstructure:"token_secret"`
	AutobanWindow    time.Duration  `mapstructure:"autoban_window"`
	AutobanThreshold int            `mapstructure:"autoban_threshold"`
	AutobanDuration  time.Duration  `mapstructure:"autoban_duration"`
	ExemptLevel      int            `mapstructure:"exempt_level"`
	MaxTitleLength   int            `mapstructure:"max_title_length"`
	MaxBodyLength    int            `mapstructure:"max_body_length"`
	HourlyLimit      int            `mapstructure:"hourly_limit"`
	SpamKeywords     map[string]int `mapstructure:"spam_keywords"`
	SpamThreshold    int            `mapstructure:"spam_threshold"`
	BanSweepInterval time.Duration  `mapstructure:"ban_sweep_interval"`
}

// Load reads config from the given YAML file path. A .env file in the
// working directory is loaded first when present; DMAIL_* environment
// variables override file values (DMAIL_MAIL_TOKEN_SECRET → mail.token_secret).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/dmail.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("mail.autoban_window", "24h")
	v.SetDefault("mail.autoban_threshold", 10)
	v.SetDefault("mail.autoban_duration", "72h")
	v.SetDefault("mail.exempt_level", 30) // model.LevelGold
	v.SetDefault("mail.max_title_length", 200)
	v.SetDefault("mail.max_body_length", 50000)
	v.SetDefault("mail.hourly_limit", 60)
	v.SetDefault("mail.spam_threshold", 5)
	v.SetDefault("mail.ban_sweep_interval", "5m")
}
