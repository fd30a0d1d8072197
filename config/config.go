// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration, read from the environment
// (optionally seeded from a .env file).
type Config struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	ListenAddr     string        `env:"LISTEN_ADDR,default=:5200"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	ServiceToken   string        `env:"MARKET_SERVICE_TOKEN,required"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=5s"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	Rewards Rewards

	WalletServiceURL   string        `env:"WALLET_SERVICE_URL"`
	WalletServiceToken string        `env:"WALLET_SERVICE_TOKEN"`
	WalletPollInterval time.Duration `env:"WALLET_POLL_INTERVAL,default=10s"`

	JobSweepInterval time.Duration `env:"JOB_SWEEP_INTERVAL,default=1m"`

	R2 R2
}

// Rewards holds the incentive constants.
type Rewards struct {
	DailyBase          int64 `env:"REWARD_DAILY_BASE,default=10"`
	BoostMax           int64 `env:"REWARD_BOOST_MAX,default=100"`
	BoostBalanceFactor int64 `env:"REWARD_BOOST_BALANCE_FACTOR,default=10"`
	BountyKarmaBonus   int64 `env:"REWARD_BOUNTY_KARMA,default=10"`
}

// R2 is the object storage used for the submission archive. Archiving is
// disabled when Bucket is empty.
type R2 struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

// Load reads .env (if any) and decodes the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, reading environment variables directly")
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Rewards.DailyBase <= 0 {
		return errors.New("REWARD_DAILY_BASE must be positive")
	}
	if c.Rewards.BoostMax < 0 {
		return errors.New("REWARD_BOOST_MAX must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

// Origins returns the CORS allow-list normalised the way fiber's cors
// middleware expects it.
func (c *Config) Origins() string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// Enabled reports whether the archive bucket is configured.
func (r R2) Enabled() bool {
	return r.Bucket != "" && r.AccountID != ""
}
