package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug           bool   `env:"DEBUG" envDefault:"false"`
	LogFile         string `env:"LOG_FILE" envDefault:"bundlealert.log"`
	Domain          string `env:"APP_DOMAIN" envDefault:"bundlealert-wallet.netlify.app"`
	RequireTelegram bool   `env:"REQUIRE_TELEGRAM" envDefault:"false"`

	API      API
	Wallet   Wallet
	Telegram Telegram
	Storage  Storage
	Redis    Redis
	Flow     Flow
	Stub     Stub
}

type API struct {
	BaseURL    string        `env:"BOT_API_URL" envDefault:"https://bundlealertstream.replit.app"`
	Timeout    time.Duration `env:"BOT_API_TIMEOUT" envDefault:"10s"`
	MaxRetries int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
}

type Wallet struct {
	ProjectID      string `env:"WALLETCONNECT_PROJECT_ID" envDefault:""`
	RelayURL       string `env:"RELAY_URL" envDefault:""`
	DefaultChainID int64  `env:"DEFAULT_CHAIN_ID" envDefault:"1"`
	RPCURL         string `env:"ETH_RPC_URL" envDefault:"https://eth.llamarpc.com"`

	// Local signer standing in for a browser extension wallet
	PrivateKey string `env:"INJECTED_PRIVATE_KEY" envDefault:""`
	Keystore   string `env:"INJECTED_KEYSTORE" envDefault:""`
	Passphrase string `env:"INJECTED_PASSPHRASE" envDefault:""`

	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT" envDefault:"45s"`
	InitTimeout      time.Duration `env:"INIT_TIMEOUT" envDefault:"20s"`
	EnableTimeout    time.Duration `env:"ENABLE_TIMEOUT" envDefault:"30s"`
	BalanceTimeout   time.Duration `env:"BALANCE_TIMEOUT" envDefault:"10s"`
	SignatureTimeout time.Duration `env:"SIGNATURE_TIMEOUT" envDefault:"60s"`
	PollInterval     time.Duration `env:"RELAY_POLL_INTERVAL" envDefault:"5s"`
}

type Telegram struct {
	InitData string `env:"TELEGRAM_INIT_DATA" envDefault:""`
}

type Storage struct {
	Backend   string `env:"STORAGE_BACKEND" envDefault:"memory"` // memory, redis
	Namespace string `env:"STORAGE_NAMESPACE" envDefault:"bundlealert"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Flow struct {
	StatusRefreshDelay time.Duration `env:"STATUS_REFRESH_DELAY" envDefault:"1s"`
}

// Stub configures the development backend in cmd/stubapi.
type Stub struct {
	Port     int           `env:"PORT" envDefault:"8080"`
	Origin   string        `env:"ORIGIN" envDefault:"*"`
	BotToken string        `env:"BOT_TOKEN" envDefault:""`
	TokenTTL time.Duration `env:"STUB_TOKEN_TTL" envDefault:"24h"`
	InitTTL  time.Duration `env:"STUB_INIT_DATA_TTL" envDefault:"24h"`
	Store    string        `env:"STUB_STORE" envDefault:"memory"` // memory, redis

	// Token whose holdings decide tiers 2 and 3; without a contract every verified wallet is tier 1
	TokenContract string `env:"STUB_TOKEN_CONTRACT" envDefault:""`
	TokenSymbol   string `env:"STUB_TOKEN_SYMBOL" envDefault:"BNDL"`
	TokenName     string `env:"STUB_TOKEN_NAME" envDefault:"BundleAlert Token"`
	TokenDecimals int32  `env:"STUB_TOKEN_DECIMALS" envDefault:"18"`
	Tier2Min      string `env:"STUB_TIER2_MIN" envDefault:"1000"`
	Tier3Min      string `env:"STUB_TIER3_MIN" envDefault:"10000"`
}

// Addr returns the redis address.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads optional .env files and then the environment.
// With no files given, a missing ./.env is not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		// production environments set variables directly
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load that panics on error.
func MustLoad(files ...string) *Config {
	cfg, err := Load(files...)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate normalizes values and rejects settings no component can work with.
func (c *Config) Validate() error {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		return fmt.Errorf("BOT_API_URL must not be empty")
	}
	if c.API.MaxRetries < 0 {
		c.API.MaxRetries = 0
	}

	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be memory or redis, got %q", c.Storage.Backend)
	}
	switch c.Stub.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("STUB_STORE must be memory or redis, got %q", c.Stub.Store)
	}

	w := &c.Wallet
	w.PrivateKey = strings.TrimPrefix(strings.TrimSpace(w.PrivateKey), "0x")
	if w.ConnectTimeout < w.InitTimeout || w.ConnectTimeout < w.EnableTimeout {
		return fmt.Errorf("CONNECT_TIMEOUT (%s) must not be shorter than INIT_TIMEOUT (%s) or ENABLE_TIMEOUT (%s)",
			w.ConnectTimeout, w.InitTimeout, w.EnableTimeout)
	}
	if w.DefaultChainID <= 0 {
		w.DefaultChainID = 1
	}
	return nil
}

// MissingRequired lists required settings that are empty.
func (c *Config) MissingRequired() []string {
	var missing []string
	if c.API.BaseURL == "" {
		missing = append(missing, "BOT_API_URL")
	}
	if c.Wallet.ProjectID == "" {
		missing = append(missing, "WALLETCONNECT_PROJECT_ID")
	}
	return missing
}
