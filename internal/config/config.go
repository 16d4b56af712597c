package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"VaultKeeper/internal/executor"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/policy"
)

// DefaultPath is read when neither --config nor CONFIG_PATH is given.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Accounts struct {
		Count            int    `yaml:"count"`
		AddressPrefix    string `yaml:"address_prefix"`
		CredentialPrefix string `yaml:"credential_prefix"`
	} `yaml:"accounts"`
	Ledger struct {
		Endpoint      string        `yaml:"endpoint"`
		APIKey        string        `yaml:"api_key"`
		ExplorerURL   string        `yaml:"explorer_url"`
		RateLimit     float64       `yaml:"rate_limit"`
		Burst         int           `yaml:"burst"`
		Confirmations int           `yaml:"confirmations"`
		PollInterval  time.Duration `yaml:"poll_interval"`
	} `yaml:"ledger"`
	Retry struct {
		MaxAttempts   *int               `yaml:"max_attempts"`
		BaseFee       float64            `yaml:"base_fee"`
		FeeStep       float64            `yaml:"fee_step"`
		GasLimit      uint64             `yaml:"gas_limit"`
		BaseTimeout   time.Duration      `yaml:"base_timeout"`
		MinTimeout    time.Duration      `yaml:"min_timeout"`
		TimeoutPolicy string             `yaml:"timeout_policy"`
		Pause         time.Duration      `yaml:"pause"`
		FeePremium    map[string]float64 `yaml:"fee_premium"`
	} `yaml:"retry"`
	Schedule struct {
		Interval  time.Duration `yaml:"interval"`
		Store     string        `yaml:"store"`
		StateFile string        `yaml:"state_file"`
	} `yaml:"schedule"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`
	Policy policy.Rules `yaml:"policy"`
	Report struct {
		Title        string        `yaml:"title"`
		Target       string        `yaml:"target"`
		PriceURL     string        `yaml:"price_url"`
		PriceSymbol  string        `yaml:"price_symbol"`
		PriceAPIKey  string        `yaml:"price_api_key"`
		PriceTimeout time.Duration `yaml:"price_timeout"`
	} `yaml:"report"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		Commands bool   `yaml:"commands"`
	} `yaml:"telegram"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Proxy       string `yaml:"proxy"`
	Concurrency int    `yaml:"concurrency"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"LEDGER_ENDPOINT":    &c.Ledger.Endpoint,
		"LEDGER_API_KEY":     &c.Ledger.APIKey,
		"HTTPS_PROXY":        &c.Proxy,
		"STATE_FILE":         &c.Schedule.StateFile,
		"DATABASE_DSN":       &c.Database.DSN,
		"DATABASE_DRIVER":    &c.Database.Driver,
		"PRICE_API":          &c.Report.PriceURL,
		"REDIS_ADDR":         &c.Redis.Addr,
		"REDIS_PASSWORD":     &c.Redis.Password,
		"SCHEDULE_STORE":     &c.Schedule.Store,
		"LOG_LEVEL":          &c.Log.Level,
		"HTTP_ADDR":          &c.HTTP.Addr,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("ACCOUNT_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.NewConfigError("ACCOUNT_COUNT", "not an integer: %q", v)
		}
		c.Accounts.Count = n
	}
	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.NewConfigError("MAX_ATTEMPTS", "not an integer: %q", v)
		}
		c.Retry.MaxAttempts = &n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Accounts.AddressPrefix == "" {
		c.Accounts.AddressPrefix = "ADR_"
	}
	if c.Accounts.CredentialPrefix == "" {
		c.Accounts.CredentialPrefix = "PVK_"
	}
	if c.Ledger.Confirmations == 0 {
		c.Ledger.Confirmations = 1
	}
	if c.Ledger.PollInterval == 0 {
		c.Ledger.PollInterval = 3 * time.Second
	}

	def := executor.DefaultBudgetPolicy()
	if c.Retry.MaxAttempts == nil {
		n := executor.DefaultMaxAttempts
		c.Retry.MaxAttempts = &n
	}
	if c.Retry.BaseFee == 0 {
		c.Retry.BaseFee = def.BaseFee
	}
	if c.Retry.FeeStep == 0 {
		c.Retry.FeeStep = def.FeeStep
	}
	if c.Retry.GasLimit == 0 {
		c.Retry.GasLimit = def.BaseGasLimit
	}
	if c.Retry.BaseTimeout == 0 {
		c.Retry.BaseTimeout = def.BaseTimeout
	}
	if c.Retry.MinTimeout == 0 {
		c.Retry.MinTimeout = def.MinTimeout
	}
	if c.Retry.TimeoutPolicy == "" {
		c.Retry.TimeoutPolicy = string(def.Timeouts)
	}
	if c.Retry.FeePremium == nil {
		c.Retry.FeePremium = make(map[string]float64, len(def.FeePremium))
		for k, v := range def.FeePremium {
			c.Retry.FeePremium[string(k)] = v
		}
	}

	if c.Schedule.Interval == 0 {
		c.Schedule.Interval = model.DefaultInterval
	}
	if c.Schedule.Store == "" {
		c.Schedule.Store = "file"
	}
	if c.Schedule.StateFile == "" {
		c.Schedule.StateFile = "data/restakes.json"
	}

	if c.Policy.Default == "" {
		c.Policy = policy.DefaultRules()
	}

	if c.Report.Title == "" {
		c.Report.Title = "VaultKeeper report"
	}
	if c.Report.PriceSymbol == "" {
		c.Report.PriceSymbol = "ARK"
	}
	if c.Report.PriceTimeout == 0 {
		c.Report.PriceTimeout = 10 * time.Second
	}

	if c.Database.Driver == "" && c.Database.DSN != "" {
		c.Database.Driver = "sqlite"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// MaxAttempts returns the configured retry count after the first attempt.
func (c *Config) MaxAttempts() int {
	if c.Retry.MaxAttempts == nil {
		return executor.DefaultMaxAttempts
	}
	return *c.Retry.MaxAttempts
}

// BudgetPolicy converts the retry section into the executor's policy.
func (c *Config) BudgetPolicy() executor.BudgetPolicy {
	premium := make(map[model.OperationKind]float64, len(c.Retry.FeePremium))
	for k, v := range c.Retry.FeePremium {
		if kind, err := model.ParseKind(k); err == nil {
			premium[kind] = v
		}
	}
	return executor.BudgetPolicy{
		BaseFee:      c.Retry.BaseFee,
		FeeStep:      c.Retry.FeeStep,
		BaseGasLimit: c.Retry.GasLimit,
		BaseTimeout:  c.Retry.BaseTimeout,
		MinTimeout:   c.Retry.MinTimeout,
		Timeouts:     executor.TimeoutPolicy(c.Retry.TimeoutPolicy),
		FeePremium:   premium,
	}
}

// Validate checks that all required fields are set. Every failure is a
// *model.ConfigurationError.
func (c *Config) Validate() error {
	if c.Accounts.Count < 2 {
		return model.NewConfigError("accounts.count", "need at least 2 accounts, got %d", c.Accounts.Count)
	}
	if c.Ledger.Endpoint == "" {
		return model.NewConfigError("ledger.endpoint", "is required")
	}
	if c.MaxAttempts() < 0 {
		return model.NewConfigError("retry.max_attempts", "must be >= 0, got %d", c.MaxAttempts())
	}
	if c.Retry.BaseTimeout <= 0 {
		return model.NewConfigError("retry.base_timeout", "must be positive")
	}
	switch executor.TimeoutPolicy(c.Retry.TimeoutPolicy) {
	case executor.TimeoutShrink, executor.TimeoutFixed:
	default:
		return model.NewConfigError("retry.timeout_policy", "must be shrink or fixed, got %q", c.Retry.TimeoutPolicy)
	}
	for k := range c.Retry.FeePremium {
		if _, err := model.ParseKind(k); err != nil {
			return model.NewConfigError("retry.fee_premium", "%v", err)
		}
	}
	if c.Schedule.Interval < time.Minute {
		return model.NewConfigError("schedule.interval", "must be at least 1m, got %s", c.Schedule.Interval)
	}
	switch c.Schedule.Store {
	case "file":
		if c.Schedule.StateFile == "" {
			return model.NewConfigError("schedule.state_file", "is required for the file store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return model.NewConfigError("redis.addr", "is required for the redis store")
		}
	default:
		return model.NewConfigError("schedule.store", "must be file or redis, got %q", c.Schedule.Store)
	}
	if _, err := model.ParseKind(c.Policy.Default); err != nil {
		return model.NewConfigError("policy.default", "%v", err)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return model.NewConfigError("telegram", "bot_token and chat_id must be set together")
	}
	if c.Database.DSN != "" && c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return model.NewConfigError("database.driver", "must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return model.NewConfigError("log.format", "must be console or json, got %q", c.Log.Format)
	}
	if c.Concurrency < 0 {
		return model.NewConfigError("concurrency", "must be >= 0")
	}
	return nil
}
