package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"MediVault/internal/model"
	"MediVault/internal/pricing"
)

// Config holds all deployment configuration. It is loaded once per deployment
// target and never mutated afterwards.
type Config struct {
	Network struct {
		ID        int64  `yaml:"id"`
		Name      string `yaml:"name"`
		Addresses struct {
			Vault     string `yaml:"vault"`
			Repayment string `yaml:"repayment"`
			Lottery   string `yaml:"lottery"`
			PriceFeed string `yaml:"price_feed"`
			USDC      string `yaml:"usdc"`
		} `yaml:"addresses"`
	} `yaml:"network"`
	Currency struct {
		Symbol   string `yaml:"symbol"`
		Decimals uint8  `yaml:"decimals"`
	} `yaml:"currency"`
	Repayment struct {
		Period        time.Duration `yaml:"period"`
		DefaultMonths uint32        `yaml:"default_months"`
	} `yaml:"repayment"`
	Pricing struct {
		Peg           int64         `yaml:"peg"`
		Decimals      uint8         `yaml:"decimals"`
		MinMultiplier uint64        `yaml:"min_multiplier"`
		MaxMultiplier uint64        `yaml:"max_multiplier"`
		DeadbandBps   int64         `yaml:"deadband_bps"`
		Sensitivity   int64         `yaml:"sensitivity"`
		MaxStaleness  time.Duration `yaml:"max_staleness"`
	} `yaml:"pricing"`
	Lottery struct {
		EntryFee uint64 `yaml:"entry_fee"`
	} `yaml:"lottery"`
	Keeper struct {
		UpkeepCron     string `yaml:"upkeep_cron"`
		PriceCron      string `yaml:"price_cron"`
		CheckpointCron string `yaml:"checkpoint_cron"`
		Workers        int    `yaml:"workers"`
	} `yaml:"keeper"`
	PriceFeed struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Symbol  string `yaml:"symbol"`
	} `yaml:"price_feed"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	StateFile string `yaml:"state_file"`
	HTTP      struct {
		Listen string `yaml:"listen"`
	} `yaml:"http"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides
// and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Zero is a meaningful deadband and sensitivity, so their defaults are set
	// before parsing and only an absent key keeps them.
	cfg.Pricing.DeadbandBps = pricing.DefaultBand.DeadbandBps
	cfg.Pricing.Sensitivity = pricing.DefaultBand.Sensitivity

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
		"TELEGRAM_BOT_TOKEN":       &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":         &c.Telegram.ChatID,
		"MEDIVAULT_PRICE_FEED_URL": &c.PriceFeed.BaseURL,
		"MEDIVAULT_PRICE_FEED_KEY": &c.PriceFeed.APIKey,
		"MEDIVAULT_SQLITE_PATH":    &c.Database.SQLitePath,
		"MEDIVAULT_STATE_FILE":     &c.StateFile,
		"MEDIVAULT_HTTP_LISTEN":    &c.HTTP.Listen,
		"MEDIVAULT_LOG_LEVEL":      &c.Log.Level,
		"MEDIVAULT_UPKEEP_CRON":    &c.Keeper.UpkeepCron,
		"MEDIVAULT_NETWORK":        &c.Network.Name,
		"HTTPS_PROXY":              &c.Proxy,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MEDIVAULT_REPAYMENT_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MEDIVAULT_REPAYMENT_PERIOD: %w", err)
		}
		c.Repayment.Period = d
	}
	if v := os.Getenv("MEDIVAULT_ENTRY_FEE"); v != "" {
		fee, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MEDIVAULT_ENTRY_FEE: %w", err)
		}
		c.Lottery.EntryFee = fee
	}
	if v := os.Getenv("MEDIVAULT_KEEPER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDIVAULT_KEEPER_WORKERS: %w", err)
		}
		c.Keeper.Workers = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Network.Name == "" {
		c.Network.Name = "local"
	}
	if c.Currency.Symbol == "" {
		c.Currency.Symbol = "USDC"
	}
	if c.Currency.Decimals == 0 {
		c.Currency.Decimals = 6
	}
	if c.Repayment.Period == 0 {
		c.Repayment.Period = 5 * time.Minute
	}
	if c.Repayment.DefaultMonths == 0 {
		c.Repayment.DefaultMonths = 120
	}
	def := pricing.DefaultBand
	if c.Pricing.Peg == 0 {
		c.Pricing.Peg = def.Peg
		c.Pricing.Decimals = def.Decimals
	}
	if c.Pricing.MinMultiplier == 0 {
		c.Pricing.MinMultiplier = def.MinMultiplier
	}
	if c.Pricing.MaxMultiplier == 0 {
		c.Pricing.MaxMultiplier = def.MaxMultiplier
	}
	if c.Pricing.MaxStaleness == 0 {
		c.Pricing.MaxStaleness = def.MaxStaleness
	}
	if c.Lottery.EntryFee == 0 {
		c.Lottery.EntryFee = 10 * pow10(c.Currency.Decimals)
	}
	if c.Keeper.UpkeepCron == "" {
		c.Keeper.UpkeepCron = "0 */5 * * * *"
	}
	if c.Keeper.PriceCron == "" {
		c.Keeper.PriceCron = "0 * * * * *"
	}
	if c.Keeper.CheckpointCron == "" {
		c.Keeper.CheckpointCron = "30 */5 * * * *"
	}
	if c.Keeper.Workers == 0 {
		c.Keeper.Workers = 4
	}
	if c.PriceFeed.Symbol == "" {
		c.PriceFeed.Symbol = "USDC/USD"
	}
	if c.StateFile == "" {
		c.StateFile = "data/medivault_state.json"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/medivault.db"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Band returns the multiplier band described by the pricing section.
func (c *Config) Band() pricing.Band {
	return pricing.Band{
		Peg:           c.Pricing.Peg,
		Decimals:      c.Pricing.Decimals,
		MinMultiplier: c.Pricing.MinMultiplier,
		MaxMultiplier: c.Pricing.MaxMultiplier,
		DeadbandBps:   c.Pricing.DeadbandBps,
		Sensitivity:   c.Pricing.Sensitivity,
		MaxStaleness:  c.Pricing.MaxStaleness,
	}
}

// EntryFee returns the lottery entry fee in raw currency units.
func (c *Config) EntryFee() model.Amount { return model.Amount(c.Lottery.EntryFee) }

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Repayment.Period <= 0 {
		return fmt.Errorf("repayment.period must be positive")
	}
	if c.Currency.Decimals > 18 {
		return fmt.Errorf("currency.decimals must be at most 18")
	}
	if err := c.Band().Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if c.Keeper.Workers < 1 {
		return fmt.Errorf("keeper.workers must be positive")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"keeper.upkeep_cron":     c.Keeper.UpkeepCron,
		"keeper.price_cron":      c.Keeper.PriceCron,
		"keeper.checkpoint_cron": c.Keeper.CheckpointCron,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	addrs := map[string]string{
		"network.addresses.vault":      c.Network.Addresses.Vault,
		"network.addresses.repayment":  c.Network.Addresses.Repayment,
		"network.addresses.lottery":    c.Network.Addresses.Lottery,
		"network.addresses.price_feed": c.Network.Addresses.PriceFeed,
		"network.addresses.usdc":       c.Network.Addresses.USDC,
	}
	for name, v := range addrs {
		if v == "" {
			continue
		}
		if _, err := model.ParseAddress(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// OracleAddress is the only principal allowed to post prices over HTTP.
// It is the zero address when network.addresses.price_feed is unset.
func (c *Config) OracleAddress() model.Address { return optionalAddress(c.Network.Addresses.PriceFeed) }

// OperatorAddress is the only principal allowed to drive lottery rounds over HTTP.
func (c *Config) OperatorAddress() model.Address { return optionalAddress(c.Network.Addresses.Lottery) }

func optionalAddress(raw string) model.Address {
	if raw == "" {
		return model.Address{}
	}
	addr, err := model.ParseAddress(raw)
	if err != nil {
		return model.Address{}
	}
	return addr
}

// TelegramEnabled reports whether notifications are configured.
func (c *Config) TelegramEnabled() bool { return c.Telegram.BotToken != "" }

func pow10(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}
