package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level daemon configuration loaded from TOML.
type Config struct {
	DataDir   string   `toml:"data_dir"`
	Admins    []string `toml:"admins"`
	Guardians []string `toml:"guardians"`
	Gateway   Gateway
	Stable    Stable
	Bridge    Bridge
	Assets    []Asset
	Logging   Logging
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress string `toml:"listen_address"`
	JWTSecret     string `toml:"jwt_secret"`
	RateLimitRPS  int    `toml:"rate_limit_rps"`
	RateBurst     int    `toml:"rate_burst"`
}

// Stable configures the issuance engine.
type Stable struct {
	CustodyAddress        string   `toml:"custody_address"`
	TreasuryAddress       string   `toml:"treasury_address"`
	StabilityFeeBps       uint64   `toml:"stability_fee_bps"`
	LiquidationPenaltyBps uint64   `toml:"liquidation_penalty_bps"`
	MaxQuoteAgeSeconds    uint64   `toml:"max_quote_age_seconds"`
	OracleMaxDeviationBps uint64   `toml:"oracle_max_deviation_bps"`
	OracleSigners         []Signer `toml:"oracle_signers"`
}

// Signer names an authorised oracle source and its 0x-prefixed address.
type Signer struct {
	Source  string `toml:"source"`
	Address string `toml:"address"`
}

// Bridge configures the settlement engine.
type Bridge struct {
	EscrowAddress          string   `toml:"escrow_address"`
	MinAmount              string   `toml:"min_amount"`
	MaxAmount              string   `toml:"max_amount"`
	DailyCap               string   `toml:"daily_cap"`
	SettlementDelaySeconds uint64   `toml:"settlement_delay_seconds"`
	Threshold              uint64   `toml:"threshold"`
	Validators             []string `toml:"validators"`
}

// Asset seeds a collateral asset into the registry at startup.
type Asset struct {
	ID                      string `toml:"id"`
	Type                    string `toml:"type"`
	CollateralRatioBps      uint64 `toml:"collateral_ratio_bps"`
	LiquidationThresholdBps uint64 `toml:"liquidation_threshold_bps"`
	PriceSource             string `toml:"price_source"`
}

// Logging configures the structured log output.
type Logging struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Load reads the TOML file at path, applies defaults and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Gateway.ListenAddress == "" {
		c.Gateway.ListenAddress = ":8645"
	}
	if c.Gateway.RateLimitRPS <= 0 {
		c.Gateway.RateLimitRPS = 20
	}
	if c.Gateway.RateBurst <= 0 {
		c.Gateway.RateBurst = 40
	}
	if c.Stable.MaxQuoteAgeSeconds == 0 {
		c.Stable.MaxQuoteAgeSeconds = 300
	}
	if c.Stable.LiquidationPenaltyBps == 0 {
		c.Stable.LiquidationPenaltyBps = 1000
	}
	if c.Stable.OracleMaxDeviationBps == 0 {
		c.Stable.OracleMaxDeviationBps = 2000
	}
	if c.Bridge.SettlementDelaySeconds == 0 {
		c.Bridge.SettlementDelaySeconds = 600
	}
	if c.Bridge.Threshold == 0 {
		c.Bridge.Threshold = 1
	}
	if c.Bridge.MinAmount == "" {
		c.Bridge.MinAmount = "1"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate rejects configurations the daemon could not run safely with.
func (c *Config) Validate() error {
	if c.Stable.CustodyAddress == "" {
		return fmt.Errorf("config: stable.custody_address is required")
	}
	if c.Bridge.EscrowAddress == "" {
		return fmt.Errorf("config: bridge.escrow_address is required")
	}
	if c.Gateway.JWTSecret == "" {
		return fmt.Errorf("config: gateway.jwt_secret is required")
	}
	if _, ok := parseAmount(c.Bridge.MinAmount); !ok {
		return fmt.Errorf("config: bridge.min_amount %q is not a valid integer", c.Bridge.MinAmount)
	}
	if c.Bridge.MaxAmount != "" {
		if _, ok := parseAmount(c.Bridge.MaxAmount); !ok {
			return fmt.Errorf("config: bridge.max_amount %q is not a valid integer", c.Bridge.MaxAmount)
		}
	}
	if c.Bridge.DailyCap != "" {
		if _, ok := parseAmount(c.Bridge.DailyCap); !ok {
			return fmt.Errorf("config: bridge.daily_cap %q is not a valid integer", c.Bridge.DailyCap)
		}
	}
	if c.Bridge.Threshold > uint64(len(c.Bridge.Validators)) && len(c.Bridge.Validators) > 0 {
		return fmt.Errorf("config: bridge.threshold %d exceeds validator count %d", c.Bridge.Threshold, len(c.Bridge.Validators))
	}
	for i, asset := range c.Assets {
		if asset.ID == "" {
			return fmt.Errorf("config: assets[%d].id is required", i)
		}
		if asset.CollateralRatioBps < 10_000 {
			return fmt.Errorf("config: assets[%d] collateral ratio below 100%%", i)
		}
		if asset.LiquidationThresholdBps >= asset.CollateralRatioBps {
			return fmt.Errorf("config: assets[%d] liquidation threshold must sit below the collateral ratio", i)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func parseAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// MinAmountInt returns bridge.min_amount as a big integer. Validate must have
// passed first.
func (b Bridge) MinAmountInt() *big.Int {
	v, _ := parseAmount(b.MinAmount)
	return v
}

// MaxAmountInt returns bridge.max_amount, or nil when unset.
func (b Bridge) MaxAmountInt() *big.Int {
	if b.MaxAmount == "" {
		return nil
	}
	v, _ := parseAmount(b.MaxAmount)
	return v
}

// DailyCapInt returns bridge.daily_cap, or nil when unset.
func (b Bridge) DailyCapInt() *big.Int {
	if b.DailyCap == "" {
		return nil
	}
	v, _ := parseAmount(b.DailyCap)
	return v
}

// SettlementDelay returns the delay as a duration.
func (b Bridge) SettlementDelay() time.Duration {
	return time.Duration(b.SettlementDelaySeconds) * time.Second
}

// MaxQuoteAge returns the oracle freshness bound as a duration.
func (s Stable) MaxQuoteAge() time.Duration {
	return time.Duration(s.MaxQuoteAgeSeconds) * time.Second
}
