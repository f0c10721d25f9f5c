package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
data_dir = "/tmp/gld-test"

[gateway]
jwt_secret = "test-secret"

[stable]
custody_address = "eco1qqqsyqcyq5rqwzqfpg9scrgwpugpzysn184a9e"
stability_fee_bps = 500

[bridge]
escrow_address = "eco1qqqsyqcyq5rqwzqfpg9scrgwpugpzysn184a9e"
daily_cap = "1000000"

[[assets]]
id = "carbon-1"
type = "CarbonCredits"
collateral_ratio_bps = 15000
liquidation_threshold_bps = 12000
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.ListenAddress != ":8645" {
		t.Fatalf("listen address = %q", cfg.Gateway.ListenAddress)
	}
	if cfg.Stable.MaxQuoteAge() != 5*time.Minute {
		t.Fatalf("max quote age = %s", cfg.Stable.MaxQuoteAge())
	}
	if cfg.Stable.LiquidationPenaltyBps != 1000 {
		t.Fatalf("penalty = %d", cfg.Stable.LiquidationPenaltyBps)
	}
	if cfg.Bridge.SettlementDelay() != 10*time.Minute {
		t.Fatalf("settlement delay = %s", cfg.Bridge.SettlementDelay())
	}
	if cfg.Bridge.DailyCapInt().String() != "1000000" {
		t.Fatalf("daily cap = %s", cfg.Bridge.DailyCapInt())
	}
	if cfg.Bridge.MaxAmountInt() != nil {
		t.Fatal("unset max amount should be nil")
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := map[string]struct {
		mutate string
		want   string
	}{
		"missing custody": {
			mutate: strings.Replace(validConfig, `custody_address = "eco1qqqsyqcyq5rqwzqfpg9scrgwpugpzysn184a9e"`, "", 1),
			want:   "custody_address",
		},
		"missing jwt secret": {
			mutate: strings.Replace(validConfig, `jwt_secret = "test-secret"`, "", 1),
			want:   "jwt_secret",
		},
		"bad daily cap": {
			mutate: strings.Replace(validConfig, `daily_cap = "1000000"`, `daily_cap = "lots"`, 1),
			want:   "daily_cap",
		},
		"ratio below 100%": {
			mutate: strings.Replace(validConfig, "collateral_ratio_bps = 15000", "collateral_ratio_bps = 9000", 1),
			want:   "collateral ratio",
		},
		"threshold above ratio": {
			mutate: strings.Replace(validConfig, "liquidation_threshold_bps = 12000", "liquidation_threshold_bps = 16000", 1),
			want:   "threshold",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mutate))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
