package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML-loaded shape of the service's static
// configuration: which pools to create at startup and the HTTP/database
// wiring, grounded on the teacher's native/lending config.go TOML layout.
type fileConfig struct {
	HTTPAddr    string           `toml:"http_addr"`
	DatabasePath string          `toml:"database_path"`
	JWTSecret   string           `toml:"jwt_secret"`
	Market      marketTOML       `toml:"market"`
	Pools       []poolSeedTOML   `toml:"pools"`
}

type marketTOML struct {
	MaxCDPPosition int `toml:"max_cdp_position"`
}

type poolSeedTOML struct {
	Resource     string `toml:"resource"`
	AssetType    string `toml:"asset_type"`
	InitialPrice string `toml:"initial_price"`

	ProtocolFeeRate              string `toml:"protocol_fee_rate"`
	ProtocolFlashloanFeeRate     string `toml:"protocol_flashloan_fee_rate"`
	ProtocolLiquidationFeeRate   string `toml:"protocol_liquidation_fee_rate"`
	FlashloanFeeRate             string `toml:"flashloan_fee_rate"`
	LiquidationBonusRate         string `toml:"liquidation_bonus_rate"`
	LoanCloseFactor              string `toml:"loan_close_factor"`
	InterestUpdatePeriodMinutes  int64  `toml:"interest_update_period_minutes"`
	PriceUpdatePeriodMinutes     int64  `toml:"price_update_period_minutes"`
	PriceExpirationPeriodSeconds int64  `toml:"price_expiration_period_seconds"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("cmd/lendingmarketd: load config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() fileConfig {
	return fileConfig{
		HTTPAddr:     ":8080",
		DatabasePath: "lendingmarket.db",
		Market:       marketTOML{MaxCDPPosition: 10},
	}
}
