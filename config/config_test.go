// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridgesim.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint16(54321), cfg.Home.ChainID)
	require.Equal(t, uint16(43114), cfg.Remote.ChainID)
	require.Equal(t, uint8(6), cfg.Token.Decimals)
	require.Equal(t, 24*time.Hour, cfg.MaxPriceAge)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
remote:
  name: arbitrum
  chain_id: 110
token:
  symbol: USDT
  decimals: 6
  pool_id: 2
  liquidity: "5_000_000_000000"
stargate:
  fee_bps: 10
max_price_age: 1h
rescue:
  min_attempts: 2
  cooldown: 30m
`)
	t.Setenv("BRIDGESIM_SOURCE_CHAIN_ID", "109")
	t.Setenv("BRIDGESIM_LAYERZERO_BASE_FEE", "0x10")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "arbitrum", cfg.Remote.Name)
	require.Equal(t, uint16(110), cfg.Remote.ChainID)
	require.Equal(t, uint16(109), cfg.Source.ChainID)
	require.Equal(t, "USDT", cfg.Token.Symbol)
	require.Equal(t, "5000000000000", MustAmount(cfg.Token.Liquidity).String())
	require.Equal(t, uint64(10), cfg.Stargate.FeeBps)
	require.Equal(t, time.Hour, cfg.MaxPriceAge)
	require.Equal(t, uint32(2), cfg.Rescue.MinAttempts)
	require.Equal(t, 30*time.Minute, cfg.Rescue.Cooldown)
	require.Equal(t, "16", MustAmount(cfg.LayerZero.BaseFee).String())

	// untouched values keep their defaults
	require.Equal(t, uint16(54321), cfg.Home.ChainID)
	require.Equal(t, int64(20_00000000), cfg.Prices.Native)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "remote:\n  chainid: 7\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad governance", func(c *Config) { c.Governance = "gov" }, ErrInvalidAddress},
		{"zero chain", func(c *Config) { c.Source.ChainID = 0 }, ErrInvalidChain},
		{"duplicate chain", func(c *Config) { c.Remote.ChainID = c.Home.ChainID }, ErrInvalidChain},
		{"decimals", func(c *Config) { c.Token.Decimals = 19 }, ErrInvalidToken},
		{"pool", func(c *Config) { c.Token.PoolID = 0 }, ErrInvalidToken},
		{"fee bps", func(c *Config) { c.Stargate.FeeBps = 10_000 }, ErrInvalidFee},
		{"price", func(c *Config) { c.Prices.Token = 0 }, ErrInvalidFee},
		{"token price below precision", func(c *Config) { c.Prices.Token = 99 }, ErrInvalidFee},
		{"native price below precision", func(c *Config) { c.Prices.Native = 50 }, ErrInvalidFee},
		{"amount", func(c *Config) { c.HomeReserve = "-1" }, ErrInvalidAmount},
		{"amount syntax", func(c *Config) { c.LayerZero.GasPrice = "1e9" }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
