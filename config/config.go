// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config describes a simulated bridge deployment. Values come from
// built-in defaults, then an optional YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/luxfi/geth/common"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/marginbridge/pricefeed"
)

// EnvPrefix prefixes every environment override, e.g. BRIDGESIM_GOVERNANCE
const EnvPrefix = "BRIDGESIM"

var (
	ErrInvalidChain   = errors.New("invalid chain")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidFee     = errors.New("invalid fee")
)

type Chain struct {
	Name    string `yaml:"name"`
	ChainID uint16 `yaml:"chain_id" split_words:"true"`
}

// Token is the bridged stablecoin, deployed on the remote and source chains
// under the same pool id.
type Token struct {
	Symbol    string `yaml:"symbol"`
	Decimals  uint8  `yaml:"decimals"`
	PoolID    uint64 `yaml:"pool_id" split_words:"true"`
	Liquidity string `yaml:"liquidity"` // per router, token decimals
}

type LayerZero struct {
	BaseFee    string `yaml:"base_fee" split_words:"true"`
	PerByteFee string `yaml:"per_byte_fee" split_words:"true"`
	GasPrice   string `yaml:"gas_price" split_words:"true"`
}

type Stargate struct {
	FeeBps     uint64 `yaml:"fee_bps" split_words:"true"`
	BaseFee    string `yaml:"base_fee" split_words:"true"`
	PayloadFee string `yaml:"payload_fee" split_words:"true"`
	GasPrice   string `yaml:"gas_price" split_words:"true"`
}

// Prices are USD answers with 8 decimals
type Prices struct {
	Native int64 `yaml:"native"`
	Token  int64 `yaml:"token"`
}

type Rescue struct {
	MinAttempts uint32        `yaml:"min_attempts" split_words:"true"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

type Config struct {
	Governance string `yaml:"governance"`

	Home   Chain `yaml:"home"`
	Remote Chain `yaml:"remote"`
	// Source is where deposits start and second-hop withdrawals land
	Source Chain `yaml:"source"`

	Token     Token     `yaml:"token"`
	LayerZero LayerZero `yaml:"layerzero" envconfig:"LAYERZERO"`
	Stargate  Stargate  `yaml:"stargate"`
	Prices    Prices    `yaml:"prices"`

	MaxPriceAge time.Duration `yaml:"max_price_age" split_words:"true"`
	Rescue      Rescue        `yaml:"rescue"`

	// native wei pre-funded on the home contract and the remote contract
	HomeReserve string `yaml:"home_reserve" split_words:"true"`
	RemoteGas   string `yaml:"remote_gas" split_words:"true"`
}

// Default is a Hubble home chain with an Avalanche remote and Ethereum
// source, bridging USDC.
func Default() *Config {
	return &Config{
		Governance: "0x0000000000000000000000000000000000000901",
		Home:       Chain{Name: "hubble", ChainID: 54321},
		Remote:     Chain{Name: "avalanche", ChainID: 43114},
		Source:     Chain{Name: "ethereum", ChainID: 101},
		Token: Token{
			Symbol:    "USDC",
			Decimals:  6,
			PoolID:    1,
			Liquidity: "1000000000000",
		},
		LayerZero: LayerZero{
			BaseFee:    "250000000000000000",
			PerByteFee: "0",
			GasPrice:   "0",
		},
		Stargate: Stargate{
			FeeBps:     6,
			BaseFee:    "2000000000000000",
			PayloadFee: "100000000000",
			GasPrice:   "25000000000",
		},
		Prices:      Prices{Native: 20_00000000, Token: 1_00000000},
		MaxPriceAge: 24 * time.Hour,
		HomeReserve: "1000000000000000000000000",
		RemoteGas:   "10000000000000000000",
	}
}

// Load reads [path] over the defaults when it is not empty, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Governance) {
		return fmt.Errorf("%w: governance %q", ErrInvalidAddress, c.Governance)
	}
	seen := make(map[uint16]string)
	for _, ch := range []Chain{c.Home, c.Remote, c.Source} {
		if ch.ChainID == 0 {
			return fmt.Errorf("%w: %q has no chain id", ErrInvalidChain, ch.Name)
		}
		if other, ok := seen[ch.ChainID]; ok {
			return fmt.Errorf("%w: %q and %q share chain id %d", ErrInvalidChain, other, ch.Name, ch.ChainID)
		}
		seen[ch.ChainID] = ch.Name
	}
	if c.Token.Decimals > 18 {
		return fmt.Errorf("%w: %d decimals", ErrInvalidToken, c.Token.Decimals)
	}
	if c.Token.PoolID == 0 {
		return fmt.Errorf("%w: pool id 0", ErrInvalidToken)
	}
	if c.Stargate.FeeBps >= 10_000 {
		return fmt.Errorf("%w: %d bps", ErrInvalidFee, c.Stargate.FeeBps)
	}
	if c.Prices.Native < pricefeed.MinAnswer || c.Prices.Token < pricefeed.MinAnswer {
		return fmt.Errorf("%w: prices must be at least %d", ErrInvalidFee, pricefeed.MinAnswer)
	}
	amounts := map[string]string{
		"token.liquidity":        c.Token.Liquidity,
		"layerzero.base_fee":     c.LayerZero.BaseFee,
		"layerzero.per_byte_fee": c.LayerZero.PerByteFee,
		"layerzero.gas_price":    c.LayerZero.GasPrice,
		"stargate.base_fee":      c.Stargate.BaseFee,
		"stargate.payload_fee":   c.Stargate.PayloadFee,
		"stargate.gas_price":     c.Stargate.GasPrice,
		"home_reserve":           c.HomeReserve,
		"remote_gas":             c.RemoteGas,
	}
	for name, v := range amounts {
		if _, err := ParseAmount(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// GovernanceAddress is the account allowed to administer every contract
func (c *Config) GovernanceAddress() common.Address {
	return common.HexToAddress(c.Governance)
}

// ParseAmount parses a non-negative integer in base 10 or with a 0x prefix.
// Underscores may separate digits.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// MustAmount is ParseAmount for values already checked by Validate
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}
