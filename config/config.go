// Package config holds the recognized configuration options for the
// three trees (spec section 6) and converts them into the Params structs
// each tree constructor takes.
package config

import (
	"fmt"

	"github.com/altpop/popcore/alt"
	"github.com/altpop/popcore/vbk"
)

// AltConfig holds the ALT tree's recognized options.
type AltConfig struct {
	NetworkID            uint32
	SettlementInterval   int32
	PayoutDelay          int32
	PayoutWindowSize     int32
	MaxPopDataPerBlock   int
	MaxBlockTimeDrift    uint32
	MedianTimePastBlocks int32
}

// VbkConfig holds the VBK tree's recognized options.
type VbkConfig struct {
	NetworkMagic       uint32
	MinimumDifficulty  uint32
	GenesisHash        string
	SettlementInterval int32
}

// BtcConfig holds the BTC tree's recognized options. powLimit and the
// retarget policy configure the embedder's StatelessValidator, not the
// tree itself — btc.Tree takes no Params because its only network-
// specific behavior is validation, which is already an injected
// interface.
type BtcConfig struct {
	PowLimit         uint32
	RetargetPolicy   string
	GenesisHash      string
	BootstrapStart   int32
	BootstrapHeaders []string
}

// Config is the full recognized configuration surface.
type Config struct {
	Alt AltConfig
	Vbk VbkConfig
	Btc BtcConfig
}

// Default returns a Config with conservative, testnet-scale defaults.
func Default() Config {
	return Config{
		Alt: AltConfig{
			NetworkID:            1,
			SettlementInterval:   400,
			PayoutDelay:          50,
			PayoutWindowSize:     20,
			MaxPopDataPerBlock:   50,
			MaxBlockTimeDrift:    600,
			MedianTimePastBlocks: 11,
		},
		Vbk: VbkConfig{
			NetworkMagic:       0x50504356,
			MinimumDifficulty:  100,
			SettlementInterval: 400,
		},
		Btc: BtcConfig{
			PowLimit:       0x1d00ffff,
			RetargetPolicy: "bitcoin-mainnet",
		},
	}
}

// Validate checks the configuration for internally-inconsistent values.
func (c Config) Validate() error {
	if c.Alt.NetworkID == 0 {
		return fmt.Errorf("config: alt.networkId must be nonzero")
	}
	if c.Alt.SettlementInterval <= 0 {
		return fmt.Errorf("config: alt.settlementInterval must be positive")
	}
	if c.Alt.PayoutWindowSize <= 0 {
		return fmt.Errorf("config: alt.payoutWindowSize must be positive")
	}
	if c.Alt.MedianTimePastBlocks <= 0 {
		return fmt.Errorf("config: alt.medianTimePastBlocks must be positive")
	}
	if c.Vbk.SettlementInterval <= 0 {
		return fmt.Errorf("config: vbk.settlementInterval must be positive")
	}
	if c.Vbk.NetworkMagic == 0 {
		return fmt.Errorf("config: vbk.networkMagic must be nonzero")
	}
	switch c.Btc.RetargetPolicy {
	case "bitcoin-mainnet", "bitcoin-testnet", "none":
	default:
		return fmt.Errorf("config: unknown btc.retargetPolicy %q", c.Btc.RetargetPolicy)
	}
	return nil
}

// AltParams converts AltConfig into alt.Params.
func (c AltConfig) AltParams() alt.Params {
	return alt.Params{
		NetworkID:            c.NetworkID,
		SettlementInterval:   c.SettlementInterval,
		PayoutDelay:          c.PayoutDelay,
		PayoutWindowSize:     c.PayoutWindowSize,
		MaxPopDataPerBlock:   c.MaxPopDataPerBlock,
		MaxBlockTimeDrift:    c.MaxBlockTimeDrift,
		MedianTimePastBlocks: c.MedianTimePastBlocks,
	}
}

// VbkParams converts VbkConfig into vbk.Params.
func (c VbkConfig) VbkParams() vbk.Params {
	return vbk.Params{SettlementInterval: c.SettlementInterval}
}
