package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Load parses a TOML-like configuration (key = value pairs under
// [section] headers) into a Config, starting from Default() so any
// option the input omits keeps its default. This hand-rolled parser
// mirrors the node package's own config loader rather than reaching for
// a TOML library: popcore's configuration surface is three flat sections
// of scalar values, and the same small state machine that surface needs
// is already what the rest of this codebase uses for this job.
func Load(data []byte) (Config, error) {
	cfg := Default()
	section := ""

	for lineNum, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			end := strings.Index(line, "]")
			if end < 0 {
				return Config{}, fmt.Errorf("config: line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}
		eq := strings.Index(line, "=")
		if eq < 0 {
			return Config{}, fmt.Errorf("config: line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if err := apply(&cfg, section, key, val, lineNum+1); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, section, key, val string, lineNum int) error {
	switch section {
	case "alt":
		return applyAlt(&cfg.Alt, key, val, lineNum)
	case "vbk":
		return applyVbk(&cfg.Vbk, key, val, lineNum)
	case "btc":
		return applyBtc(&cfg.Btc, key, val, lineNum)
	default:
		return fmt.Errorf("config: line %d: unknown section [%s]", lineNum, section)
	}
}

func applyAlt(c *AltConfig, key, val string, lineNum int) error {
	switch key {
	case "networkId":
		n, err := parseUint32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.networkId: %w", lineNum, err)
		}
		c.NetworkID = n
	case "settlementInterval":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.settlementInterval: %w", lineNum, err)
		}
		c.SettlementInterval = n
	case "payoutDelay":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.payoutDelay: %w", lineNum, err)
		}
		c.PayoutDelay = n
	case "payoutWindowSize":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.payoutWindowSize: %w", lineNum, err)
		}
		c.PayoutWindowSize = n
	case "maxPopDataPerBlock":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.maxPopDataPerBlock: %w", lineNum, err)
		}
		c.MaxPopDataPerBlock = n
	case "maxBlockTimeDrift":
		n, err := parseUint32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.maxBlockTimeDrift: %w", lineNum, err)
		}
		c.MaxBlockTimeDrift = n
	case "medianTimePastBlocks":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid alt.medianTimePastBlocks: %w", lineNum, err)
		}
		c.MedianTimePastBlocks = n
	default:
		return fmt.Errorf("config: line %d: unknown key %q in [alt]", lineNum, key)
	}
	return nil
}

func applyVbk(c *VbkConfig, key, val string, lineNum int) error {
	switch key {
	case "networkMagic":
		n, err := parseUint32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid vbk.networkMagic: %w", lineNum, err)
		}
		c.NetworkMagic = n
	case "minimumDifficulty":
		n, err := parseUint32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid vbk.minimumDifficulty: %w", lineNum, err)
		}
		c.MinimumDifficulty = n
	case "genesisHash":
		c.GenesisHash = unquote(val)
	case "settlementInterval":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid vbk.settlementInterval: %w", lineNum, err)
		}
		c.SettlementInterval = n
	default:
		return fmt.Errorf("config: line %d: unknown key %q in [vbk]", lineNum, key)
	}
	return nil
}

func applyBtc(c *BtcConfig, key, val string, lineNum int) error {
	switch key {
	case "powLimit":
		n, err := parseUint32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid btc.powLimit: %w", lineNum, err)
		}
		c.PowLimit = n
	case "retargetPolicy":
		c.RetargetPolicy = unquote(val)
	case "genesisHash":
		c.GenesisHash = unquote(val)
	case "bootstrapStart":
		n, err := parseInt32(val)
		if err != nil {
			return fmt.Errorf("config: line %d: invalid btc.bootstrapStart: %w", lineNum, err)
		}
		c.BootstrapStart = n
	case "bootstrapHeaders":
		c.BootstrapHeaders = parseStringArray(val)
	default:
		return fmt.Errorf("config: line %d: unknown key %q in [btc]", lineNum, key)
	}
	return nil
}

func parseUint32(val string) (uint32, error) {
	n, err := strconv.ParseUint(val, 0, 32)
	return uint32(n), err
}

func parseInt32(val string) (int32, error) {
	n, err := strconv.ParseInt(val, 10, 32)
	return int32(n), err
}

func unquote(val string) string {
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		return val[1 : len(val)-1]
	}
	return val
}

// parseStringArray parses a bracketed, comma-separated list of quoted
// strings: ["a", "b", "c"].
func parseStringArray(val string) []string {
	val = strings.TrimSpace(val)
	val = strings.TrimPrefix(val, "[")
	val = strings.TrimSuffix(val, "]")
	if strings.TrimSpace(val) == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, unquote(strings.TrimSpace(p)))
	}
	return out
}
