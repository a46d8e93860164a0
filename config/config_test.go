package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	data := []byte(`
# example network override
[alt]
networkId = 7
settlementInterval = 500
maxPopDataPerBlock = 10

[vbk]
networkMagic = 0x1234
settlementInterval = 500

[btc]
retargetPolicy = "bitcoin-testnet"
bootstrapHeaders = ["aa", "bb"]
`)
	cfg, err := Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alt.NetworkID != 7 {
		t.Errorf("Alt.NetworkID = %d, want 7", cfg.Alt.NetworkID)
	}
	if cfg.Alt.SettlementInterval != 500 {
		t.Errorf("Alt.SettlementInterval = %d, want 500", cfg.Alt.SettlementInterval)
	}
	if cfg.Alt.PayoutDelay != Default().Alt.PayoutDelay {
		t.Errorf("Alt.PayoutDelay should keep its default when unset")
	}
	if cfg.Vbk.NetworkMagic != 0x1234 {
		t.Errorf("Vbk.NetworkMagic = %#x, want 0x1234", cfg.Vbk.NetworkMagic)
	}
	if cfg.Btc.RetargetPolicy != "bitcoin-testnet" {
		t.Errorf("Btc.RetargetPolicy = %q, want bitcoin-testnet", cfg.Btc.RetargetPolicy)
	}
	if len(cfg.Btc.BootstrapHeaders) != 2 || cfg.Btc.BootstrapHeaders[0] != "aa" {
		t.Errorf("Btc.BootstrapHeaders = %v, want [aa bb]", cfg.Btc.BootstrapHeaders)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	if _, err := Load([]byte("[alt]\nbogus = 1\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadRejectsInvalidRetargetPolicy(t *testing.T) {
	if _, err := Load([]byte(`[btc]
retargetPolicy = "made-up"
`)); err == nil {
		t.Fatal("expected validation error for unknown retarget policy")
	}
}
