package config

import (
	"testing"
	"time"

	"github.com/olehkaliuzhnyi/spv-wallet/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Network != models.NetworkMainnet {
		t.Errorf("default network = %s", cfg.Network)
	}
	if cfg.GapLimit != 20 {
		t.Errorf("default gap limit = %d, want 20", cfg.GapLimit)
	}
	if cfg.Transport != TransportJSONRPC {
		t.Errorf("default transport = %s", cfg.Transport)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WALLET_GAP_LIMIT", "7")
	t.Setenv("WALLET_FEE_PER_KB", "2500")
	t.Setenv("WALLET_SERVER", "electrum.example.org:50001")
	t.Setenv("WALLET_TRANSPORT", "native")
	t.Setenv("WALLET_NATIVE_TIMEOUT", "3s")
	t.Setenv("WALLET_TESTNET", "true")

	cfg := FromEnv()
	if cfg.GapLimit != 7 {
		t.Errorf("gap limit = %d, want 7", cfg.GapLimit)
	}
	if cfg.FeePerKB != 2500 {
		t.Errorf("fee per kb = %d, want 2500", cfg.FeePerKB)
	}
	if cfg.ServerEndpoint != "electrum.example.org:50001" {
		t.Errorf("server endpoint = %s", cfg.ServerEndpoint)
	}
	if cfg.Transport != TransportNative {
		t.Errorf("transport = %s, want native", cfg.Transport)
	}
	if cfg.NativeTimeout != 3*time.Second {
		t.Errorf("native timeout = %s, want 3s", cfg.NativeTimeout)
	}
	if cfg.Network != models.NetworkTestnet {
		t.Errorf("network = %s, want testnet", cfg.Network)
	}
}

func TestFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("WALLET_GAP_LIMIT", "not-a-number")
	cfg := FromEnv()
	if cfg.GapLimit != Default().GapLimit {
		t.Errorf("malformed gap limit should fall back to default, got %d", cfg.GapLimit)
	}
}
