package config

import (
	"testing"
	"time"

	"github.com/converso-ai/converso/backend/internal/transport"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if got := cfg.Transport.Order; len(got) != 3 || got[0] != transport.KindRealtimePubSub || got[2] != transport.KindHTTPPolling {
		t.Fatalf("unexpected transport order %v", got)
	}
	if cfg.Transport.ProbeConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected probe timeout %v", cfg.Transport.ProbeConnectTimeout)
	}
	if cfg.Analysis.HighThreshold != 0.6 || cfg.Analysis.CriticalThreshold != 0.75 {
		t.Fatalf("unexpected thresholds %+v", cfg.Analysis)
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI should be disabled without credentials")
	}
}

func TestServerPortForms(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}

	t.Setenv("PORT", "127.0.0.1:9090")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestTransportOrderOverride(t *testing.T) {
	t.Setenv("TRANSPORT_ORDER", "http_polling, duplex_socket")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	want := []transport.Kind{transport.KindHTTPPolling, transport.KindDuplexSocket}
	if len(cfg.Transport.Order) != len(want) {
		t.Fatalf("unexpected order %v", cfg.Transport.Order)
	}
	for i, kind := range want {
		if cfg.Transport.Order[i] != kind {
			t.Fatalf("unexpected order %v", cfg.Transport.Order)
		}
	}
}

func TestTransportOrderInvalid(t *testing.T) {
	t.Setenv("TRANSPORT_ORDER", "smoke_signals")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestThresholdOrdering(t *testing.T) {
	t.Setenv("SENTIMENT_HIGH_THRESHOLD", "0.8")
	t.Setenv("SENTIMENT_CRITICAL_THRESHOLD", "0.7")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when critical is below high")
	}
}

func TestGatewayTimeoutOverride(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT_MS", "2500")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.AI.Timeout != 2500*time.Millisecond {
		t.Fatalf("unexpected timeout %v", cfg.AI.Timeout)
	}

	t.Setenv("GATEWAY_TIMEOUT_MS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-positive timeout")
	}
}

func TestAnalyzerWorkersValidation(t *testing.T) {
	t.Setenv("ANALYZER_WORKERS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestAIEnabledWithAPIKey(t *testing.T) {
	t.Setenv("ARK_API_KEY", "test-key")
	t.Setenv("ARK_MODEL", "test-model")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("AI should be enabled with api key and model")
	}
}
