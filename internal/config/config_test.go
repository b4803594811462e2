package config

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func validConfig() Config {
	return Config{
		BrokerURL: "tcp://localhost:1883",
		GatewayID: "18:000730",
		Bindings: map[string]string{
			"32:153289": "37:168270",
		},
	}
}

func expectPanic(t *testing.T, fragment string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, got none", fragment)
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("expected string panic, got %T", r)
		}
		if !strings.Contains(msg, fragment) {
			t.Fatalf("panic %q does not mention %q", msg, fragment)
		}
	}()
	fn()
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	cfg.validate()
}

func TestValidateRequiresBrokerURL(t *testing.T) {
	cfg := validConfig()
	cfg.BrokerURL = ""
	expectPanic(t, "broker_url is required", cfg.validate)
}

func TestValidateRejectsBadGatewayID(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayID = "gateway"
	expectPanic(t, "gateway_id", cfg.validate)
}

func TestValidateAllowsEmptyGatewayID(t *testing.T) {
	cfg := validConfig()
	cfg.GatewayID = ""
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	cfg.validate()
}

func TestValidateRejectsBadBindingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Bindings = map[string]string{"fan": "37:168270"}
	expectPanic(t, "binding key", cfg.validate)
}

func TestValidateRejectsBadBindingValue(t *testing.T) {
	cfg := validConfig()
	cfg.Bindings = map[string]string{"32:153289": "remote"}
	expectPanic(t, "not a valid device id", cfg.validate)
}

func TestValidateRejectsSelfBinding(t *testing.T) {
	cfg := validConfig()
	cfg.Bindings = map[string]string{"32:153289": "32:153289"}
	expectPanic(t, "bound to itself", cfg.validate)
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.applyDefaults()

	if cfg.PendingTimeoutSeconds != 30 {
		t.Errorf("expected default pending timeout 30, got %d", cfg.PendingTimeoutSeconds)
	}
	if cfg.ReadAllSpacingMillis != 500 {
		t.Errorf("expected default read-all spacing 500, got %d", cfg.ReadAllSpacingMillis)
	}
	if cfg.TopicPrefix != "RAMSES/GATEWAY" {
		t.Errorf("unexpected default topic prefix %q", cfg.TopicPrefix)
	}
	if cfg.DBFile != "data/fansync.db" {
		t.Errorf("unexpected default db file %q", cfg.DBFile)
	}
	if cfg.APIPort != 8093 {
		t.Errorf("expected default api port 8093, got %d", cfg.APIPort)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.PendingTimeoutSeconds = 10
	cfg.ReadAllSpacingMillis = 250
	cfg.applyDefaults()

	if cfg.PendingTimeoutSeconds != 10 {
		t.Errorf("explicit pending timeout overwritten: %d", cfg.PendingTimeoutSeconds)
	}
	if cfg.ReadAllSpacingMillis != 250 {
		t.Errorf("explicit read-all spacing overwritten: %d", cfg.ReadAllSpacingMillis)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
