package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/oebus/fansync/internal/model"
)

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level

	// Gateway bridge (ramses_esp style) MQTT settings.
	BrokerURL   string `json:"broker_url"`
	TopicPrefix string `json:"topic_prefix"`

	// GatewayID is the local interface identity, the last-resort source for
	// outbound commands. Optional; without it every operation needs an
	// explicit from_id or a configured binding.
	GatewayID string `json:"gateway_id"`

	// Bindings maps a fan device id to the REM/DIS device bound to it in
	// the configuration. Immutable for the lifetime of the process.
	Bindings map[string]string `json:"bindings"`

	PendingTimeoutSeconds int `json:"pending_timeout_seconds"`
	ReadAllSpacingMillis  int `json:"read_all_spacing_millis"`

	DBFile  string `json:"db_file"`
	APIPort int    `json:"api_port"`

	NtfyTopic string `json:"ntfy_topic"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to fansync config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.PendingTimeoutSeconds == 0 {
		cfg.PendingTimeoutSeconds = 30
	}
	if cfg.ReadAllSpacingMillis == 0 {
		cfg.ReadAllSpacingMillis = 500
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "RAMSES/GATEWAY"
	}
	if cfg.DBFile == "" {
		cfg.DBFile = "data/fansync.db"
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8093
	}
}

func (cfg *Config) validate() {
	var problems []string

	if cfg.BrokerURL == "" {
		problems = append(problems, "broker_url is required")
	}
	if cfg.GatewayID != "" && !model.ValidDeviceID(cfg.GatewayID) {
		problems = append(problems, fmt.Sprintf("gateway_id %q is not a valid device id", cfg.GatewayID))
	}
	for fan, bound := range cfg.Bindings {
		if !model.ValidDeviceID(fan) {
			problems = append(problems, fmt.Sprintf("binding key %q is not a valid device id", fan))
		}
		if !model.ValidDeviceID(bound) {
			problems = append(problems, fmt.Sprintf("binding for %s: %q is not a valid device id", fan, bound))
		}
		// A fan cannot solicit its own reply; the bound device must be a
		// distinct identity.
		if fan == bound {
			problems = append(problems, fmt.Sprintf("binding for %s: device cannot be bound to itself", fan))
		}
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
