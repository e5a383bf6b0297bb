// Package config holds process configuration. It is loaded once from the
// environment at startup and passed explicitly to every component that
// needs it; nothing reads ambient state after load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration for both the live agent and
// the offline optimization pipeline.
type Config struct {
	// Telephony
	GatewayURL      string // media gateway websocket endpoint
	OutboundTrunkID string // SIP trunk used for outbound dials
	AnswerTimeout   time.Duration
	MaxCallDuration time.Duration // hard cap; the call is cancelled when it elapses

	// Turn provider
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	AgentModel     string
	DebtorModel    string
	OptimizerModel string

	// Pipeline defaults
	NumSimulations int
	MaxTurns       int
}

// LoadFromEnv builds a Config from the environment, applying defaults and
// validating the result.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		GatewayURL:      envOr("KESTREL_GATEWAY_URL", "ws://127.0.0.1:7880/agent"),
		OutboundTrunkID: os.Getenv("SIP_OUTBOUND_TRUNK_ID"),
		AnswerTimeout:   envDurationOr("KESTREL_ANSWER_TIMEOUT", 45*time.Second),
		MaxCallDuration: envDurationOr("KESTREL_MAX_CALL_DURATION", 5*time.Minute),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   envOr("KESTREL_OPENAI_BASE_URL", ""),
		AgentModel:      envOr("KESTREL_AGENT_MODEL", "gpt-4o-mini"),
		DebtorModel:     envOr("KESTREL_DEBTOR_MODEL", "gpt-4o-mini"),
		OptimizerModel:  envOr("KESTREL_OPTIMIZER_MODEL", "gpt-4"),
		NumSimulations:  envIntOr("KESTREL_NUM_SIMULATIONS", 5),
		MaxTurns:        envIntOr("KESTREL_MAX_TURNS", 7),
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if cfg.AnswerTimeout <= 0 {
		return Config{}, fmt.Errorf("KESTREL_ANSWER_TIMEOUT must be > 0")
	}
	if cfg.MaxCallDuration <= 0 {
		return Config{}, fmt.Errorf("KESTREL_MAX_CALL_DURATION must be > 0")
	}
	if cfg.NumSimulations <= 0 {
		return Config{}, fmt.Errorf("KESTREL_NUM_SIMULATIONS must be > 0")
	}
	if cfg.MaxTurns < 1 {
		return Config{}, fmt.Errorf("KESTREL_MAX_TURNS must be >= 1")
	}

	return cfg, nil
}

// ValidateForAgent checks the fields only the live agent needs.
func (c Config) ValidateForAgent() error {
	if c.OutboundTrunkID == "" {
		return fmt.Errorf("SIP_OUTBOUND_TRUNK_ID must be set")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("KESTREL_GATEWAY_URL must be set")
	}
	return nil
}

func envOr(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func envIntOr(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func envDurationOr(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return parsed
}
