package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:7880/agent", cfg.GatewayURL)
	assert.Equal(t, 45*time.Second, cfg.AnswerTimeout)
	assert.Equal(t, 5*time.Minute, cfg.MaxCallDuration)
	assert.Equal(t, "gpt-4o-mini", cfg.AgentModel)
	assert.Equal(t, "gpt-4o-mini", cfg.DebtorModel)
	assert.Equal(t, "gpt-4", cfg.OptimizerModel)
	assert.Equal(t, 5, cfg.NumSimulations)
	assert.Equal(t, 7, cfg.MaxTurns)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("KESTREL_GATEWAY_URL", "ws://gateway:9000/agent")
	t.Setenv("KESTREL_ANSWER_TIMEOUT", "30s")
	t.Setenv("KESTREL_MAX_CALL_DURATION", "10m")
	t.Setenv("KESTREL_NUM_SIMULATIONS", "12")
	t.Setenv("KESTREL_MAX_TURNS", "4")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "ws://gateway:9000/agent", cfg.GatewayURL)
	assert.Equal(t, 30*time.Second, cfg.AnswerTimeout)
	assert.Equal(t, 10*time.Minute, cfg.MaxCallDuration)
	assert.Equal(t, 12, cfg.NumSimulations)
	assert.Equal(t, 4, cfg.MaxTurns)
}

func TestLoadFromEnv_UnparseableValuesFallBack(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("KESTREL_ANSWER_TIMEOUT", "soon")
	t.Setenv("KESTREL_NUM_SIMULATIONS", "several")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.AnswerTimeout)
	assert.Equal(t, 5, cfg.NumSimulations)
}

func TestLoadFromEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidateForAgent(t *testing.T) {
	cfg := Config{GatewayURL: "ws://x", OutboundTrunkID: "ST_trunk"}
	assert.NoError(t, cfg.ValidateForAgent())

	cfg.OutboundTrunkID = ""
	assert.Error(t, cfg.ValidateForAgent())

	cfg = Config{OutboundTrunkID: "ST_trunk"}
	assert.Error(t, cfg.ValidateForAgent())
}
