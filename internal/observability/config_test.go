package observability

import (
	"testing"

	"github.com/smallbiznis/seatbroker/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDisablesOtelWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Observability: config.ObservabilityConfig{
			LogLevel:     "info",
			OtelEnabled:  true,
			OtelSampling: 3,
		},
	})

	assert.Equal(t, "seatbroker", cfg.ServiceName)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugFollowsEnvironmentAndLevel(t *testing.T) {
	assert.True(t, LoadConfig(config.Config{Environment: "local"}).Debug())
	assert.True(t, LoadConfig(config.Config{
		Environment:   "production",
		Observability: config.ObservabilityConfig{LogLevel: "debug"},
	}).Debug())
}
