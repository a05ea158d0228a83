package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("cocina:cocinero|lavaplatos; salon:mesero|bartender|mesero ;")
	require.NoError(t, err)
	assert.Equal(t, []string{"cocinero", "lavaplatos"}, tiers["cocina"])
	assert.Equal(t, []string{"mesero", "bartender"}, tiers["salon"])
}

func TestParseTiersRejectsMalformedGroups(t *testing.T) {
	_, err := ParseTiers("cocina")
	require.Error(t, err)

	_, err = ParseTiers("cocina:|")
	require.Error(t, err)
}

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 3, cfg.Workflow.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Workflow.SweepInterval)
	assert.Equal(t, []string{"manana"}, cfg.Matching.MorningShiftTypes)
	assert.Equal(t, []string{"noche", "cierre"}, cfg.Matching.EveningShiftTypes)
	assert.Contains(t, cfg.Matching.Tiers["salon"], "bartender")
	assert.Equal(t, byte(1), cfg.Realtime.MQTTQoS)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, 5*time.Second, parseDuration("5s", time.Minute))
}
