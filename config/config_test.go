package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealingConfig_ApplyPolicy(t *testing.T) {
	cfg := &HealingConfig{InterventionPolicy: "advisory", Tiers: DefaultHealingTiers()}

	err := cfg.ApplyPolicy([]byte(`
intervention_policy: blocking
require_dmarc: true
tiers:
  - min_relapses: 0
    restricted_clean_sends: 12
    warm_clean_sends: 60
    warm_min_days: 2
  - min_relapses: 1
    restricted_clean_sends: 20
    warm_clean_sends: 100
    warm_min_days: 7
`))
	require.NoError(t, err)

	assert.Equal(t, "blocking", cfg.InterventionPolicy)
	assert.True(t, cfg.RequireDMARC)
	require.Len(t, cfg.Tiers, 2)
	assert.Equal(t, 12, cfg.Tiers[0].RestrictedCleanSends)
	assert.Equal(t, 7, cfg.Tiers[1].WarmMinDays)
}

func TestHealingConfig_ApplyPolicyRejectsInvalidTier(t *testing.T) {
	cfg := &HealingConfig{Tiers: DefaultHealingTiers()}

	err := cfg.ApplyPolicy([]byte("tiers:\n  - min_relapses: 0\n    restricted_clean_sends: 0\n    warm_clean_sends: 10\n"))
	require.Error(t, err)
	assert.Len(t, cfg.Tiers, 3)
}

func TestAppConfig_IsProduction(t *testing.T) {
	assert.True(t, (&AppConfig{Environment: "production"}).IsProduction())
	assert.False(t, (&AppConfig{Environment: "development"}).IsProduction())
}
