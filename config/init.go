package config

import (
	"log"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	cronconfig "github.com/superkabe/healthstack/internal/cron/config"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/tracing"
)

type Config struct {
	AppConfig          *AppConfig
	Logger             *logger.Config
	Tracing            *tracing.JaegerConfig
	DatabaseConfig     *DatabaseConfig
	RedisConfig        *RedisConfig
	StorageConfig      *StorageConfig
	WebhookConfig      *WebhookConfig
	RiskConfig         *RiskConfig
	HealingConfig      *HealingConfig
	BalancerConfig     *BalancerConfig
	ProviderConfig     *ProviderConfig
	DNSConfig          *DNSConfig
	ConnectivityConfig *ConnectivityConfig
	CronConfig         *cronconfig.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:          &AppConfig{},
		Logger:             &logger.Config{},
		Tracing:            &tracing.JaegerConfig{},
		DatabaseConfig:     &DatabaseConfig{},
		RedisConfig:        &RedisConfig{},
		StorageConfig:      &StorageConfig{},
		WebhookConfig:      &WebhookConfig{},
		RiskConfig:         &RiskConfig{},
		HealingConfig:      &HealingConfig{},
		BalancerConfig:     &BalancerConfig{},
		ProviderConfig:     &ProviderConfig{},
		DNSConfig:          &DNSConfig{},
		ConnectivityConfig: &ConnectivityConfig{},
		CronConfig:         &cronconfig.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading healthstack config: %v", err)
	}

	config.HealingConfig.Tiers = DefaultHealingTiers()
	if config.HealingConfig.PolicyFile != "" {
		if err := config.HealingConfig.LoadPolicyFile(config.HealingConfig.PolicyFile); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// HealingTier holds the graduation requirements applied to mailboxes whose
// relapse count is at least MinRelapses.
type HealingTier struct {
	MinRelapses          int `yaml:"min_relapses"`
	RestrictedCleanSends int `yaml:"restricted_clean_sends"`
	WarmCleanSends       int `yaml:"warm_clean_sends"`
	WarmMinDays          int `yaml:"warm_min_days"`
}

func DefaultHealingTiers() []HealingTier {
	return []HealingTier{
		{MinRelapses: 0, RestrictedCleanSends: 10, WarmCleanSends: 50, WarmMinDays: 3},
		{MinRelapses: 1, RestrictedCleanSends: 15, WarmCleanSends: 75, WarmMinDays: 5},
		{MinRelapses: 2, RestrictedCleanSends: 20, WarmCleanSends: 100, WarmMinDays: 7},
	}
}

type healingPolicyFile struct {
	InterventionPolicy string        `yaml:"intervention_policy"`
	RequireDMARC       *bool         `yaml:"require_dmarc"`
	Tiers              []HealingTier `yaml:"tiers"`
}

// LoadPolicyFile overrides tiers and intervention policy from a YAML document.
func (c *HealingConfig) LoadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read healing policy file %s", path)
	}
	return c.ApplyPolicy(data)
}

func (c *HealingConfig) ApplyPolicy(data []byte) error {
	var policy healingPolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return errors.Wrap(err, "parse healing policy")
	}
	if policy.InterventionPolicy != "" {
		c.InterventionPolicy = policy.InterventionPolicy
	}
	if policy.RequireDMARC != nil {
		c.RequireDMARC = *policy.RequireDMARC
	}
	if len(policy.Tiers) > 0 {
		for _, tier := range policy.Tiers {
			if tier.RestrictedCleanSends <= 0 || tier.WarmCleanSends <= 0 || tier.WarmMinDays < 0 {
				return errors.Errorf("invalid healing tier for min_relapses=%d", tier.MinRelapses)
			}
		}
		c.Tiers = policy.Tiers
	}
	return nil
}
