package config

import (
	"time"
)

type AppConfig struct {
	APIPort         string        `env:"PORT,required" envDefault:"12222"`
	APIKey          string        `env:"API_KEY,required"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"production"`
	SystemMode      string        `env:"SYSTEM_MODE" envDefault:"ENFORCE"`
	RabbitMQURL     string        `env:"RABBITMQ_URL"`
	WebhookTimeout  time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"25s"`
	LocalWorkers    int           `env:"LOCAL_EVENT_WORKERS" envDefault:"8"`
	PodName         string        `env:"POD_NAME" envDefault:"local"`
	PodNamespace    string        `env:"POD_NAMESPACE" envDefault:"default"`
	RawEventMaxDays int           `env:"RAW_EVENT_RETENTION_DAYS" envDefault:"30"`
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN" envDefault:"50"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"require"`
}

type RedisConfig struct {
	Addr          string        `env:"REDIS_ADDR"`
	Password      string        `env:"REDIS_PASSWORD"`
	DB            int           `env:"REDIS_DB" envDefault:"0"`
	DedupWindow   time.Duration `env:"DEDUP_WINDOW" envDefault:"24h"`
	DedupTimeout  time.Duration `env:"DEDUP_TIMEOUT" envDefault:"250ms"`
	LockTTL       time.Duration `env:"MAILBOX_LOCK_TTL" envDefault:"10s"`
	LockWaitLimit time.Duration `env:"MAILBOX_LOCK_WAIT" envDefault:"5s"`
}

func (c *RedisConfig) Enabled() bool {
	return c != nil && c.Addr != ""
}

// StorageConfig selects Cloudflare R2 when an account id is set, AWS S3 when only a region is.
type StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AWSRegion       string `env:"RAW_EVENTS_S3_REGION"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
	RawEventBucket  string `env:"BUCKET_NAME_RAW_EVENTS" envDefault:"raw-webhook-events"`
}

func (c *StorageConfig) Enabled() bool {
	return c != nil && (c.AccountID != "" || c.AWSRegion != "") && c.AccessKeyID != "" && c.AccessKeySecret != ""
}

type WebhookConfig struct {
	SmartleadSecret string `env:"WEBHOOK_SECRET_SMARTLEAD"`
	InstantlySecret string `env:"WEBHOOK_SECRET_INSTANTLY"`
	GenericSecret   string `env:"WEBHOOK_SECRET_GENERIC"`
	MaxBodyBytes    int64  `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
}

// RiskConfig carries the bounce thresholds of the sliding windows and of the
// domain and campaign aggregates.
type RiskConfig struct {
	WarningWindow           int     `env:"RISK_WARNING_WINDOW" envDefault:"60"`
	PauseWindow             int     `env:"RISK_PAUSE_WINDOW" envDefault:"100"`
	WarningBounces          int     `env:"RISK_WARNING_BOUNCES" envDefault:"3"`
	PauseBounces            int     `env:"RISK_PAUSE_BOUNCES" envDefault:"5"`
	RecoveryWarningBounces  int     `env:"RISK_RECOVERY_WARNING_BOUNCES" envDefault:"2"`
	MinSample               int     `env:"RISK_MIN_SAMPLE" envDefault:"10"`
	ComplaintWeight         int     `env:"RISK_COMPLAINT_WEIGHT" envDefault:"2"`
	SoftBounceRepeats       int     `env:"RISK_SOFT_BOUNCE_REPEATS" envDefault:"3"`
	SoftBounceLookbackDays  int     `env:"RISK_SOFT_BOUNCE_LOOKBACK_DAYS" envDefault:"7"`
	DomainWarningRatio      float64 `env:"RISK_DOMAIN_WARNING_RATIO" envDefault:"0.30"`
	DomainPauseRatio        float64 `env:"RISK_DOMAIN_PAUSE_RATIO" envDefault:"0.50"`
	CampaignPauseBounceRate float64 `env:"RISK_CAMPAIGN_PAUSE_BOUNCE_RATE" envDefault:"0.10"`
}

type HealingConfig struct {
	FirstCooldown      time.Duration `env:"HEALING_COOLDOWN_FIRST" envDefault:"4h"`
	SecondCooldown     time.Duration `env:"HEALING_COOLDOWN_SECOND" envDefault:"24h"`
	ThirdCooldown      time.Duration `env:"HEALING_COOLDOWN_THIRD" envDefault:"48h"`
	RestrictedDailyCap int           `env:"HEALING_RESTRICTED_DAILY_CAP" envDefault:"5"`
	WarmDailyCap       int           `env:"HEALING_WARM_DAILY_CAP" envDefault:"25"`
	WarmRampUp         int           `env:"HEALING_WARM_RAMP_UP" envDefault:"5"`
	WarmMaxBounceRate  float64       `env:"HEALING_WARM_MAX_BOUNCE_RATE" envDefault:"0.02"`
	GracePeriod        time.Duration `env:"HEALING_GRACE_PERIOD" envDefault:"168h"`
	InterventionPolicy string        `env:"HEALING_INTERVENTION_POLICY" envDefault:"advisory"`
	RequireDMARC       bool          `env:"HEALING_REQUIRE_DMARC" envDefault:"false"`
	DNSCheckMaxAge     time.Duration `env:"HEALING_DNS_CHECK_MAX_AGE" envDefault:"1h"`
	PolicyFile         string        `env:"HEALING_POLICY_FILE"`
	Tiers              []HealingTier
}

type BalancerConfig struct {
	OverloadFactor      float64 `env:"BALANCER_OVERLOAD_FACTOR" envDefault:"1.5"`
	UnderutilizedFactor float64 `env:"BALANCER_UNDERUTILIZED_FACTOR" envDefault:"0.5"`
}

type ProviderConfig struct {
	BaseURL        string        `env:"PROVIDER_COMMAND_URL"`
	APIKey         string        `env:"PROVIDER_COMMAND_API_KEY"`
	Timeout        time.Duration `env:"PROVIDER_COMMAND_TIMEOUT" envDefault:"15s"`
	MaxRetries     int           `env:"PROVIDER_COMMAND_MAX_RETRIES" envDefault:"3"`
	BaseDelay      time.Duration `env:"PROVIDER_COMMAND_BASE_DELAY" envDefault:"1s"`
	MaxDelay       time.Duration `env:"PROVIDER_COMMAND_MAX_DELAY" envDefault:"30s"`
	RatePerSecond  float64       `env:"PROVIDER_COMMAND_RATE" envDefault:"5"`
	RateBurst      int           `env:"PROVIDER_COMMAND_BURST" envDefault:"10"`
}

type DNSConfig struct {
	Resolver      string        `env:"DNS_RESOLVER" envDefault:"1.1.1.1:53"`
	Timeout       time.Duration `env:"DNS_TIMEOUT" envDefault:"5s"`
	DKIMSelectors []string      `env:"DKIM_SELECTORS" envDefault:"google,selector1,selector2,default,k1,s1"`
}

type ConnectivityConfig struct {
	Timeout     time.Duration `env:"CONNECTIVITY_TIMEOUT" envDefault:"20s"`
	Concurrency int           `env:"CONNECTIVITY_CONCURRENCY" envDefault:"8"`
}
