package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Healing pipeline tick, every 20 minutes
	CronScheduleHealingTick string `env:"CRON_SCHEDULE_HEALING_TICK" envDefault:"0 */20 * * * *"`
	// Relapse history reset for mailboxes past the grace period, every 6 hours
	CronScheduleGraceReset string `env:"CRON_SCHEDULE_GRACE_RESET" envDefault:"0 15 */6 * * *"`
	// Domain health recompute and DNS checks, every hour
	CronScheduleDomainRecompute string `env:"CRON_SCHEDULE_DOMAIN_RECOMPUTE" envDefault:"0 5 * * * *"`
	// Mailbox IMAP/SMTP connectivity checks, every 15 minutes
	CronScheduleConnectivity string `env:"CRON_SCHEDULE_CONNECTIVITY" envDefault:"0 */15 * * * *"`
	// Replay of delivery events the bus never processed, every 2 minutes
	CronScheduleReplay string `env:"CRON_SCHEDULE_REPLAY" envDefault:"30 */2 * * * *"`
	// Load balancing report, every 6 hours
	CronScheduleLoadBalancing string `env:"CRON_SCHEDULE_LOAD_BALANCING" envDefault:"0 30 */6 * * *"`
	// Execution gate snapshot reload, every 5 minutes
	CronScheduleGateReload string `env:"CRON_SCHEDULE_GATE_RELOAD" envDefault:"0 */5 * * * *"`
	// Raw webhook payload pruning, daily at 03:00
	CronSchedulePruneRawEvents string `env:"CRON_SCHEDULE_PRUNE_RAW_EVENTS" envDefault:"0 0 3 * * *"`
}
