package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/models"
)

type Repositories struct {
	MailboxHealthRepository     interfaces.MailboxHealthRepository
	MailboxConnectionRepository interfaces.MailboxConnectionRepository
	DomainHealthRepository      interfaces.DomainHealthRepository
	CampaignHealthRepository    interfaces.CampaignHealthRepository
	CampaignMailboxRepository   interfaces.CampaignMailboxRepository
	DeliveryEventRepository     interfaces.DeliveryEventRepository
	RawWebhookEventRepository   interfaces.RawWebhookEventRepository
	AuditRepository             interfaces.AuditRepository
	SuggestionRepository        interfaces.SuggestionRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		MailboxHealthRepository:     NewMailboxHealthRepository(db),
		MailboxConnectionRepository: NewMailboxConnectionRepository(db),
		DomainHealthRepository:      NewDomainHealthRepository(db),
		CampaignHealthRepository:    NewCampaignHealthRepository(db),
		CampaignMailboxRepository:   NewCampaignMailboxRepository(db),
		DeliveryEventRepository:     NewDeliveryEventRepository(db),
		RawWebhookEventRepository:   NewRawWebhookEventRepository(db),
		AuditRepository:             NewAuditRepository(db),
		SuggestionRepository:        NewSuggestionRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, healthDB *gorm.DB) error {
	db, err := healthDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = healthDB.AutoMigrate(
		&models.MailboxHealth{},
		&models.MailboxConnection{},
		&models.DomainHealth{},
		&models.CampaignHealth{},
		&models.CampaignMailbox{},
		&models.DeliveryEvent{},
		&models.RawWebhookEvent{},
		&models.AuditEvent{},
		&models.LoadBalancingSuggestion{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
