package handlers

import (
	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/services"
)

type APIHandlers struct {
	Webhooks  *WebhookHandler
	Gate      *GateHandler
	Health    *HealthHandler
	Audit     *AuditHandler
	Reports   *ReportHandler
	Operators *OperatorHandler
}

func InitHandlers(cfg *config.Config, log logger.Logger, s *services.Services, r *repository.Repositories) *APIHandlers {
	return &APIHandlers{
		Webhooks:  NewWebhookHandler(log, s.Ingestor, cfg.AppConfig.WebhookTimeout, cfg.WebhookConfig.MaxBodyBytes),
		Gate:      NewGateHandler(s.Gate),
		Health:    NewHealthHandler(r),
		Audit:     NewAuditHandler(r.AuditRepository),
		Reports:   NewReportHandler(s.Engine, s.RiskReport),
		Operators: NewOperatorHandler(s.Engine),
	}
}
