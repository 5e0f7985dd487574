package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
)

type deliveryEventRepository struct {
	db *gorm.DB
}

func NewDeliveryEventRepository(db *gorm.DB) interfaces.DeliveryEventRepository {
	return &deliveryEventRepository{db: db}
}

func (r *deliveryEventRepository) Create(ctx context.Context, event *models.DeliveryEvent) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}, {Name: "mailbox_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, errors.Wrap(result.Error, "failed to insert delivery event")
	}
	span.LogKV("inserted", result.RowsAffected > 0)
	return result.RowsAffected > 0, nil
}

func (r *deliveryEventRepository) GetByID(ctx context.Context, id string) (*models.DeliveryEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var event models.DeliveryEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		err = notFound(err, hserrors.ErrNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &event, nil
}

func entityColumn(entityType enum.EntityType) (string, error) {
	switch entityType {
	case enum.MAILBOX:
		return "mailbox_id", nil
	case enum.DOMAIN:
		return "domain_id", nil
	case enum.CAMPAIGN:
		return "campaign_id", nil
	}
	return "", errors.Errorf("no delivery event column for entity type %s", entityType)
}

func (r *deliveryEventRepository) ListRiskRelevant(ctx context.Context, entityType enum.EntityType, entityID string, limit int) ([]*models.DeliveryEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.ListRiskRelevant")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntityType(span, entityType.String())
	tracing.TagEntity(span, entityID)

	column, err := entityColumn(entityType)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var events []*models.DeliveryEvent
	err = r.db.WithContext(ctx).
		Where(column+" = ?", entityID).
		Where("processed_at IS NOT NULL").
		Where("(type = ? OR counts_toward_risk = ?)", enum.EventSent, true).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return events, nil
}

func (r *deliveryEventRepository) CountSoftBounces(ctx context.Context, mailboxID, recipient string, since time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.CountSoftBounces")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryEvent{}).
		Where("mailbox_id = ? AND recipient = ? AND type = ? AND occurred_at >= ?",
			mailboxID, recipient, enum.EventSoftBounce, since).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *deliveryEventRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.MarkProcessed")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.DeliveryEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", at).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *deliveryEventRepository) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DeliveryEventRepository.ListUnprocessed")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var events []*models.DeliveryEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND received_at <= ?", olderThan).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return events, nil
}

type rawWebhookEventRepository struct {
	db *gorm.DB
}

func NewRawWebhookEventRepository(db *gorm.DB) interfaces.RawWebhookEventRepository {
	return &rawWebhookEventRepository{db: db}
}

func (r *rawWebhookEventRepository) Create(ctx context.Context, event *models.RawWebhookEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawWebhookEventRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to persist raw webhook event")
	}
	return nil
}

func (r *rawWebhookEventRepository) MarkError(ctx context.Context, id string, errMsg string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawWebhookEventRepository.MarkError")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.RawWebhookEvent{}).
		Where("id = ?", id).
		Update("error", errMsg).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *rawWebhookEventRepository) SetArchivedKey(ctx context.Context, id string, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawWebhookEventRepository.SetArchivedKey")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.RawWebhookEvent{}).
		Where("id = ?", id).
		Update("archived_key", key).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *rawWebhookEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawWebhookEventRepository.DeleteOlderThan")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Where("received_at < ?", before).
		Delete(&models.RawWebhookEvent{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
