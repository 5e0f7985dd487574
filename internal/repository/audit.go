package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
)

const defaultAuditLimit = 100

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) interfaces.AuditRepository {
	return &auditRepository{db: db}
}

// Append inserts only; audit rows are never updated.
func (r *auditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AuditRepository.Append")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to append audit event")
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter interfaces.AuditFilter) ([]*models.AuditEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AuditRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultAuditLimit
	}

	query := r.db.WithContext(ctx).Where("organization_id = ?", filter.OrganizationID)
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}

	var events []*models.AuditEvent
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return events, nil
}

type suggestionRepository struct {
	db *gorm.DB
}

func NewSuggestionRepository(db *gorm.DB) interfaces.SuggestionRepository {
	return &suggestionRepository{db: db}
}

func (r *suggestionRepository) ReplacePending(ctx context.Context, organizationID string, suggestions []*models.LoadBalancingSuggestion) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuggestionRepository.ReplacePending")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.LogKV("suggestions", len(suggestions))

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.LoadBalancingSuggestion{}).
			Where("organization_id = ? AND status = ?", organizationID, enum.SuggestionPending).
			Update("status", enum.SuggestionDismissed).Error; err != nil {
			return err
		}
		if len(suggestions) == 0 {
			return nil
		}
		return tx.Create(&suggestions).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *suggestionRepository) GetByID(ctx context.Context, id string) (*models.LoadBalancingSuggestion, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuggestionRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var suggestion models.LoadBalancingSuggestion
	if err := r.db.WithContext(ctx).First(&suggestion, "id = ?", id).Error; err != nil {
		err = notFound(err, hserrors.ErrSuggestionNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &suggestion, nil
}

func (r *suggestionRepository) List(ctx context.Context, organizationID string, status enum.SuggestionStatus) ([]*models.LoadBalancingSuggestion, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuggestionRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	query := r.db.WithContext(ctx).Where("organization_id = ?", organizationID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var suggestions []*models.LoadBalancingSuggestion
	if err := query.Order("created_at DESC").Find(&suggestions).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return suggestions, nil
}

func (r *suggestionRepository) MarkApplied(ctx context.Context, id string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SuggestionRepository.MarkApplied")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Model(&models.LoadBalancingSuggestion{}).
		Where("id = ? AND status = ?", id, enum.SuggestionPending).
		Updates(map[string]interface{}{"status": enum.SuggestionApplied, "applied_at": at})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return hserrors.ErrSuggestionApplied
	}
	return nil
}
