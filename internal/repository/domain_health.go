package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type domainHealthRepository struct {
	db *gorm.DB
}

func NewDomainHealthRepository(db *gorm.DB) interfaces.DomainHealthRepository {
	return &domainHealthRepository{db: db}
}

func (r *domainHealthRepository) GetByID(ctx context.Context, id string) (*models.DomainHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainHealthRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, id)

	var domain models.DomainHealth
	if err := r.db.WithContext(ctx).First(&domain, "id = ?", id).Error; err != nil {
		err = notFound(err, hserrors.ErrDomainNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &domain, nil
}

func (r *domainHealthRepository) Create(ctx context.Context, domain *models.DomainHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainHealthRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(domain).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create domain health")
	}
	return nil
}

func (r *domainHealthRepository) Update(ctx context.Context, domain *models.DomainHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainHealthRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, domain.ID)

	prev := domain.Version
	domain.Version = prev + 1
	domain.UpdatedAt = utils.Now()

	result := r.db.WithContext(ctx).
		Model(domain).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(domain)
	if result.Error != nil {
		domain.Version = prev
		tracing.TraceErr(span, result.Error)
		return errors.Wrap(result.Error, "failed to update domain health")
	}
	if result.RowsAffected == 0 {
		domain.Version = prev
		return errVersionConflict
	}
	return nil
}

func (r *domainHealthRepository) List(ctx context.Context, organizationID string) ([]*models.DomainHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainHealthRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var domains []*models.DomainHealth
	query := r.db.WithContext(ctx)
	if organizationID != "" {
		query = query.Where("organization_id = ?", organizationID)
	}
	if err := query.Order("id").Find(&domains).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return domains, nil
}
