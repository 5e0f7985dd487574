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
	"github.com/superkabe/healthstack/internal/utils"
)

type mailboxHealthRepository struct {
	db *gorm.DB
}

func NewMailboxHealthRepository(db *gorm.DB) interfaces.MailboxHealthRepository {
	return &mailboxHealthRepository{db: db}
}

func (r *mailboxHealthRepository) GetByID(ctx context.Context, id string) (*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, id)

	var mailbox models.MailboxHealth
	err := r.db.WithContext(ctx).First(&mailbox, "id = ?", id).Error
	if err != nil {
		err = notFound(err, hserrors.ErrMailboxNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &mailbox, nil
}

func (r *mailboxHealthRepository) GetByEmail(ctx context.Context, organizationID, email string) (*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.GetByEmail")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagTenant(span, organizationID)

	var mailbox models.MailboxHealth
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND lower(email) = ? AND active = ?", organizationID, utils.NormalizeEmail(email), true).
		First(&mailbox).Error
	if err != nil {
		err = notFound(err, hserrors.ErrMailboxNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &mailbox, nil
}

func (r *mailboxHealthRepository) Create(ctx context.Context, mailbox *models.MailboxHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(mailbox).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create mailbox health")
	}
	return nil
}

func (r *mailboxHealthRepository) Update(ctx context.Context, mailbox *models.MailboxHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, mailbox.ID)

	prev := mailbox.Version
	mailbox.Version = prev + 1
	mailbox.UpdatedAt = utils.Now()

	result := r.db.WithContext(ctx).
		Model(mailbox).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(mailbox)
	if result.Error != nil {
		mailbox.Version = prev
		tracing.TraceErr(span, result.Error)
		return errors.Wrap(result.Error, "failed to update mailbox health")
	}
	if result.RowsAffected == 0 {
		mailbox.Version = prev
		tracing.TraceErr(span, errVersionConflict)
		return errVersionConflict
	}
	return nil
}

func (r *mailboxHealthRepository) List(ctx context.Context, organizationID string) ([]*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var mailboxes []*models.MailboxHealth
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if organizationID != "" {
		query = query.Where("organization_id = ?", organizationID)
	}
	if err := query.Order("id").Find(&mailboxes).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mailboxes, nil
}

func (r *mailboxHealthRepository) ListByDomain(ctx context.Context, domainID string) ([]*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.ListByDomain")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var mailboxes []*models.MailboxHealth
	err := r.db.WithContext(ctx).
		Where("domain_id = ? AND active = ?", domainID, true).
		Order("id").
		Find(&mailboxes).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mailboxes, nil
}

func (r *mailboxHealthRepository) ListInRecovery(ctx context.Context) ([]*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.ListInRecovery")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	phases := []enum.RecoveryPhase{
		enum.PhasePaused, enum.PhaseQuarantine, enum.PhaseRestrictedSend, enum.PhaseWarmRecovery,
	}
	var mailboxes []*models.MailboxHealth
	err := r.db.WithContext(ctx).
		Where("recovery_phase IN ? AND status <> ? AND active = ?", phases, enum.MailboxDisconnected, true).
		Order("id").
		Find(&mailboxes).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mailboxes, nil
}

func (r *mailboxHealthRepository) ListGraceCandidates(ctx context.Context, healthySince time.Time) ([]*models.MailboxHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxHealthRepository.ListGraceCandidates")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var mailboxes []*models.MailboxHealth
	err := r.db.WithContext(ctx).
		Where("healthy_since IS NOT NULL AND healthy_since <= ?", healthySince).
		Where("relapse_count > 0 OR pause_count > 0").
		Where("status = ? AND active = ?", enum.MailboxHealthy, true).
		Find(&mailboxes).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mailboxes, nil
}
