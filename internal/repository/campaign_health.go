package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type campaignHealthRepository struct {
	db *gorm.DB
}

func NewCampaignHealthRepository(db *gorm.DB) interfaces.CampaignHealthRepository {
	return &campaignHealthRepository{db: db}
}

func (r *campaignHealthRepository) GetByID(ctx context.Context, id string) (*models.CampaignHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignHealthRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, id)

	var campaign models.CampaignHealth
	if err := r.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		err = notFound(err, hserrors.ErrCampaignNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignHealthRepository) Create(ctx context.Context, campaign *models.CampaignHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignHealthRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if err := r.db.WithContext(ctx).Create(campaign).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create campaign health")
	}
	return nil
}

func (r *campaignHealthRepository) Update(ctx context.Context, campaign *models.CampaignHealth) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignHealthRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.SetTag(tracing.SpanTagEntityId, campaign.ID)

	prev := campaign.Version
	campaign.Version = prev + 1
	campaign.UpdatedAt = utils.Now()

	result := r.db.WithContext(ctx).
		Model(campaign).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(campaign)
	if result.Error != nil {
		campaign.Version = prev
		tracing.TraceErr(span, result.Error)
		return errors.Wrap(result.Error, "failed to update campaign health")
	}
	if result.RowsAffected == 0 {
		campaign.Version = prev
		return errVersionConflict
	}
	return nil
}

func (r *campaignHealthRepository) List(ctx context.Context, organizationID string) ([]*models.CampaignHealth, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignHealthRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var campaigns []*models.CampaignHealth
	query := r.db.WithContext(ctx)
	if organizationID != "" {
		query = query.Where("organization_id = ?", organizationID)
	}
	if err := query.Order("id").Find(&campaigns).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return campaigns, nil
}

type campaignMailboxRepository struct {
	db *gorm.DB
}

func NewCampaignMailboxRepository(db *gorm.DB) interfaces.CampaignMailboxRepository {
	return &campaignMailboxRepository{db: db}
}

func (r *campaignMailboxRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*models.CampaignMailbox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.ListByCampaign")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var assignments []*models.CampaignMailbox
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND active = ?", campaignID, true).
		Order("mailbox_id").
		Find(&assignments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return assignments, nil
}

func (r *campaignMailboxRepository) ListByMailbox(ctx context.Context, mailboxID string) ([]*models.CampaignMailbox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.ListByMailbox")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var assignments []*models.CampaignMailbox
	err := r.db.WithContext(ctx).
		Where("mailbox_id = ? AND active = ?", mailboxID, true).
		Order("campaign_id").
		Find(&assignments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return assignments, nil
}

func (r *campaignMailboxRepository) ListByMailboxes(ctx context.Context, mailboxIDs []string) ([]*models.CampaignMailbox, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.ListByMailboxes")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	if len(mailboxIDs) == 0 {
		return nil, nil
	}
	var assignments []*models.CampaignMailbox
	err := r.db.WithContext(ctx).
		Where("mailbox_id IN ? AND active = ?", mailboxIDs, true).
		Order("mailbox_id, campaign_id").
		Find(&assignments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return assignments, nil
}

func (r *campaignMailboxRepository) Assign(ctx context.Context, assignment *models.CampaignMailbox) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.Assign")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	assignment.Active = true
	if assignment.Weight == 0 {
		assignment.Weight = 1
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "mailbox_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"active", "weight"}),
		}).
		Create(assignment).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *campaignMailboxRepository) Unassign(ctx context.Context, campaignID, mailboxID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.Unassign")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Model(&models.CampaignMailbox{}).
		Where("campaign_id = ? AND mailbox_id = ?", campaignID, mailboxID).
		Update("active", false).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *campaignMailboxRepository) ReplaceForCampaign(ctx context.Context, campaignID string, mailboxIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CampaignMailboxRepository.ReplaceForCampaign")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CampaignMailbox{}).
			Where("campaign_id = ?", campaignID).
			Update("active", false).Error; err != nil {
			return err
		}
		for _, mailboxID := range mailboxIDs {
			assignment := &models.CampaignMailbox{CampaignID: campaignID, MailboxID: mailboxID, Weight: 1, Active: true}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "mailbox_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"active"}),
			}).Create(assignment).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}
