package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
)

type mailboxConnectionRepository struct {
	db *gorm.DB
}

func NewMailboxConnectionRepository(db *gorm.DB) interfaces.MailboxConnectionRepository {
	return &mailboxConnectionRepository{db: db}
}

func (r *mailboxConnectionRepository) Get(ctx context.Context, mailboxID string) (*models.MailboxConnection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxConnectionRepository.Get")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var connection models.MailboxConnection
	if err := r.db.WithContext(ctx).First(&connection, "mailbox_id = ?", mailboxID).Error; err != nil {
		err = notFound(err, hserrors.ErrMailboxNotFound)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &connection, nil
}

func (r *mailboxConnectionRepository) Save(ctx context.Context, connection *models.MailboxConnection) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxConnectionRepository.Save")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "mailbox_id"}}, UpdateAll: true}).
		Create(connection).Error
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *mailboxConnectionRepository) List(ctx context.Context) ([]*models.MailboxConnection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxConnectionRepository.List")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var connections []*models.MailboxConnection
	if err := r.db.WithContext(ctx).Find(&connections).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return connections, nil
}
