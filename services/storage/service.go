package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/services/storage/aws_client"
)

type objectArchive struct {
	client aws_client.S3Client
	bucket string
}

func NewArchive(client aws_client.S3Client, bucket string) interfaces.RawEventArchive {
	return &objectArchive{client: client, bucket: bucket}
}

// ArchiveKey partitions raw payloads by provider and UTC day.
func ArchiveKey(event *models.RawWebhookEvent) string {
	at := event.ReceivedAt.UTC()
	return fmt.Sprintf("raw/%s/%04d/%02d/%02d/%s.json", event.Provider, at.Year(), at.Month(), at.Day(), event.ID)
}

func (a *objectArchive) Archive(ctx context.Context, event *models.RawWebhookEvent) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEventArchive.Archive")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, event.ID)

	body, err := json.Marshal(event)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "marshal raw event")
	}
	key := ArchiveKey(event)
	if err := a.client.Upload(ctx, a.bucket, key, body, "application/json"); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrapf(err, "upload %s", key)
	}
	return key, nil
}

func (a *objectArchive) Fetch(ctx context.Context, key string) (*models.RawWebhookEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEventArchive.Fetch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	body, err := a.client.Download(ctx, a.bucket, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "download %s", key)
	}
	var event models.RawWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return &event, nil
}

func (a *objectArchive) Delete(ctx context.Context, key string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RawEventArchive.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return a.client.Delete(ctx, a.bucket, key)
}
