package interfaces

import (
	"context"

	"github.com/superkabe/healthstack/internal/models"
)

// RawEventArchive keeps raw webhook payloads in object storage for audit and replay.
type RawEventArchive interface {
	Archive(ctx context.Context, event *models.RawWebhookEvent) (string, error)
	Fetch(ctx context.Context, key string) (*models.RawWebhookEvent, error)
	Delete(ctx context.Context, key string) error
}
