package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
)

type memoryS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryS3() *memoryS3 {
	return &memoryS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryS3) Upload(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.objects[bucket+"/"+key] = body
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *memoryS3) Download(_ context.Context, bucket, key string) ([]byte, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return body, nil
}

func (m *memoryS3) Delete(_ context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func TestArchive_RoundTrip(t *testing.T) {
	s3 := newMemoryS3()
	archive := NewArchive(s3, "raw-events")
	event := &models.RawWebhookEvent{
		ID:             "raw_abc",
		OrganizationID: "0b9e6c1e-5d0a-4f43-9d3e-9f8a6b2c1d00",
		Provider:       enum.ProviderSmartlead,
		Payload:        `{"event_type":"EMAIL_SENT"}`,
		SignatureState: enum.SignatureVerified,
		ReceivedAt:     time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC),
	}

	key, err := archive.Archive(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "raw/smartlead/2026/03/09/raw_abc.json", key)
	assert.Equal(t, "application/json", s3.types["raw-events/"+key])

	got, err := archive.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, event.Payload, got.Payload)
	assert.Equal(t, enum.SignatureVerified, got.SignatureState)

	require.NoError(t, archive.Delete(context.Background(), key))
	_, err = archive.Fetch(context.Background(), key)
	assert.Error(t, err)
}

func TestNewRawEventArchive_DisabledWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewRawEventArchive(&config.StorageConfig{RawEventBucket: "raw"}))
	assert.Nil(t, NewRawEventArchive(nil))
}
