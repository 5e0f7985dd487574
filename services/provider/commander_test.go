package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/dto"
	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/logger"
)

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error"})
	l.InitLogger()
	return l
}

func testConfig(url string) *config.ProviderConfig {
	return &config.ProviderConfig{
		BaseURL:       url,
		APIKey:        "secret",
		Timeout:       2 * time.Second,
		MaxRetries:    3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		RatePerSecond: 1000,
		RateBurst:     10,
	}
}

func TestCommander_PostsCommand(t *testing.T) {
	var got dto.ProviderCommand
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/commands", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewCommander(testConfig(srv.URL+"/"), testLogger())
	require.NoError(t, c.ConfigureWarmup(context.Background(), "org_1", "mbox_1", 5, 0))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, dto.CommandConfigureWarmup, got.Type)
	assert.Equal(t, "mbox_1", got.MailboxID)
	assert.Equal(t, 5, got.DailyLimit)
	assert.Equal(t, "org_1", got.OrganizationID)
}

func TestCommander_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd dto.ProviderCommand
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		assert.Equal(t, "camp_1", cmd.CampaignID)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCommander(testConfig(srv.URL), testLogger())
	require.NoError(t, c.PauseCampaign(context.Background(), "org_1", "camp_1", "bounce rate"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCommander_ExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCommander(testConfig(srv.URL), testLogger())
	err := c.RemoveMailboxFromCampaign(context.Background(), "org_1", "mbox_1", "camp_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, hserrors.ErrProviderCommandFailed))
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestCommander_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown campaign", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCommander(testConfig(srv.URL), testLogger())
	err := c.AddMailboxToCampaign(context.Background(), "org_1", "mbox_1", "camp_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown campaign")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommander_NoopWithoutBaseURL(t *testing.T) {
	c := NewCommander(&config.ProviderConfig{}, testLogger())
	_, ok := c.(*noopCommander)
	assert.True(t, ok)
	assert.NoError(t, c.ResumeCampaign(context.Background(), "org_1", "camp_1"))
}

func TestRetryClient_DelayCapped(t *testing.T) {
	rc := &retryClient{baseDelay: 100 * time.Millisecond, maxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt < 8; attempt++ {
		d := rc.delay(attempt)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
