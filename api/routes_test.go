package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superkabe/healthstack/api/handlers"
	"github.com/superkabe/healthstack/api/middleware"
	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository/memory"
	"github.com/superkabe/healthstack/internal/utils"
	"github.com/superkabe/healthstack/services"
	"github.com/superkabe/healthstack/services/gate"
	"github.com/superkabe/healthstack/services/report"
)

const (
	testAPIKey = "test-key"
	testOrg    = "7d9f1a52-3c1e-4b7a-9d55-0f3c2b8a6e11"
	otherOrg   = "0b6f3f0e-8f3a-4c55-a1f2-5c0e9a7d2b44"
)

func testConfig() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{
			APIKey:         testAPIKey,
			Environment:    "development",
			SystemMode:     "ENFORCE",
			WebhookTimeout: 5 * time.Second,
			LocalWorkers:   1,
		},
		Logger:             &logger.Config{LogLevel: "error"},
		RedisConfig:        &config.RedisConfig{},
		StorageConfig:      &config.StorageConfig{},
		WebhookConfig:      &config.WebhookConfig{MaxBodyBytes: 1 << 16},
		RiskConfig:         &config.RiskConfig{},
		HealingConfig:      &config.HealingConfig{},
		BalancerConfig:     &config.BalancerConfig{OverloadFactor: 1.5, UnderutilizedFactor: 0.5},
		ProviderConfig:     &config.ProviderConfig{},
		DNSConfig:          &config.DNSConfig{Resolver: "127.0.0.1:53", Timeout: time.Second},
		ConnectivityConfig: &config.ConnectivityConfig{Timeout: time.Second, Concurrency: 1},
	}
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	l := logger.NewAppLogger(cfg.Logger)
	l.InitLogger()

	repos, store := memory.NewRepositories()
	s, err := services.InitServices(cfg, l, repos, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.EventsService.Close() })

	r := gin.New()
	RegisterRoutes(r, handlers.InitHandlers(cfg, l, s, repos), testAPIKey)
	return &testServer{router: r, store: store}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		payload, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) api(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, map[string]string{
		middleware.APIKeyHeader:    testAPIKey,
		utils.OrganizationIdHeader: testOrg,
	})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRoutes_HealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_AuthAndTenant(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/v1/audit", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/v1/audit", nil, map[string]string{middleware.APIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/v1/audit", nil, map[string]string{middleware.APIKeyHeader: testAPIKey})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/audit", nil, map[string]string{
		middleware.APIKeyHeader:    testAPIKey,
		utils.OrganizationIdHeader: "acme",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.api(http.MethodGet, "/v1/audit", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_WebhookLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "Ops@Acme.io"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	mb := decode[models.MailboxHealth](t, w)
	assert.Equal(t, "ops@acme.io", mb.Email)
	assert.NotEmpty(t, mb.DomainID)

	hook := func(path, org, body string) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, path, body, map[string]string{utils.OrganizationIdHeader: org})
	}
	body := `{"type":"sent","event_id":"g-1","mailbox_id":"mbox_1","recipient":"jane@example.com"}`

	assert.Equal(t, http.StatusNotFound, hook("/monitor/mailchimp-webhook", testOrg, body).Code)
	assert.Equal(t, http.StatusNotFound, hook("/monitor/generic", testOrg, body).Code)
	assert.Equal(t, http.StatusBadRequest, hook("/monitor/generic-webhook", "acme", body).Code)
	assert.Equal(t, http.StatusBadRequest, hook("/monitor/generic-webhook", testOrg, "{not json").Code)

	w = hook("/monitor/generic-webhook", testOrg, body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["accepted"])

	w = hook("/monitor/generic-webhook", testOrg, body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.store.DeliveryEvents(), 1)
}

func TestRoutes_GateAndManualCampaignPause(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "ops@acme.io"}).Code)
	require.Equal(t, http.StatusOK, s.api(http.MethodPut, "/v1/campaigns/camp_1", map[string]any{"name": "Q3 outbound"}).Code)
	w := s.api(http.MethodPut, "/v1/campaigns/camp_1/assignments", map[string]any{"mailboxIds": []string{"mbox_1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.api(http.MethodPost, "/v1/gate/check", map[string]any{"mailboxId": "mbox_1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.api(http.MethodPost, "/v1/gate/check", map[string]any{"mailboxId": "mbox_1", "campaignId": "camp_1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[gate.Decision](t, w).Allowed)

	w = s.api(http.MethodPost, "/v1/campaigns/camp_1/pause", map[string]any{"reason": "list hygiene"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, enum.CampaignPaused, decode[models.CampaignHealth](t, w).Status)

	w = s.api(http.MethodPost, "/v1/gate/check", map[string]any{"mailboxId": "mbox_1", "campaignId": "camp_1"})
	decision := decode[gate.Decision](t, w)
	assert.False(t, decision.Allowed)
	assert.Equal(t, enum.ReasonCampaignPaused, decision.Reason)

	w = s.api(http.MethodGet, "/v1/campaigns/camp_1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, enum.CampaignPaused, decode[models.CampaignHealth](t, w).Status)

	w = s.api(http.MethodGet, "/v1/audit?entityType=campaign&entityId=camp_1&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := decode[struct {
		Events []models.AuditEvent `json:"events"`
	}](t, w)
	require.NotEmpty(t, audit.Events)
	assert.Equal(t, "camp_1", audit.Events[0].EntityID)

	w = s.api(http.MethodPost, "/v1/campaigns/camp_1/resume", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, enum.CampaignActive, decode[models.CampaignHealth](t, w).Status)
}

func TestRoutes_EntityLookupsAreScopedToOrganization(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "ops@acme.io"}).Code)

	assert.Equal(t, http.StatusOK, s.api(http.MethodGet, "/v1/mailboxes/mbox_1/health", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.api(http.MethodGet, "/v1/mailboxes/mbox_404/health", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.api(http.MethodGet, "/v1/domains/dom_404/health", nil).Code)

	w := s.do(http.MethodGet, "/v1/mailboxes/mbox_1/health", nil, map[string]string{
		middleware.APIKeyHeader:    testAPIKey,
		utils.OrganizationIdHeader: otherOrg,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_OperatorValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.api(http.MethodPost, "/v1/mailboxes/mbox_1/connectivity", map[string]any{"reason": "no ok flag"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.api(http.MethodPost, "/v1/mailboxes/mbox_404/clear-intervention", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.api(http.MethodGet, "/v1/audit?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_ConnectivityReport(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "ops@acme.io"}).Code)

	w := s.api(http.MethodPost, "/v1/mailboxes/mbox_1/connectivity", map[string]any{"ok": false, "reason": "imap auth failed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, enum.MailboxDisconnected, decode[models.MailboxHealth](t, w).Status)

	w = s.api(http.MethodPost, "/v1/gate/check", map[string]any{"mailboxId": "mbox_1", "campaignId": "camp_1"})
	assert.Equal(t, enum.ReasonMailboxDisconnected, decode[gate.Decision](t, w).Reason)
}

func TestRoutes_Reports(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.api(http.MethodPut, "/v1/mailboxes/mbox_1", map[string]any{"email": "ops@acme.io"}).Code)

	w := s.api(http.MethodGet, "/v1/reports/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	riskReport := decode[report.RiskReport](t, w)
	assert.Equal(t, testOrg, riskReport.OrganizationID)
	require.Len(t, riskReport.Mailboxes, 1)
	assert.Equal(t, report.LevelLow, riskReport.Mailboxes[0].Level)

	w = s.api(http.MethodGet, "/v1/reports/load-balancing", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.api(http.MethodPost, "/v1/reports/load-balancing/suggestions/sug_404/apply", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
