// Package memory holds map-backed repositories with the same semantics as the
// gorm ones, including optimistic versioning and the delivery event dedup index.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/repository"
	"github.com/superkabe/healthstack/internal/utils"
)

type Store struct {
	mu          sync.RWMutex
	mailboxes   map[string]*models.MailboxHealth
	connections map[string]*models.MailboxConnection
	domains     map[string]*models.DomainHealth
	campaigns   map[string]*models.CampaignHealth
	assignments map[string]*models.CampaignMailbox
	events      map[string]*models.DeliveryEvent
	eventKeys   map[string]string
	rawEvents   map[string]*models.RawWebhookEvent
	audit       []*models.AuditEvent
	suggestions map[string]*models.LoadBalancingSuggestion
}

func NewStore() *Store {
	return &Store{
		mailboxes:   make(map[string]*models.MailboxHealth),
		connections: make(map[string]*models.MailboxConnection),
		domains:     make(map[string]*models.DomainHealth),
		campaigns:   make(map[string]*models.CampaignHealth),
		assignments: make(map[string]*models.CampaignMailbox),
		events:      make(map[string]*models.DeliveryEvent),
		eventKeys:   make(map[string]string),
		rawEvents:   make(map[string]*models.RawWebhookEvent),
		suggestions: make(map[string]*models.LoadBalancingSuggestion),
	}
}

// NewRepositories returns every repository backed by one fresh store.
func NewRepositories() (*repository.Repositories, *Store) {
	s := NewStore()
	return s.Repositories(), s
}

func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		MailboxHealthRepository:     &mailboxHealthRepository{s},
		MailboxConnectionRepository: &mailboxConnectionRepository{s},
		DomainHealthRepository:      &domainHealthRepository{s},
		CampaignHealthRepository:    &campaignHealthRepository{s},
		CampaignMailboxRepository:   &campaignMailboxRepository{s},
		DeliveryEventRepository:     &deliveryEventRepository{s},
		RawWebhookEventRepository:   &rawWebhookEventRepository{s},
		AuditRepository:             &auditRepository{s},
		SuggestionRepository:        &suggestionRepository{s},
	}
}

// AuditEvents returns a copy of the audit log in insertion order.
func (s *Store) AuditEvents() []*models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) DeliveryEvents() []*models.DeliveryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.DeliveryEvent, 0, len(s.events))
	for _, e := range s.events {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) RawEvents() []*models.RawWebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RawWebhookEvent, 0, len(s.rawEvents))
	for _, e := range s.rawEvents {
		c := *e
		out = append(out, &c)
	}
	return out
}

type mailboxHealthRepository struct{ s *Store }

func (r *mailboxHealthRepository) GetByID(_ context.Context, id string) (*models.MailboxHealth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	mb, ok := r.s.mailboxes[id]
	if !ok {
		return nil, hserrors.ErrMailboxNotFound
	}
	return mb.Clone(), nil
}

func (r *mailboxHealthRepository) GetByEmail(_ context.Context, organizationID, email string) (*models.MailboxHealth, error) {
	email = utils.NormalizeEmail(email)
	found := r.filter(func(mb *models.MailboxHealth) bool {
		return mb.Active && mb.OrganizationID == organizationID && utils.NormalizeEmail(mb.Email) == email
	})
	if len(found) == 0 {
		return nil, hserrors.ErrMailboxNotFound
	}
	return found[0], nil
}

func (r *mailboxHealthRepository) Create(_ context.Context, mailbox *models.MailboxHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if mailbox.ID == "" {
		mailbox.ID = utils.GenerateNanoIDWithPrefix("mbox", 16)
	}
	if _, ok := r.s.mailboxes[mailbox.ID]; ok {
		return hserrors.ErrVersionConflict
	}
	if mailbox.Status == "" {
		mailbox.Status = enum.MailboxHealthy
	}
	if mailbox.RecoveryPhase == "" {
		mailbox.RecoveryPhase = enum.PhaseNone
	}
	if mailbox.Version == 0 {
		mailbox.Version = 1
	}
	now := utils.Now()
	mailbox.CreatedAt, mailbox.UpdatedAt = now, now
	r.s.mailboxes[mailbox.ID] = mailbox.Clone()
	return nil
}

func (r *mailboxHealthRepository) Update(_ context.Context, mailbox *models.MailboxHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.mailboxes[mailbox.ID]
	if !ok || current.Version != mailbox.Version {
		return hserrors.ErrVersionConflict
	}
	mailbox.Version++
	mailbox.UpdatedAt = utils.Now()
	r.s.mailboxes[mailbox.ID] = mailbox.Clone()
	return nil
}

func (r *mailboxHealthRepository) List(_ context.Context, organizationID string) ([]*models.MailboxHealth, error) {
	return r.filter(func(mb *models.MailboxHealth) bool {
		return mb.Active && (organizationID == "" || mb.OrganizationID == organizationID)
	}), nil
}

func (r *mailboxHealthRepository) ListByDomain(_ context.Context, domainID string) ([]*models.MailboxHealth, error) {
	return r.filter(func(mb *models.MailboxHealth) bool {
		return mb.Active && mb.DomainID == domainID
	}), nil
}

func (r *mailboxHealthRepository) ListInRecovery(_ context.Context) ([]*models.MailboxHealth, error) {
	return r.filter(func(mb *models.MailboxHealth) bool {
		return mb.Active && mb.RecoveryPhase.InRecovery() && mb.Status != enum.MailboxDisconnected
	}), nil
}

func (r *mailboxHealthRepository) ListGraceCandidates(_ context.Context, healthySince time.Time) ([]*models.MailboxHealth, error) {
	return r.filter(func(mb *models.MailboxHealth) bool {
		return mb.Active && mb.Status == enum.MailboxHealthy && mb.HealthySince != nil &&
			!mb.HealthySince.After(healthySince) && (mb.RelapseCount > 0 || mb.PauseCount > 0)
	}), nil
}

func (r *mailboxHealthRepository) filter(keep func(*models.MailboxHealth) bool) []*models.MailboxHealth {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.MailboxHealth
	for _, mb := range r.s.mailboxes {
		if keep(mb) {
			out = append(out, mb.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type mailboxConnectionRepository struct{ s *Store }

func (r *mailboxConnectionRepository) Get(_ context.Context, mailboxID string) (*models.MailboxConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.connections[mailboxID]
	if !ok {
		return nil, hserrors.ErrMailboxNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *mailboxConnectionRepository) Save(_ context.Context, connection *models.MailboxConnection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *connection
	r.s.connections[connection.MailboxID] = &cp
	return nil
}

func (r *mailboxConnectionRepository) List(_ context.Context) ([]*models.MailboxConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*models.MailboxConnection, 0, len(r.s.connections))
	for _, c := range r.s.connections {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MailboxID < out[j].MailboxID })
	return out, nil
}

type domainHealthRepository struct{ s *Store }

func (r *domainHealthRepository) GetByID(_ context.Context, id string) (*models.DomainHealth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.domains[id]
	if !ok {
		return nil, hserrors.ErrDomainNotFound
	}
	return d.Clone(), nil
}

func (r *domainHealthRepository) Create(_ context.Context, domain *models.DomainHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if domain.ID == "" {
		domain.ID = utils.GenerateNanoIDWithPrefix("dom", 16)
	}
	if _, ok := r.s.domains[domain.ID]; ok {
		return hserrors.ErrVersionConflict
	}
	if domain.Status == "" {
		domain.Status = enum.DomainHealthy
	}
	if domain.Version == 0 {
		domain.Version = 1
	}
	r.s.domains[domain.ID] = domain.Clone()
	return nil
}

func (r *domainHealthRepository) Update(_ context.Context, domain *models.DomainHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.domains[domain.ID]
	if !ok || current.Version != domain.Version {
		return hserrors.ErrVersionConflict
	}
	domain.Version++
	domain.UpdatedAt = utils.Now()
	r.s.domains[domain.ID] = domain.Clone()
	return nil
}

func (r *domainHealthRepository) List(_ context.Context, organizationID string) ([]*models.DomainHealth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.DomainHealth
	for _, d := range r.s.domains {
		if organizationID == "" || d.OrganizationID == organizationID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type campaignHealthRepository struct{ s *Store }

func (r *campaignHealthRepository) GetByID(_ context.Context, id string) (*models.CampaignHealth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, hserrors.ErrCampaignNotFound
	}
	return c.Clone(), nil
}

func (r *campaignHealthRepository) Create(_ context.Context, campaign *models.CampaignHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if campaign.ID == "" {
		campaign.ID = utils.GenerateNanoIDWithPrefix("camp", 16)
	}
	if _, ok := r.s.campaigns[campaign.ID]; ok {
		return hserrors.ErrVersionConflict
	}
	if campaign.Status == "" {
		campaign.Status = enum.CampaignActive
	}
	if campaign.Version == 0 {
		campaign.Version = 1
	}
	r.s.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

func (r *campaignHealthRepository) Update(_ context.Context, campaign *models.CampaignHealth) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.campaigns[campaign.ID]
	if !ok || current.Version != campaign.Version {
		return hserrors.ErrVersionConflict
	}
	campaign.Version++
	campaign.UpdatedAt = utils.Now()
	r.s.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

func (r *campaignHealthRepository) List(_ context.Context, organizationID string) ([]*models.CampaignHealth, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.CampaignHealth
	for _, c := range r.s.campaigns {
		if organizationID == "" || c.OrganizationID == organizationID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type campaignMailboxRepository struct{ s *Store }

func assignmentKey(campaignID, mailboxID string) string {
	return campaignID + "|" + mailboxID
}

func (r *campaignMailboxRepository) list(keep func(*models.CampaignMailbox) bool) []*models.CampaignMailbox {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.CampaignMailbox
	for _, a := range r.s.assignments {
		if a.Active && keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MailboxID != out[j].MailboxID {
			return out[i].MailboxID < out[j].MailboxID
		}
		return out[i].CampaignID < out[j].CampaignID
	})
	return out
}

func (r *campaignMailboxRepository) ListByCampaign(_ context.Context, campaignID string) ([]*models.CampaignMailbox, error) {
	return r.list(func(a *models.CampaignMailbox) bool { return a.CampaignID == campaignID }), nil
}

func (r *campaignMailboxRepository) ListByMailbox(_ context.Context, mailboxID string) ([]*models.CampaignMailbox, error) {
	return r.list(func(a *models.CampaignMailbox) bool { return a.MailboxID == mailboxID }), nil
}

func (r *campaignMailboxRepository) ListByMailboxes(_ context.Context, mailboxIDs []string) ([]*models.CampaignMailbox, error) {
	return r.list(func(a *models.CampaignMailbox) bool { return utils.IsStringInSlice(a.MailboxID, mailboxIDs) }), nil
}

func (r *campaignMailboxRepository) Assign(_ context.Context, assignment *models.CampaignMailbox) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *assignment
	cp.Active = true
	if cp.Weight == 0 {
		cp.Weight = 1
	}
	r.s.assignments[assignmentKey(cp.CampaignID, cp.MailboxID)] = &cp
	return nil
}

func (r *campaignMailboxRepository) Unassign(_ context.Context, campaignID, mailboxID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.assignments[assignmentKey(campaignID, mailboxID)]; ok {
		a.Active = false
	}
	return nil
}

func (r *campaignMailboxRepository) ReplaceForCampaign(_ context.Context, campaignID string, mailboxIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.CampaignID == campaignID {
			a.Active = false
		}
	}
	for _, mailboxID := range mailboxIDs {
		key := assignmentKey(campaignID, mailboxID)
		if a, ok := r.s.assignments[key]; ok {
			a.Active = true
			continue
		}
		r.s.assignments[key] = &models.CampaignMailbox{CampaignID: campaignID, MailboxID: mailboxID, Weight: 1, Active: true}
	}
	return nil
}

type deliveryEventRepository struct{ s *Store }

func (r *deliveryEventRepository) Create(_ context.Context, event *models.DeliveryEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := string(event.Provider) + "|" + event.ProviderEventID + "|" + event.MailboxID
	if _, ok := r.s.eventKeys[key]; ok {
		return false, nil
	}
	if event.ID == "" {
		event.ID = utils.GenerateNanoIDWithPrefix("dev", 16)
	}
	cp := *event
	r.s.events[event.ID] = &cp
	r.s.eventKeys[key] = event.ID
	return true, nil
}

func (r *deliveryEventRepository) GetByID(_ context.Context, id string) (*models.DeliveryEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, hserrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *deliveryEventRepository) ListRiskRelevant(_ context.Context, entityType enum.EntityType, entityID string, limit int) ([]*models.DeliveryEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.DeliveryEvent
	for _, e := range r.s.events {
		if e.ProcessedAt == nil || !e.RiskRelevant() {
			continue
		}
		var owner string
		switch entityType {
		case enum.MAILBOX:
			owner = e.MailboxID
		case enum.DOMAIN:
			owner = e.DomainID
		case enum.CAMPAIGN:
			owner = e.CampaignID
		}
		if owner == entityID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *deliveryEventRepository) CountSoftBounces(_ context.Context, mailboxID, recipient string, since time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var n int64
	for _, e := range r.s.events {
		if e.MailboxID == mailboxID && e.Recipient == recipient && e.Type == enum.EventSoftBounce && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *deliveryEventRepository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.events[id]; ok && e.ProcessedAt == nil {
		e.ProcessedAt = utils.TimePtr(at)
	}
	return nil
}

func (r *deliveryEventRepository) ListUnprocessed(_ context.Context, olderThan time.Time, limit int) ([]*models.DeliveryEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.DeliveryEvent
	for _, e := range r.s.events {
		if e.ProcessedAt == nil && !e.ReceivedAt.After(olderThan) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type rawWebhookEventRepository struct{ s *Store }

func (r *rawWebhookEventRepository) Create(_ context.Context, event *models.RawWebhookEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = utils.GenerateNanoIDWithPrefix("raw", 16)
	}
	cp := *event
	r.s.rawEvents[event.ID] = &cp
	return nil
}

func (r *rawWebhookEventRepository) MarkError(_ context.Context, id string, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.rawEvents[id]; ok {
		e.Error = errMsg
	}
	return nil
}

func (r *rawWebhookEventRepository) SetArchivedKey(_ context.Context, id string, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.rawEvents[id]; ok {
		e.ArchivedKey = key
	}
	return nil
}

func (r *rawWebhookEventRepository) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.rawEvents {
		if e.ReceivedAt.Before(before) {
			delete(r.s.rawEvents, id)
			n++
		}
	}
	return n, nil
}

type auditRepository struct{ s *Store }

func (r *auditRepository) Append(_ context.Context, event *models.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if event.ID == "" {
		event.ID = utils.GenerateNanoIDWithPrefix("aud", 16)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = utils.Now()
	}
	cp := *event
	r.s.audit = append(r.s.audit, &cp)
	return nil
}

func (r *auditRepository) List(_ context.Context, filter interfaces.AuditFilter) ([]*models.AuditEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []*models.AuditEvent
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.audit[i]
		if e.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

type suggestionRepository struct{ s *Store }

func (r *suggestionRepository) ReplacePending(_ context.Context, organizationID string, suggestions []*models.LoadBalancingSuggestion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.suggestions {
		if existing.OrganizationID == organizationID && existing.Status == enum.SuggestionPending {
			existing.Status = enum.SuggestionDismissed
		}
	}
	for _, suggestion := range suggestions {
		if suggestion.ID == "" {
			suggestion.ID = utils.GenerateNanoIDWithPrefix("lbs", 16)
		}
		if suggestion.Status == "" {
			suggestion.Status = enum.SuggestionPending
		}
		if suggestion.CreatedAt.IsZero() {
			suggestion.CreatedAt = utils.Now()
		}
		cp := *suggestion
		r.s.suggestions[suggestion.ID] = &cp
	}
	return nil
}

func (r *suggestionRepository) GetByID(_ context.Context, id string) (*models.LoadBalancingSuggestion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	s, ok := r.s.suggestions[id]
	if !ok {
		return nil, hserrors.ErrSuggestionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *suggestionRepository) List(_ context.Context, organizationID string, status enum.SuggestionStatus) ([]*models.LoadBalancingSuggestion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.LoadBalancingSuggestion
	for _, s := range r.s.suggestions {
		if s.OrganizationID == organizationID && (status == "" || s.Status == status) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *suggestionRepository) MarkApplied(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.suggestions[id]
	if !ok {
		return hserrors.ErrSuggestionNotFound
	}
	if s.Status != enum.SuggestionPending {
		return hserrors.ErrSuggestionApplied
	}
	s.Status = enum.SuggestionApplied
	s.AppliedAt = utils.TimePtr(at)
	return nil
}
