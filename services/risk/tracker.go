package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/singleflight"

	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/internal/enum"
	"github.com/superkabe/healthstack/internal/logger"
	"github.com/superkabe/healthstack/internal/models"
	"github.com/superkabe/healthstack/internal/tracing"
	"github.com/superkabe/healthstack/internal/utils"
)

type Key struct {
	Type enum.EntityType
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

// Tracker holds sliding windows in memory, hydrated from processed delivery
// events on first touch. It never changes health status.
type Tracker struct {
	mu         sync.Mutex
	log        logger.Logger
	thresholds Thresholds
	events     interfaces.DeliveryEventRepository
	mailboxes  map[string]*MailboxWindows
	aggregates map[Key]*Window
	// replay ignores mailbox events older than the last window reset
	resetAt   map[string]time.Time
	// ids of the events pushed by this process, newest last, bounded by the pause window
	applied   map[string][]string
	hydration singleflight.Group
}

func NewTracker(log logger.Logger, thresholds Thresholds, events interfaces.DeliveryEventRepository) *Tracker {
	return &Tracker{
		log:        log,
		thresholds: thresholds,
		events:     events,
		mailboxes:  make(map[string]*MailboxWindows),
		aggregates: make(map[Key]*Window),
		resetAt:    make(map[string]time.Time),
		applied:    make(map[string][]string),
	}
}

func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// Observe pushes one canonical event into the mailbox, domain and campaign windows.
// It reports whether the event entered any window.
func (t *Tracker) Observe(ctx context.Context, event *models.DeliveryEvent) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.Observe")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, event.MailboxID)

	weight, ok := t.thresholds.Weight(event.Type, event.CountsTowardRisk, event.RiskWeight)
	if !ok {
		return false, nil
	}

	mailbox, err := t.mailboxWindows(ctx, event.MailboxID)
	if err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	var domain, campaign *Window
	if event.DomainID != "" {
		if domain, err = t.aggregate(ctx, Key{Type: enum.DOMAIN, ID: event.DomainID}); err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
	}
	if event.CampaignID != "" {
		if campaign, err = t.aggregate(ctx, Key{Type: enum.CAMPAIGN, ID: event.CampaignID}); err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	mailbox.PushWeighted(weight)
	if domain != nil {
		domain.PushWeighted(weight)
	}
	if campaign != nil {
		campaign.PushWeighted(weight)
	}
	if event.ID != "" {
		ids := append(t.applied[event.MailboxID], event.ID)
		if len(ids) > t.thresholds.PauseWindow {
			ids = ids[len(ids)-t.thresholds.PauseWindow:]
		}
		t.applied[event.MailboxID] = ids
	}
	span.LogKV("weight", weight, "pauseBounces", mailbox.Pause.Bounces(), "pauseSent", mailbox.Pause.Sent())
	return true, nil
}

// EvaluateMailbox checks the mailbox windows; untouched mailboxes are not evaluable.
func (t *Tracker) EvaluateMailbox(mailboxID string, recoveryContext bool) Evaluation {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.mailboxes[mailboxID]
	if !ok {
		w = NewMailboxWindows(t.thresholds)
	}
	return t.thresholds.Evaluate(w, recoveryContext)
}

// MailboxCounts returns (sent, weighted bounces) of the pause window.
func (t *Tracker) MailboxCounts(mailboxID string) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.mailboxes[mailboxID]
	if !ok {
		return 0, 0
	}
	return w.Pause.Sent(), w.Pause.Bounces()
}

// AggregateCounts returns (sent, bounced entries) of a domain or campaign window.
func (t *Tracker) AggregateCounts(key Key) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.aggregates[key]
	if !ok {
		return 0, 0
	}
	return w.Sent(), w.BouncedEntries()
}

// SetWindowStart restores a persisted reset point before the mailbox is hydrated.
func (t *Tracker) SetWindowStart(mailboxID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.resetAt[mailboxID]; !ok || at.After(current) {
		t.resetAt[mailboxID] = at
	}
}

// ResetMailbox clears the windows so a new recovery cycle starts from an empty sample.
func (t *Tracker) ResetMailbox(mailboxID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetAt[mailboxID] = at
	if w, ok := t.mailboxes[mailboxID]; ok {
		w.Reset()
		return
	}
	t.mailboxes[mailboxID] = NewMailboxWindows(t.thresholds)
}

func (t *Tracker) ResetAggregate(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aggregates[key] = NewWindow(t.thresholds.AggregateWindow)
}

// Forget drops a mailbox so the next touch hydrates again.
func (t *Tracker) Forget(mailboxID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mailboxes, mailboxID)
	delete(t.applied, mailboxID)
}

// Applied reports whether this process already pushed the event into the windows.
func (t *Tracker) Applied(event *models.DeliveryEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return utils.IsStringInSlice(event.ID, t.applied[event.MailboxID])
}

// Discard drops every window the event entered. The next touch hydrates from
// processed events only, so an event whose processing failed is counted once
// when it is delivered again.
func (t *Tracker) Discard(event *models.DeliveryEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mailboxes, event.MailboxID)
	delete(t.applied, event.MailboxID)
	if event.DomainID != "" {
		delete(t.aggregates, Key{Type: enum.DOMAIN, ID: event.DomainID})
	}
	if event.CampaignID != "" {
		delete(t.aggregates, Key{Type: enum.CAMPAIGN, ID: event.CampaignID})
	}
}

func (t *Tracker) mailboxWindows(ctx context.Context, mailboxID string) (*MailboxWindows, error) {
	t.mu.Lock()
	w, ok := t.mailboxes[mailboxID]
	t.mu.Unlock()
	if ok {
		return w, nil
	}

	key := Key{Type: enum.MAILBOX, ID: mailboxID}
	v, err, _ := t.hydration.Do(key.String(), func() (interface{}, error) {
		weights, err := t.replay(ctx, key, t.thresholds.PauseWindow)
		if err != nil {
			return nil, err
		}
		hydrated := NewMailboxWindows(t.thresholds)
		for _, weight := range weights {
			hydrated.PushWeighted(weight)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.mailboxes[mailboxID]; ok {
			return existing, nil
		}
		t.mailboxes[mailboxID] = hydrated
		return hydrated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MailboxWindows), nil
}

func (t *Tracker) aggregate(ctx context.Context, key Key) (*Window, error) {
	t.mu.Lock()
	w, ok := t.aggregates[key]
	t.mu.Unlock()
	if ok {
		return w, nil
	}

	v, err, _ := t.hydration.Do(key.String(), func() (interface{}, error) {
		weights, err := t.replay(ctx, key, t.thresholds.AggregateWindow)
		if err != nil {
			return nil, err
		}
		hydrated := NewWindow(t.thresholds.AggregateWindow)
		for _, weight := range weights {
			hydrated.PushWeighted(weight)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if existing, ok := t.aggregates[key]; ok {
			return existing, nil
		}
		t.aggregates[key] = hydrated
		return hydrated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Window), nil
}

// replay loads the newest processed events and returns their weights oldest first.
func (t *Tracker) replay(ctx context.Context, key Key, limit int) ([]int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Tracker.replay")
	defer span.Finish()
	tracing.TagEntityType(span, key.Type.String())
	tracing.TagEntity(span, key.ID)

	if t.events == nil {
		return nil, nil
	}
	events, err := t.events.ListRiskRelevant(ctx, key.Type, key.ID, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	var since time.Time
	if key.Type == enum.MAILBOX {
		t.mu.Lock()
		since = t.resetAt[key.ID]
		t.mu.Unlock()
	}
	weights := make([]int, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.OccurredAt.Before(since) {
			continue
		}
		if weight, ok := t.thresholds.Weight(e.Type, e.CountsTowardRisk, e.RiskWeight); ok {
			weights = append(weights, weight)
		}
	}
	span.LogKV("replayed", len(weights))
	if len(weights) > 0 {
		t.log.Debugf("Hydrated %s window from %d events", key, len(weights))
	}
	return weights, nil
}
