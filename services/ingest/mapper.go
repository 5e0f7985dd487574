package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	hserrors "github.com/superkabe/healthstack/errors"
	"github.com/superkabe/healthstack/internal/enum"
)

// eventBounce marks a bounce the provider did not classify.
const eventBounce enum.DeliveryEventType = "bounce"

// CanonicalEvent is what a provider mapper extracts from one payload item,
// before classification and mailbox resolution.
type CanonicalEvent struct {
	ProviderEventID string
	RawType         string
	Type            enum.DeliveryEventType
	MailboxID       string
	MailboxEmail    string
	CampaignID      string
	Recipient       string
	BounceCode      string
	BounceMessage   string
	RawMessage      string
	OccurredAt      time.Time
}

type Mapper interface {
	Provider() enum.Provider
	Map(body []byte) ([]*CanonicalEvent, error)
}

func DefaultMappers() map[enum.Provider]Mapper {
	mappers := []Mapper{smartleadMapper{}, instantlyMapper{}, genericMapper{}}
	out := make(map[enum.Provider]Mapper, len(mappers))
	for _, m := range mappers {
		out[m.Provider()] = m
	}
	return out
}

// flexString accepts JSON strings and numbers; providers send numeric campaign ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts RFC3339 strings and unix seconds or milliseconds.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var raw flexString
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	s := string(raw)
	if s == "" {
		*f = flexTime(time.Time{})
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			*f = flexTime(time.UnixMilli(n).UTC())
		} else {
			*f = flexTime(time.Unix(n, 0).UTC())
		}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			*f = flexTime(t.UTC())
			return nil
		}
	}
	return errors.Errorf("unsupported timestamp %q", s)
}

func (f flexTime) Time() time.Time {
	return time.Time(f)
}

// decodeItems accepts a single JSON object or an array of objects.
func decodeItems[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.Wrap(hserrors.ErrMalformedPayload, "empty body")
	}
	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, errors.Wrap(hserrors.ErrMalformedPayload, err.Error())
		}
		if len(items) == 0 {
			return nil, errors.Wrap(hserrors.ErrMalformedPayload, "empty event batch")
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, errors.Wrap(hserrors.ErrMalformedPayload, err.Error())
	}
	return []T{item}, nil
}

// fallbackEventID is stable across provider retries of the same payload item.
func fallbackEventID(provider enum.Provider, ev *CanonicalEvent) string {
	h := sha256.New()
	for _, part := range []string{
		string(provider), ev.RawType, ev.MailboxID, ev.MailboxEmail, ev.CampaignID, ev.Recipient,
		ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))[:40]
}

func finish(provider enum.Provider, ev *CanonicalEvent) (*CanonicalEvent, error) {
	if ev.MailboxID == "" && ev.MailboxEmail == "" {
		return nil, errors.Wrapf(hserrors.ErrMalformedPayload, "%s event %q carries no sending mailbox", provider, ev.RawType)
	}
	ev.MailboxEmail = strings.TrimSpace(ev.MailboxEmail)
	ev.Recipient = strings.TrimSpace(ev.Recipient)
	if ev.ProviderEventID == "" {
		ev.ProviderEventID = fallbackEventID(provider, ev)
	}
	return ev, nil
}

type smartleadPayload struct {
	EventType      string     `json:"event_type"`
	EventID        flexString `json:"event_id"`
	MessageID      string     `json:"message_id"`
	CampaignID     flexString `json:"campaign_id"`
	FromEmail      string     `json:"from_email"`
	ToEmail        string     `json:"to_email"`
	EventTimestamp flexTime   `json:"event_timestamp"`
	BounceType     string     `json:"bounce_type"`
	BounceCode     string     `json:"bounce_code"`
	BounceReason   string     `json:"bounce_reason"`
	RawMessage     string     `json:"raw_message"`
}

var smartleadTypes = map[string]enum.DeliveryEventType{
	"email_sent":           enum.EventSent,
	"email_opened":         enum.EventOpened,
	"email_open":           enum.EventOpened,
	"email_link_click":     enum.EventClicked,
	"email_replied":        enum.EventReplied,
	"email_reply":          enum.EventReplied,
	"lead_unsubscribed":    enum.EventUnsubscribed,
	"email_spam_complaint": enum.EventComplaint,
	"email_bounce":         eventBounce,
	"hard_bounce":          enum.EventHardBounce,
	"soft_bounce":          enum.EventSoftBounce,
	"delivery_failure":     enum.EventDeliveryFailure,
}

type smartleadMapper struct{}

func (smartleadMapper) Provider() enum.Provider {
	return enum.ProviderSmartlead
}

func (m smartleadMapper) Map(body []byte) ([]*CanonicalEvent, error) {
	items, err := decodeItems[smartleadPayload](body)
	if err != nil {
		return nil, err
	}
	out := make([]*CanonicalEvent, 0, len(items))
	for _, p := range items {
		rawType := strings.ToLower(strings.TrimSpace(p.EventType))
		eventType, ok := smartleadTypes[rawType]
		if !ok {
			return nil, errors.Wrapf(hserrors.ErrMalformedPayload, "unsupported smartlead event type %q", p.EventType)
		}
		if eventType == eventBounce {
			eventType = explicitBounceType(p.BounceType)
		}
		id := string(p.EventID)
		if id == "" && p.MessageID != "" {
			id = p.MessageID + ":" + rawType
		}
		ev, err := finish(m.Provider(), &CanonicalEvent{
			ProviderEventID: id,
			RawType:         rawType,
			Type:            eventType,
			MailboxEmail:    p.FromEmail,
			CampaignID:      string(p.CampaignID),
			Recipient:       p.ToEmail,
			BounceCode:      p.BounceCode,
			BounceMessage:   p.BounceReason,
			RawMessage:      p.RawMessage,
			OccurredAt:      p.EventTimestamp.Time(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

type instantlyPayload struct {
	EventType    string     `json:"event_type"`
	ID           flexString `json:"id"`
	EmailID      flexString `json:"email_id"`
	Timestamp    flexTime   `json:"timestamp"`
	CampaignID   flexString `json:"campaign_id"`
	EmailAccount string     `json:"email_account"`
	LeadEmail    string     `json:"lead_email"`
	BounceType   string     `json:"bounce_type"`
	BounceCode   string     `json:"bounce_code"`
	ErrorMessage string     `json:"error_message"`
	RawMessage   string     `json:"raw_message"`
}

var instantlyTypes = map[string]enum.DeliveryEventType{
	"email_sent":         enum.EventSent,
	"email_opened":       enum.EventOpened,
	"email_clicked":      enum.EventClicked,
	"email_link_clicked": enum.EventClicked,
	"email_replied":      enum.EventReplied,
	"reply_received":     enum.EventReplied,
	"email_bounced":      eventBounce,
	"email_unsubscribed": enum.EventUnsubscribed,
	"lead_unsubscribed":  enum.EventUnsubscribed,
	"email_complaint":    enum.EventComplaint,
}

type instantlyMapper struct{}

func (instantlyMapper) Provider() enum.Provider {
	return enum.ProviderInstantly
}

func (m instantlyMapper) Map(body []byte) ([]*CanonicalEvent, error) {
	items, err := decodeItems[instantlyPayload](body)
	if err != nil {
		return nil, err
	}
	out := make([]*CanonicalEvent, 0, len(items))
	for _, p := range items {
		rawType := strings.ToLower(strings.TrimSpace(p.EventType))
		eventType, ok := instantlyTypes[rawType]
		if !ok {
			return nil, errors.Wrapf(hserrors.ErrMalformedPayload, "unsupported instantly event type %q", p.EventType)
		}
		if eventType == eventBounce {
			eventType = explicitBounceType(p.BounceType)
		}
		id := string(p.ID)
		if id == "" && p.EmailID != "" {
			id = string(p.EmailID) + ":" + rawType
		}
		ev, err := finish(m.Provider(), &CanonicalEvent{
			ProviderEventID: id,
			RawType:         rawType,
			Type:            eventType,
			MailboxEmail:    p.EmailAccount,
			CampaignID:      string(p.CampaignID),
			Recipient:       p.LeadEmail,
			BounceCode:      p.BounceCode,
			BounceMessage:   p.ErrorMessage,
			RawMessage:      p.RawMessage,
			OccurredAt:      p.Timestamp.Time(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

type genericPayload struct {
	EventID       flexString `json:"event_id"`
	Type          string     `json:"type"`
	MailboxID     string     `json:"mailbox_id"`
	MailboxEmail  string     `json:"mailbox_email"`
	CampaignID    flexString `json:"campaign_id"`
	Recipient     string     `json:"recipient"`
	OccurredAt    flexTime   `json:"occurred_at"`
	BounceCode    string     `json:"bounce_code"`
	BounceMessage string     `json:"bounce_message"`
	RawMessage    string     `json:"raw_message"`
}

var genericTypes = map[enum.DeliveryEventType]bool{
	enum.EventSent:            true,
	enum.EventOpened:          true,
	enum.EventClicked:         true,
	enum.EventReplied:         true,
	enum.EventHardBounce:      true,
	enum.EventSoftBounce:      true,
	enum.EventComplaint:       true,
	enum.EventUnsubscribed:    true,
	enum.EventDeliveryFailure: true,
	eventBounce:               true,
}

// genericMapper takes the canonical vocabulary as is.
type genericMapper struct{}

func (genericMapper) Provider() enum.Provider {
	return enum.ProviderGeneric
}

func (m genericMapper) Map(body []byte) ([]*CanonicalEvent, error) {
	items, err := decodeItems[genericPayload](body)
	if err != nil {
		return nil, err
	}
	out := make([]*CanonicalEvent, 0, len(items))
	for _, p := range items {
		eventType := enum.DeliveryEventType(strings.ToLower(strings.TrimSpace(p.Type)))
		if !genericTypes[eventType] {
			return nil, errors.Wrapf(hserrors.ErrMalformedPayload, "unsupported event type %q", p.Type)
		}
		ev, err := finish(m.Provider(), &CanonicalEvent{
			ProviderEventID: string(p.EventID),
			RawType:         string(eventType),
			Type:            eventType,
			MailboxID:       p.MailboxID,
			MailboxEmail:    p.MailboxEmail,
			CampaignID:      string(p.CampaignID),
			Recipient:       p.Recipient,
			BounceCode:      p.BounceCode,
			BounceMessage:   p.BounceMessage,
			RawMessage:      p.RawMessage,
			OccurredAt:      p.OccurredAt.Time(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func explicitBounceType(bounceType string) enum.DeliveryEventType {
	switch strings.ToLower(strings.TrimSpace(bounceType)) {
	case "hard", "hard_bounce", "permanent":
		return enum.EventHardBounce
	case "soft", "soft_bounce", "transient", "temporary":
		return enum.EventSoftBounce
	}
	return eventBounce
}
