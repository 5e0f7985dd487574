package enum

type DeliveryEventType string

const (
	EventSent            DeliveryEventType = "sent"
	EventOpened          DeliveryEventType = "opened"
	EventClicked         DeliveryEventType = "clicked"
	EventReplied         DeliveryEventType = "replied"
	EventHardBounce      DeliveryEventType = "hard_bounce"
	EventSoftBounce      DeliveryEventType = "soft_bounce"
	EventComplaint       DeliveryEventType = "complaint"
	EventUnsubscribed    DeliveryEventType = "unsubscribed"
	EventDeliveryFailure DeliveryEventType = "delivery_failure"
)

func (t DeliveryEventType) String() string {
	return string(t)
}

func (t DeliveryEventType) IsBounce() bool {
	switch t {
	case EventHardBounce, EventSoftBounce, EventComplaint, EventDeliveryFailure:
		return true
	}
	return false
}

type Provider string

const (
	ProviderSmartlead Provider = "smartlead"
	ProviderInstantly Provider = "instantly"
	ProviderGeneric   Provider = "generic"
)

func (p Provider) String() string {
	return string(p)
}

type SignatureState string

const (
	SignatureVerified        SignatureState = "verified"
	SignatureUnsigned        SignatureState = "unsigned"
	SignatureInvalidAccepted SignatureState = "invalid_accepted"
)
