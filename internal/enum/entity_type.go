package enum

type EntityType string

const (
	MAILBOX        EntityType = "mailbox"
	DOMAIN         EntityType = "domain"
	CAMPAIGN       EntityType = "campaign"
	DELIVERY_EVENT EntityType = "delivery_event"
)

func (e EntityType) String() string {
	return string(e)
}
