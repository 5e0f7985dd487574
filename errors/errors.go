package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrTenantMissing     = errors.New("tenant is missing")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrVersionConflict   = errors.New("concurrent modification, record version changed")
	ErrNotFound          = errors.New("record not found")

	// ingestion errors
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrInvalidOrganization  = errors.New("invalid or missing organization id")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
	ErrInvalidSignature     = errors.New("webhook signature mismatch")
	ErrMissingWebhookSecret = errors.New("webhook secret not configured")
	ErrUnknownMailbox       = errors.New("mailbox not registered")

	// entity errors
	ErrMailboxNotFound    = errors.New("mailbox not found")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrSuggestionNotFound = errors.New("suggestion not found")
	ErrSuggestionApplied  = errors.New("suggestion already applied")
	ErrInvalidMailbox     = errors.New("invalid mailbox")

	// provider errors
	ErrProviderCommandFailed = errors.New("provider command failed")
	ErrLockNotAcquired       = errors.New("lock not acquired")
)
