package errors

import (
	"net/http"

	"github.com/pkg/errors"

	hserrors "github.com/superkabe/healthstack/errors"
)

// HTTPStatus maps engine and ingestion errors to response codes. Unknown errors are 500.
func HTTPStatus(err error) int {
	var multi *MultiErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &multi):
		return http.StatusBadRequest
	case errors.Is(err, hserrors.ErrUnknownProvider),
		errors.Is(err, hserrors.ErrNotFound),
		errors.Is(err, hserrors.ErrMailboxNotFound),
		errors.Is(err, hserrors.ErrDomainNotFound),
		errors.Is(err, hserrors.ErrCampaignNotFound),
		errors.Is(err, hserrors.ErrSuggestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, hserrors.ErrInvalidSignature),
		errors.Is(err, hserrors.ErrMissingWebhookSecret):
		return http.StatusUnauthorized
	case errors.Is(err, hserrors.ErrInvalidOrganization),
		errors.Is(err, hserrors.ErrMalformedPayload),
		errors.Is(err, hserrors.ErrInvalidMailbox),
		errors.Is(err, hserrors.ErrTenantMissing):
		return http.StatusBadRequest
	case errors.Is(err, hserrors.ErrVersionConflict),
		errors.Is(err, hserrors.ErrSuggestionApplied):
		return http.StatusConflict
	case errors.Is(err, hserrors.ErrLockNotAcquired):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
