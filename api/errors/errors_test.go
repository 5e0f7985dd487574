package errors

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	hserrors "github.com/superkabe/healthstack/errors"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errors.Wrap(hserrors.ErrUnknownProvider, "provider \"foo\""), http.StatusNotFound},
		{errors.Wrap(hserrors.ErrInvalidSignature, "smartlead"), http.StatusUnauthorized},
		{hserrors.ErrInvalidOrganization, http.StatusBadRequest},
		{errors.Wrap(hserrors.ErrMailboxNotFound, "mbox_1"), http.StatusNotFound},
		{hserrors.ErrSuggestionApplied, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}

func TestMultiErrors(t *testing.T) {
	multi := NewMultiErrors()
	assert.False(t, multi.HasErrors())

	multi.Add("mailboxId", "is required", nil)
	assert.True(t, multi.HasErrors())
	assert.Equal(t, "mailboxId: is required", multi.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(multi))
}
