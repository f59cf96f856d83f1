package ierrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := Validation("bad team name %q", "??")
	wrapped := errors.Join(errors.New("context"), err)

	assert.True(t, Is(wrapped, KindValidation))
	assert.False(t, Is(wrapped, KindTimeout))
}

func TestHTTPStatus_MapsEachKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("x")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(Configuration("x")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(Process(errors.New("boom"), "x")))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(Timeout("x")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(InvalidState("x")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(PoolFull("frontend→backend")))
}

func TestHTTPStatus_UntypedErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestProcess_UnwrapsUnderlyingError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Process(cause, "child exited")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exit status 1")
}
