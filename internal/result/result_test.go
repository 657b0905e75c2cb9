package result

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOkAndErr(t *testing.T) {
	ok := Ok("c1")
	require.True(t, ok.IsOk())
	assert.False(t, ok.IsErr())
	assert.Equal(t, "c1", ok.Value())
	assert.Nil(t, ok.Error())

	failed := Err[string](NewError(ErrorTypeConnectorNotFound, "Connector not found"))
	require.True(t, failed.IsErr())
	assert.Equal(t, ErrorTypeConnectorNotFound, failed.Error().Type)
	assert.Panics(t, func() { failed.Value() })
}

func TestErrWithNilIsStillAFailure(t *testing.T) {
	r := Err[Void](nil)
	require.True(t, r.IsErr())
	assert.Equal(t, ErrorTypeInternalServerError, r.Error().Type)
}

func TestAndThenShortCircuits(t *testing.T) {
	called := false
	r := AndThen(Err[string](NewError(ErrorTypeConnectorNotFound, "missing")), func(string) Result[int] {
		called = true
		return Ok(1)
	})

	assert.False(t, called)
	require.True(t, r.IsErr())
	assert.Equal(t, "missing", r.Error().Message)

	r = AndThen(Ok("abc"), func(s string) Result[int] { return Ok(len(s)) })
	require.True(t, r.IsOk())
	assert.Equal(t, 3, r.Value())
}

func TestMapAndMapErr(t *testing.T) {
	assert.Equal(t, 4, Map(Ok(2), func(v int) int { return v * 2 }).Value())

	r := MapErr(Err[int](NewError(ErrorTypeProviderError, "timeout")), func(e *Error) *Error {
		return NewError(ErrorTypeInternalServerError, e.Message)
	})
	assert.Equal(t, ErrorTypeInternalServerError, r.Error().Type)
	assert.Equal(t, "timeout", r.Error().Message)
}

func TestWrapKeepsCause(t *testing.T) {
	sentinel := errors.New("unknown provider")
	e := Wrap(ErrorTypeInternalServerError, sentinel, "no behaviors registered for github")

	assert.ErrorIs(t, e, sentinel)
	assert.Equal(t, "internal_server_error: no behaviors registered for github", e.Error())
}

func TestErrorJSONShape(t *testing.T) {
	b, err := json.Marshal(Wrap(ErrorTypeConnectorNotFound, errors.New("hidden"), "Connector not found"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connector_not_found","message":"Connector not found"}`, string(b))
}

func TestOutcomeUnknown(t *testing.T) {
	assert.True(t, NewError(ErrorTypeTransportFailure, "connection refused").OutcomeUnknown())
	assert.False(t, NewError(ErrorTypeConnectorNotFound, "missing").OutcomeUnknown())

	var nilErr *Error
	assert.False(t, nilErr.OutcomeUnknown())
}
