package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfihub/internal/cfi/client"
	"github.com/dropDatabas3/cfihub/internal/domain/repository"
	"github.com/dropDatabas3/cfihub/internal/tenant"
)

func TestFromError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{client.ErrTokenRequired, http.StatusUnauthorized, "SESSION_EXPIRED"},
		{&client.Error{Kind: client.KindClient, Status: 401}, http.StatusUnauthorized, "SESSION_EXPIRED"},
		{&client.Error{Kind: client.KindServer, Status: 500}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{&client.Error{Kind: client.KindTransport}, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("switch: %w", tenant.ErrAccessDenied), http.StatusForbidden, "FORBIDDEN"},
		{tenant.ErrNoTenant, http.StatusBadRequest, "NO_TENANT"},
		{fmt.Errorf("%w: count", repository.ErrInvalidInput), http.StatusBadRequest, "BAD_REQUEST"},
		{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		require.Equal(t, tc.status, got.HTTPStatus, tc.err.Error())
		require.Equal(t, tc.code, got.Code, tc.err.Error())
	}
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "rid-1")
	WriteError(rec, ErrBadRequest.WithDetail("idDivision is required"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "BAD_REQUEST", body["code"])
	require.Equal(t, "idDivision is required", body["detail"])
	require.Equal(t, "rid-1", body["request_id"])
}
