package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColourStatus(t *testing.T) {
	tests := []struct {
		status int
		color  string
	}{
		{http.StatusOK, green},
		{http.StatusSeeOther, cyan},
		{http.StatusUnauthorized, yellow},
		{http.StatusBadGateway, red},
	}
	for _, tt := range tests {
		require.Equal(t, tt.color+strconv.Itoa(tt.status)+resetColor, colourStatus(tt.status))
	}
}

func TestColourMethod_UnknownIsGray(t *testing.T) {
	require.Equal(t, gray+" PUT    "+resetColor, colourMethod(http.MethodPut))
	require.Equal(t, green+" GET    "+resetColor, colourMethod(http.MethodGet))
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	recorder := &statusRecorder{ResponseWriter: rec}
	_, err := recorder.Write([]byte("ok"))
	require.NoError(t, err)
	recorder.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusOK, recorder.status)

	_, _, err = recorder.Hijack()
	require.Error(t, err)
	require.Same(t, rec, recorder.Unwrap())
}
