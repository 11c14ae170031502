package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersInstrumentsAndServesScrapeEndpoint(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	m.DirectorySets.Add(context.Background(), 1)
	m.FilerLockWaitDuration.Record(context.Background(), 1.5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "bhdir_directory_sets")
}
