package httptransport

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewServerAppliesConfig(t *testing.T) {
	handler := http.NotFoundHandler()
	srv := NewServer(DefaultServerConfig(":8080"), handler)

	require.Equal(t, ":8080", srv.Addr)
	require.Equal(t, 5*time.Second, srv.ReadTimeout)
	require.Equal(t, 2*time.Second, srv.ReadHeaderTimeout)
	require.Equal(t, 10*time.Second, srv.WriteTimeout)
	require.Equal(t, 60*time.Second, srv.IdleTimeout)
	require.NotNil(t, srv.Handler)
}
