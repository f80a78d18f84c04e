package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryRegistersUnknownSubject(t *testing.T) {
	var registered map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/attendance_closed-value/versions/latest":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/attendance_closed-value/versions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			_, _ = w.Write([]byte(`{"id":17}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "attendance_closed-value", attendanceClosedSchema)
	require.NoError(t, err)
	require.Equal(t, 17, id)
	require.Equal(t, "JSON", registered["schemaType"])
	require.Equal(t, attendanceClosedSchema, registered["schema"])
}

func TestSchemaRegistryReturnsLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id":5,"version":3}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "attendance_checked_in-value", attendanceCheckedInSchema)
	require.NoError(t, err)
	require.Equal(t, 5, id)
}

func TestSchemaRegistryDoesNotRegisterOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "attendance_closed-value", attendanceClosedSchema)
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
