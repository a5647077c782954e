package adapter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rat-data/rat/platform/internal/adapter"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIAdapter_FetchesJSONObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"a": 1})
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL}, adapter.Dependencies{})
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, float64(1), records[0].Data["a"])
}

func TestAPIAdapter_FetchesJSONArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{{"a": 1}, {"a": 2}})
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL}, adapter.Dependencies{})
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestAPIAdapter_RetriesOnServiceUnavailable(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL}, adapter.Dependencies{})
	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, attempts)
}

func TestAPIAdapter_FailsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL}, adapter.Dependencies{})
	_, err := a.Fetch(context.Background())
	require.Error(t, err)
	var adapterErr *domain.AdapterError
	assert.ErrorAs(t, err, &adapterErr)
}

func TestAPIAdapter_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL, BearerToken: "secret"}, adapter.Dependencies{})
	_, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestAPIAdapter_RejectsUnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"just a string"`))
	}))
	defer srv.Close()

	a := adapter.NewAPIAdapter(domain.APISourceConfig{URL: srv.URL}, adapter.Dependencies{})
	_, err := a.Fetch(context.Background())
	assert.Error(t, err)
}
