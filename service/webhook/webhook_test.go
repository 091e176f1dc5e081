package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-face/service/config"
)

func withURL(u string) config.IService {
	return config.NewHardCoded(func(s *config.Settings) {
		s.Share.WebhookURL = u
	})
}

func TestHTTPPost(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewHTTP(withURL(srv.URL)).Post(map[string]interface{}{"id": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", (<-received)["id"])
}

func TestHTTPPostErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewHTTP(withURL(srv.URL)).Post(map[string]interface{}{})
	assert.Error(t, err)
}

func TestHTTPPostDisabled(t *testing.T) {
	assert.NoError(t, NewHTTP(withURL("")).Post(map[string]interface{}{"id": "abc"}))
}
