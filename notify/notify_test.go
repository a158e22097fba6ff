package notify

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.Out = ioutil.Discard
	return logger
}

func TestSendPostsEmbed(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := ioutil.ReadAll(r.Body)
		require.Nil(t, err)
		body = string(raw)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := NewWebhook(testLogger(), server.URL, "sensor-1")
	require.Nil(t, webhook.send(SeverityWarning, "quota exceeded"))

	assert.Contains(t, body, `"username":"sensor-1"`)
	assert.Contains(t, body, `"description":"quota exceeded"`)
	assert.Contains(t, body, `"color":15548997`)
}

func TestSendUnknownSeverityFallsBackToInfoColor(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := ioutil.ReadAll(r.Body)
		body = string(raw)
	}))
	defer server.Close()

	webhook := NewWebhook(testLogger(), server.URL, "")
	require.Nil(t, webhook.send(42, "hello"))

	assert.Contains(t, body, `"color":3447003`)
	assert.False(t, strings.Contains(body, `"username"`), "empty username is omitted")
}

func TestSendReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	webhook := NewWebhook(testLogger(), server.URL, "")
	err := webhook.send(SeverityInfo, "hello")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "400")
}
