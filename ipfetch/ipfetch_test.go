package ipfetch

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.Out = ioutil.Discard
	return logger
}

//newLoopbackFetcher points both family clients at the test server, since
//httptest only listens on loopback
func newLoopbackFetcher(url string, ipv6Enabled bool) *Fetcher {
	fetcher := NewFetcher(testLogger(), url, ipv6Enabled, time.Hour)
	fetcher.clientV4 = http.DefaultClient
	fetcher.clientV6 = http.DefaultClient
	return fetcher
}

func TestRefreshCollectsPublicAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer server.Close()

	fetcher := newLoopbackFetcher(server.URL, false)
	fetcher.Refresh(context.Background())

	assert.Contains(t, fetcher.IPs(), "198.51.100.7")
}

func TestRefreshToleratesLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := newLoopbackFetcher(server.URL, true)
	fetcher.Refresh(context.Background())

	// local interface addresses may still be present; the lookup failure
	// itself must not leave bogus entries behind
	for _, ip := range fetcher.IPs() {
		assert.NotEqual(t, "", ip)
	}
}

func TestRefreshRejectsInvalidLookupAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"not-an-ip"}`))
	}))
	defer server.Close()

	fetcher := newLoopbackFetcher(server.URL, false)
	fetcher.Refresh(context.Background())

	assert.NotContains(t, fetcher.IPs(), "not-an-ip")
}

func TestIPsReturnsCopy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"198.51.100.7"}`))
	}))
	defer server.Close()

	fetcher := newLoopbackFetcher(server.URL, false)
	fetcher.Refresh(context.Background())

	first := fetcher.IPs()
	require.NotEmpty(t, first)
	first[0] = "mutated"
	assert.NotContains(t, fetcher.IPs(), "mutated")
}

func TestIPsEmptyBeforeRefresh(t *testing.T) {
	fetcher := NewFetcher(testLogger(), "http://unused.invalid", false, time.Hour)
	assert.Empty(t, fetcher.IPs())
}
