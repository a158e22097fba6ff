package report

import (
	"errors"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trapline/trapline/util"
)

type fakeCall struct {
	ip         string
	categories []string
	timestamp  time.Time
	comment    string
}

type fakeClient struct {
	calls        []fakeCall
	reportErr    error
	bulkPayloads [][]byte
	bulkErr      error
	bulkResult   *BulkResult
}

func (f *fakeClient) Report(ip string, categories []string, timestamp time.Time, comment string) (*ReportResult, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	f.calls = append(f.calls, fakeCall{ip, categories, timestamp, comment})
	return &ReportResult{AbuseConfidenceScore: 100}, nil
}

func (f *fakeClient) BulkReport(csvPayload []byte) (*BulkResult, error) {
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	f.bulkPayloads = append(f.bulkPayloads, csvPayload)
	if f.bulkResult != nil {
		return f.bulkResult, nil
	}
	return &BulkResult{}, nil
}

func quotaError() error {
	return &APIError{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"detail":"Daily rate limit of 1000 reports reached."}]}`,
	}
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	client     *fakeClient
	cache      *Cache
	buffer     *Buffer
	limiter    *Limiter
	bufferPath string
}

func newFixture(t *testing.T, ownIPs []string) *dispatcherFixture {
	logger := testLogger()
	client := &fakeClient{}
	cache := NewCache(tempPath(t, "reported.cache"), time.Hour, logger)
	bufferPath := tempPath(t, "buffer.csv")
	buffer := NewBuffer(bufferPath, logger)
	limiter := NewLimiter(logger)
	dispatcher := NewDispatcher(logger, client, cache, buffer, limiter,
		func() []string { return ownIPs }, nil)
	return &dispatcherFixture{dispatcher, client, cache, buffer, limiter, bufferPath}
}

func attack(ip string) Context {
	return Context{
		SrcIP:     ip,
		Port:      22,
		Proto:     "ssh",
		Transport: "tcp",
		Timestamp: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestDispatchDedupIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "hit")
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "hit")

	assert.Equal(t, 1, len(f.client.calls), "second report inside cooldown must not submit")
}

func TestDispatchOwnIPExcluded(t *testing.T) {
	f := newFixture(t, []string{"80.94.95.15"})

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "hit")

	assert.Empty(t, f.client.calls)
	assert.Equal(t, 0, f.cache.Len(), "excluded reports must not touch the cache")
}

func TestDispatchSpecialPurposeIPExcluded(t *testing.T) {
	f := newFixture(t, nil)

	f.dispatcher.ReportIP("COWRIE", attack("127.0.0.1"), []string{"15"}, "hit")
	f.dispatcher.ReportIP("COWRIE", attack("192.168.1.50"), []string{"15"}, "hit")

	assert.Empty(t, f.client.calls)
	assert.Equal(t, 0, f.cache.Len())
}

func TestDispatchMissingIPDropped(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.ReportIP("COWRIE", Context{}, []string{"15"}, "hit")
	assert.Empty(t, f.client.calls)
}

func TestDispatchUDPNotReported(t *testing.T) {
	f := newFixture(t, nil)
	ctx := attack("80.94.95.15")
	ctx.Transport = "udp"

	f.dispatcher.ReportIP("HONEYTRAP", ctx, []string{"14"}, "probe")

	assert.Empty(t, f.client.calls)
}

func TestDispatchSuccessMarksAndPersistsCache(t *testing.T) {
	f := newFixture(t, nil)

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15", "22"}, "hit")

	require.Equal(t, 1, len(f.client.calls))
	assert.Equal(t, []string{"15", "22"}, f.client.calls[0].categories)
	assert.True(t, f.cache.ReportedRecently("80.94.95.15"))

	// the cache write happens synchronously with the mark
	reloaded := NewCache(f.cache.path, time.Hour, testLogger())
	reloaded.Load()
	assert.True(t, reloaded.ReportedRecently("80.94.95.15"))
}

func TestDispatchTransportErrorDropsReport(t *testing.T) {
	f := newFixture(t, nil)
	f.client.reportErr = errors.New("connection refused")

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "hit")

	assert.False(t, f.limiter.Limited(), "ordinary failures must not trip the limiter")
	assert.Equal(t, 0, f.buffer.Len(), "ordinary failures are not buffered")
	assert.Equal(t, 0, f.cache.Len())
}

func TestDispatchQuotaExceededBuffersSubsequentReports(t *testing.T) {
	f := newFixture(t, nil)
	f.client.reportErr = quotaError()

	// IP A hits the quota wall and is queued
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "first")
	assert.True(t, f.limiter.Limited())
	assert.True(t, f.buffer.Has("80.94.95.15"))

	// IP B goes straight to the buffer without a submission attempt
	f.client.reportErr = nil
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.16"), []string{"18"}, "second")
	assert.Empty(t, f.client.calls, "no direct submission while limited")
	assert.True(t, f.buffer.Has("80.94.95.16"))

	// the buffer file on disk contains exactly one row for B
	contents, err := ioutil.ReadFile(f.bufferPath)
	require.Nil(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	rowsForB := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "80.94.95.16,") {
			rowsForB++
			assert.Contains(t, line, "2025-03-14T09:26:53Z")
		}
	}
	assert.Equal(t, 1, rowsForB)
}

func TestDispatchBufferFirstWriteWinsWhileLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	f.limiter.Trip()

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "original")
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"18"}, "replacement")

	assert.Equal(t, "original", f.buffer.Entries()["80.94.95.15"].Comment)
}

func TestDispatchBulkFlushClearsState(t *testing.T) {
	f := newFixture(t, nil)

	tripTime := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	f.limiter.now = func() time.Time { return tripTime }
	f.limiter.Trip()

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "a")
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.16"), []string{"18"}, "b")
	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.17"), []string{"14"}, "c")
	require.Equal(t, 3, f.buffer.Len())

	// move past the reset and dispatch a fresh report
	afterReset := time.Date(2025, 3, 15, 0, 0, 1, 0, time.UTC)
	f.limiter.now = func() time.Time { return afterReset }
	f.client.bulkResult = &BulkResult{SavedReports: 3}

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.18"), []string{"15"}, "d")

	require.Equal(t, 1, len(f.client.bulkPayloads), "reset must trigger one bulk submission")
	payload := string(f.client.bulkPayloads[0])
	assert.Contains(t, payload, "80.94.95.15")
	assert.Contains(t, payload, "80.94.95.16")
	assert.Contains(t, payload, "80.94.95.17")

	assert.False(t, f.limiter.Limited())
	assert.Equal(t, 0, f.buffer.Len())
	assert.False(t, util.Exists(f.bufferPath))
	assert.True(t, f.cache.ReportedRecently("80.94.95.15"))
	assert.True(t, f.cache.ReportedRecently("80.94.95.16"))
	assert.True(t, f.cache.ReportedRecently("80.94.95.17"))

	// the report that triggered the reset was submitted directly
	require.Equal(t, 1, len(f.client.calls))
	assert.Equal(t, "80.94.95.18", f.client.calls[0].ip)
}

func TestDispatchBulkFlushFailureKeepsBuffer(t *testing.T) {
	f := newFixture(t, nil)

	tripTime := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	f.limiter.now = func() time.Time { return tripTime }
	f.limiter.Trip()

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.15"), []string{"15"}, "a")

	afterReset := time.Date(2025, 3, 15, 0, 0, 1, 0, time.UTC)
	f.limiter.now = func() time.Time { return afterReset }
	f.client.bulkErr = errors.New("service unavailable")

	f.dispatcher.ReportIP("COWRIE", attack("80.94.95.16"), []string{"18"}, "b")

	assert.True(t, f.limiter.Limited(), "failed flush leaves the limiter tripped")
	assert.True(t, f.buffer.Has("80.94.95.15"))
	assert.True(t, f.buffer.Has("80.94.95.16"), "the new report is buffered, not lost")
	assert.Empty(t, f.client.calls)
}

func TestRecoverFlushesPersistedBuffer(t *testing.T) {
	logger := testLogger()
	bufferPath := tempPath(t, "buffer.csv")

	// a previous run left buffered reports on disk
	stale := NewBuffer(bufferPath, logger)
	stale.Add("80.94.95.15", BufferEntry{
		Categories: []string{"15"},
		Timestamp:  time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Comment:    "left over",
	})
	require.Nil(t, stale.Persist())

	client := &fakeClient{bulkResult: &BulkResult{SavedReports: 1}}
	cache := NewCache(tempPath(t, "reported.cache"), time.Hour, logger)
	buffer := NewBuffer(bufferPath, logger)
	limiter := NewLimiter(logger)
	dispatcher := NewDispatcher(logger, client, cache, buffer, limiter,
		func() []string { return nil }, nil)

	dispatcher.Recover()

	require.Equal(t, 1, len(client.bulkPayloads))
	assert.Contains(t, string(client.bulkPayloads[0]), "80.94.95.15")
	assert.Equal(t, 0, buffer.Len())
	assert.True(t, cache.ReportedRecently("80.94.95.15"))
	assert.False(t, util.Exists(bufferPath))
}

func TestRecoverKeepsBufferWhenFlushFails(t *testing.T) {
	logger := testLogger()
	bufferPath := tempPath(t, "buffer.csv")

	stale := NewBuffer(bufferPath, logger)
	stale.Add("80.94.95.15", BufferEntry{
		Categories: []string{"15"},
		Timestamp:  time.Now(),
		Comment:    "left over",
	})
	require.Nil(t, stale.Persist())

	client := &fakeClient{bulkErr: errors.New("down")}
	cache := NewCache(tempPath(t, "reported.cache"), time.Hour, logger)
	buffer := NewBuffer(bufferPath, logger)
	dispatcher := NewDispatcher(logger, client, cache, buffer, NewLimiter(logger),
		func() []string { return nil }, nil)

	dispatcher.Recover()

	assert.Equal(t, 1, buffer.Len())
	assert.True(t, util.Exists(bufferPath), "buffer must be re-persisted after a failed startup flush")
}

func TestIsQuotaExceeded(t *testing.T) {
	assert.True(t, IsQuotaExceeded(quotaError()))
	assert.False(t, IsQuotaExceeded(errors.New("nope")))
	assert.False(t, IsQuotaExceeded(&APIError{StatusCode: 429, Body: "slow down"}),
		"per-second throttling is not the daily quota")
	assert.False(t, IsQuotaExceeded(&APIError{StatusCode: 500, Body: "Daily rate limit"}))
}
