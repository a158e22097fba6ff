package tailer

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
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

func writeString(t *testing.T, path string, data string) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.Nil(t, err)
	_, err = file.WriteString(data)
	require.Nil(t, err)
	require.Nil(t, file.Close())
}

func collectLines(t *testing.T, lines <-chan string, count int) []string {
	var out []string
	timeout := time.After(5 * time.Second)
	for len(out) < count {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("line channel closed after %d of %d lines", len(out), count)
			}
			out = append(out, line)
		case <-timeout:
			t.Fatalf("timed out waiting for %d lines, got %d", count, len(out))
		}
	}
	return out
}

func TestFollowSkipsExistingLines(t *testing.T) {
	dir, err := ioutil.TempDir("", "tailer")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.log")
	writeString(t, path, "old line\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines, err := NewWithPoll(path, testLogger(), 10*time.Millisecond).Follow(ctx)
	require.Nil(t, err)

	writeString(t, path, "new line one\nnew line two\n")

	out := collectLines(t, lines, 2)
	assert.Equal(t, []string{"new line one", "new line two"}, out)
}

func TestFollowHoldsPartialLines(t *testing.T) {
	dir, err := ioutil.TempDir("", "tailer")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.log")
	writeString(t, path, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines, err := NewWithPoll(path, testLogger(), 10*time.Millisecond).Follow(ctx)
	require.Nil(t, err)

	writeString(t, path, "partial")
	// give the tailer a chance to observe the incomplete line
	time.Sleep(50 * time.Millisecond)
	writeString(t, path, " completed\n")

	out := collectLines(t, lines, 1)
	assert.Equal(t, []string{"partial completed"}, out)
}

func TestFollowRecoversFromTruncation(t *testing.T) {
	dir, err := ioutil.TempDir("", "tailer")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.log")
	writeString(t, path, "some pre-existing content that makes the file long\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines, err := NewWithPoll(path, testLogger(), 10*time.Millisecond).Follow(ctx)
	require.Nil(t, err)

	require.Nil(t, os.Truncate(path, 0))
	writeString(t, path, "after truncate\n")

	out := collectLines(t, lines, 1)
	assert.Equal(t, []string{"after truncate"}, out)
}

func TestFollowSurvivesRotation(t *testing.T) {
	dir, err := ioutil.TempDir("", "tailer")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "test.log")
	writeString(t, path, "a longer line before the rotation happens\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines, err := NewWithPoll(path, testLogger(), 10*time.Millisecond).Follow(ctx)
	require.Nil(t, err)

	// atomic rename+recreate rotation
	require.Nil(t, os.Rename(path, path+".1"))
	writeString(t, path, "fresh\n")

	out := collectLines(t, lines, 1)
	assert.Equal(t, []string{"fresh"}, out)
}

func TestFollowMissingFile(t *testing.T) {
	_, err := New("/nonexistent/nope.log", testLogger()).Follow(context.Background())
	assert.NotNil(t, err)
}
