package tailer

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

//defaultPollInterval backs up fsnotify in case change events are dropped or
//the platform does not deliver them for the watched file
const defaultPollInterval = 2 * time.Second

type (
	//Tailer follows an append-only log file and delivers complete text lines
	//appended after the watcher attaches. If the file shrinks below the last
	//read offset (truncation or rotation), reading restarts from offset zero.
	Tailer struct {
		path   string
		logger *log.Logger
		poll   time.Duration

		offset int64
		carry  []byte
	}
)

//New creates a Tailer for the given file path
func New(path string, logger *log.Logger) *Tailer {
	return &Tailer{
		path:   path,
		logger: logger,
		poll:   defaultPollInterval,
	}
}

//NewWithPoll creates a Tailer with a custom poll interval; used by tests
func NewWithPoll(path string, logger *log.Logger, poll time.Duration) *Tailer {
	return &Tailer{
		path:   path,
		logger: logger,
		poll:   poll,
	}
}

//Follow starts following the file and returns a channel of complete lines.
//The channel is closed when the context is cancelled. Lines already present
//in the file when Follow is called are skipped.
func (t *Tailer) Follow(ctx context.Context) (<-chan string, error) {
	finfo, err := os.Stat(t.path)
	if err != nil {
		return nil, err
	}
	t.offset = finfo.Size()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// watch the parent directory so a rotated-and-recreated file is
		// picked up again; events for other files are filtered below
		if addErr := watcher.Add(filepath.Dir(t.path)); addErr != nil {
			watcher.Close()
			watcher = nil
			t.logger.WithFields(log.Fields{
				"error": addErr.Error(),
				"path":  t.path,
			}).Warn("Could not watch log directory, falling back to polling")
		}
	} else {
		watcher = nil
		t.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  t.path,
		}).Warn("Could not create fsnotify watcher, falling back to polling")
	}

	lines := make(chan string)
	go t.run(ctx, watcher, lines)
	return lines, nil
}

func (t *Tailer) run(ctx context.Context, watcher *fsnotify.Watcher, lines chan<- string) {
	defer close(lines)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errors chan error
	if watcher != nil {
		events = watcher.Events
		errors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if event.Name != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t.drain(ctx, lines)
		case err := <-errors:
			t.logger.WithFields(log.Fields{
				"error": err.Error(),
				"path":  t.path,
			}).Warn("Watcher error on log file")
		case <-ticker.C:
			t.drain(ctx, lines)
		}
	}
}

//drain reads everything appended since the last read and emits complete lines
func (t *Tailer) drain(ctx context.Context, lines chan<- string) {
	finfo, err := os.Stat(t.path)
	if err != nil {
		// rotated away and not recreated yet; try again on the next event
		return
	}

	size := finfo.Size()
	if size < t.offset {
		t.logger.WithFields(log.Fields{
			"path": t.path,
		}).Info("Log file truncated, offset reset")
		t.offset = 0
		t.carry = nil
	}
	if size == t.offset {
		return
	}

	file, err := os.Open(t.path)
	if err != nil {
		t.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  t.path,
		}).Error("Could not open log file")
		return
	}
	defer file.Close()

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		t.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  t.path,
		}).Error("Could not seek in log file")
		return
	}

	data, err := ioutil.ReadAll(file)
	if err != nil {
		t.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  t.path,
		}).Error("Could not read log file")
		return
	}
	t.offset += int64(len(data))

	buffered := append(t.carry, data...)
	for {
		idx := bytes.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(buffered[:idx], "\r"))
		buffered = buffered[idx+1:]
		if len(line) == 0 {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}

	// hold on to the trailing partial line until its newline arrives
	t.carry = append([]byte(nil), buffered...)
}
