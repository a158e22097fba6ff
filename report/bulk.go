package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/util"
)

//persistCommentLimit caps comments written to the on-disk buffer file
const persistCommentLimit = 930

//wireCommentLimit caps comments submitted to the API
const wireCommentLimit = 1024

//bufferHeader is the header row of both the persisted buffer file and the
//bulk submission payload
var bufferHeader = []string{"IP", "Categories", "ReportDate", "Comment"}

type (
	//BufferEntry is one deferred report for a single attacker IP
	BufferEntry struct {
		Categories []string
		Timestamp  time.Time
		Comment    string
	}

	//Buffer is the IP-keyed durable queue of reports deferred while the API
	//is rate limited. It is flushed as one batch submission when the limit
	//clears and survives process restarts through its CSV file.
	Buffer struct {
		path   string
		logger *log.Logger

		entries map[string]BufferEntry
	}
)

//NewBuffer creates an empty bulk report buffer backed by the given file
func NewBuffer(path string, logger *log.Logger) *Buffer {
	return &Buffer{
		path:    path,
		logger:  logger,
		entries: make(map[string]BufferEntry),
	}
}

//Add queues an entry for the IP. The first entry for an IP wins; later
//attempts while it is queued are dropped and Add returns false.
func (b *Buffer) Add(ip string, entry BufferEntry) bool {
	if _, ok := b.entries[ip]; ok {
		return false
	}
	b.entries[ip] = entry
	return true
}

//Has returns true if the IP is already queued
func (b *Buffer) Has(ip string) bool {
	_, ok := b.entries[ip]
	return ok
}

//Len returns the number of queued IPs
func (b *Buffer) Len() int {
	return len(b.entries)
}

//IPs returns the queued IPs in sorted order
func (b *Buffer) IPs() []string {
	ips := make([]string, 0, len(b.entries))
	for ip := range b.entries {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

//Entries returns a copy of the queued entries
func (b *Buffer) Entries() map[string]BufferEntry {
	out := make(map[string]BufferEntry, len(b.entries))
	for ip, entry := range b.entries {
		out[ip] = entry
	}
	return out
}

//Persist serializes the full in-memory map to the buffer file so that a
//crash loses at most the in-flight enqueue, never previously queued entries
func (b *Buffer) Persist() error {
	if len(b.entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return err
	}

	file, err := os.Create(b.path)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(bufferHeader); err != nil {
		file.Close()
		return err
	}
	for _, ip := range b.IPs() {
		entry := b.entries[ip]
		record := []string{
			ip,
			strings.Join(entry.Categories, ","),
			entry.Timestamp.UTC().Format(util.ReportTimeFormat),
			util.TruncateString(entry.Comment, persistCommentLimit),
		}
		if err := writer.Write(record); err != nil {
			file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

//Load parses the persisted buffer file at startup and then deletes it so
//stale entries are never replayed twice. Malformed rows are skipped.
func (b *Buffer) Load() {
	if !b.Peek() {
		return
	}
	if err := os.Remove(b.path); err != nil {
		b.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  b.path,
		}).Warn("Could not remove bulk buffer file after load")
	}
}

//Peek reads the persisted buffer file without consuming it. Returns true if
//a file was present.
func (b *Buffer) Peek() bool {
	file, err := os.Open(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.WithFields(log.Fields{
				"error": err.Error(),
				"path":  b.path,
			}).Error("Could not read bulk report buffer")
		}
		return false
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	loaded := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.logger.WithFields(log.Fields{
				"error": err.Error(),
				"path":  b.path,
			}).Warn("Skipping malformed bulk buffer row")
			continue
		}
		if first {
			first = false
			continue // header row
		}
		if len(record) < 4 || record[0] == "" {
			continue
		}

		timestamp, err := time.Parse(util.ReportTimeFormat, record[2])
		if err != nil {
			timestamp, err = time.Parse(time.RFC3339, record[2])
			if err != nil {
				b.logger.WithFields(log.Fields{
					"row": strings.Join(record, ","),
				}).Warn("Skipping bulk buffer row with bad timestamp")
				continue
			}
		}

		b.entries[record[0]] = BufferEntry{
			Categories: strings.Split(record[1], ","),
			Timestamp:  timestamp,
			Comment:    record[3],
		}
		loaded++
	}
	file.Close()

	b.logger.WithFields(log.Fields{
		"count": loaded,
		"path":  b.path,
	}).Info("Loaded bulk report buffer from disk")
	return true
}

//WirePayload serializes all queued entries into the CSV payload submitted as
//one batch request. Comments are flattened to single lines and capped at the
//API's comment limit.
func (b *Buffer) WirePayload() []byte {
	var payload bytes.Buffer
	writer := csv.NewWriter(&payload)
	writer.Write(bufferHeader)
	for _, ip := range b.IPs() {
		entry := b.entries[ip]
		comment := strings.ReplaceAll(entry.Comment, "\n", " ")
		writer.Write([]string{
			ip,
			strings.Join(entry.Categories, ","),
			entry.Timestamp.UTC().Format(util.ReportTimeFormat),
			util.TruncateString(comment, wireCommentLimit),
		})
	}
	writer.Flush()
	return payload.Bytes()
}

//Clear drops all queued entries and deletes the buffer file
func (b *Buffer) Clear() {
	b.entries = make(map[string]BufferEntry)
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		b.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  b.path,
		}).Warn("Could not remove bulk buffer file")
	}
}
