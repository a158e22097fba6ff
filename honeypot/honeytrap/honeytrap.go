//Package honeytrap handles the event stream of a Honeytrap low-interaction
//honeypot. Raw payload captures are classified per event, then folded into
//per-IP port hit counts over a fixed flush window so a port sweep becomes one
//report instead of hundreds.
package honeytrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/classify"
	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/util"
)

//Name identifies this honeypot family in reports and log lines
const Name = "HONEYTRAP"

//maxSummaryPorts caps how many ports are listed in a report comment; a full
//sweep hits thousands and only the busiest few carry signal
const maxSummaryPorts = 6

//tickInterval is how often pending buffers are checked against the window
const tickInterval = time.Minute

//portSuffixPattern strips the per-event port reference from a comment that
//is about to gain an explicit port list
var portSuffixPattern = regexp.MustCompile(` on \d+/\w+`)

type (
	//Event is one parsed line of the Honeytrap attacks JSON log
	Event struct {
		Timestamp        string `json:"@timestamp"`
		AttackConnection struct {
			RemoteIP  string `json:"remote_ip"`
			LocalPort int    `json:"local_port"`
			Protocol  string `json:"protocol"`
			Payload   struct {
				DataHex string `json:"data_hex"`
				Length  int    `json:"length"`
			} `json:"payload"`
		} `json:"attack_connection"`
	}

	//portHit is the accumulated state for one attacker IP and one local port.
	//The first event on a port fixes its classification; later hits on the
	//same port only bump the count.
	portHit struct {
		count      int
		proto      string
		timestamp  time.Time
		categories []string
		comment    string
	}

	//Aggregator folds Honeytrap events into per-IP port sweep summaries
	Aggregator struct {
		mu sync.Mutex

		logger     *log.Logger
		reportFunc report.Func
		sanitizer  *util.Sanitizer
		serverID   string
		window     time.Duration

		buffers   map[string]map[int]*portHit
		lastFlush time.Time
		now       func() time.Time
	}
)

//NewAggregator creates a Honeytrap port sweep aggregator
func NewAggregator(logger *log.Logger, reportFunc report.Func, sanitizer *util.Sanitizer,
	serverID string, window time.Duration) *Aggregator {
	a := &Aggregator{
		logger:     logger,
		reportFunc: reportFunc,
		sanitizer:  sanitizer,
		serverID:   serverID,
		window:     window,
		buffers:    make(map[string]map[int]*portHit),
		now:        time.Now,
	}
	a.lastFlush = a.now()
	return a
}

//Name returns the honeypot family name
func (a *Aggregator) Name() string {
	return Name
}

//Process consumes one log line. The payload is classified immediately so the
//raw bytes never need to be buffered; only the classification survives until
//the window flush.
func (a *Aggregator) Process(line string) {
	var event Event
	err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &event)
	if err != nil {
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"error":    err.Error(),
			"line":     util.TruncateString(line, 256),
		}).Warn("Skipping malformed log line")
		return
	}

	conn := event.AttackConnection
	if conn.RemoteIP == "" || conn.LocalPort == 0 {
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
		}).Warn("Skipping event with missing remote_ip or local_port")
		return
	}

	proto := strings.ToLower(conn.Protocol)
	if proto == "" {
		proto = "tcp"
	}

	payload, err := hex.DecodeString(conn.Payload.DataHex)
	if err != nil {
		// classify on length alone rather than dropping the event
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"ip":       conn.RemoteIP,
			"error":    err.Error(),
		}).Warn("Undecodable payload hex")
		payload = nil
	}
	length := conn.Payload.Length
	if length == 0 {
		length = len(payload)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ports := a.buffers[conn.RemoteIP]
	if ports == nil {
		ports = make(map[int]*portHit)
		a.buffers[conn.RemoteIP] = ports
	}

	if hit := ports[conn.LocalPort]; hit != nil {
		hit.count++
		return
	}

	categories, comment := classify.Payload(payload, length, conn.LocalPort, proto)
	ports[conn.LocalPort] = &portHit{
		count:      1,
		proto:      proto,
		timestamp:  parseTimestamp(event.Timestamp),
		categories: categories,
		comment:    comment,
	}

	a.logger.WithFields(log.Fields{
		"honeypot": Name,
		"ip":       conn.RemoteIP,
		"port":     conn.LocalPort,
		"proto":    proto,
	}).Debug("Payload classified")
}

//Start runs the window flush loop until the context is cancelled
func (a *Aggregator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				due := a.now().Sub(a.lastFlush) >= a.window
				a.mu.Unlock()
				if due {
					a.FlushAll()
				}
			}
		}
	}()
}

//FlushAll reports one summary per buffered attacker IP and resets the window
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	buffers := a.buffers
	a.buffers = make(map[string]map[int]*portHit)
	a.lastFlush = a.now()
	a.mu.Unlock()

	for ip, ports := range buffers {
		a.flushIP(ip, ports)
	}
}

//flushIP merges the port hits for one attacker into a single report. The
//busiest port's classification represents the whole sweep and the comment
//gains an explicit hit count list.
func (a *Aggregator) flushIP(ip string, ports map[int]*portHit) {
	type entry struct {
		port int
		hit  *portHit
	}

	entries := make([]entry, 0, len(ports))
	for port, hit := range ports {
		entries = append(entries, entry{port, hit})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hit.count != entries[j].hit.count {
			return entries[i].hit.count > entries[j].hit.count
		}
		return entries[i].port < entries[j].port
	})

	top := entries[0]
	comment := top.hit.comment

	if len(entries) > 1 {
		summarized := entries
		if len(summarized) > maxSummaryPorts {
			summarized = summarized[:maxSummaryPorts]
		}
		parts := make([]string, len(summarized))
		for i, e := range summarized {
			parts[i] = fmt.Sprintf("%d [%d]", e.port, e.hit.count)
		}
		suffix := ""
		if extra := len(entries) - len(summarized); extra > 0 {
			suffix = fmt.Sprintf(" and %d more", extra)
		}
		comment = fmt.Sprintf("%s; targeted ports: %s%s %s",
			portSuffixPattern.ReplaceAllString(comment, ""),
			strings.Join(parts, ", "), suffix, strings.ToUpper(top.hit.proto))
	}

	comment = fmt.Sprintf("Honeypot %s: %s", classify.CommentTag(a.serverID), comment)

	a.reportFunc(Name, report.Context{
		SrcIP:     ip,
		Port:      top.port,
		Proto:     top.hit.proto,
		Transport: top.hit.proto,
		Timestamp: top.hit.timestamp,
	}, top.hit.categories, a.sanitizer.Apply(comment))
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
