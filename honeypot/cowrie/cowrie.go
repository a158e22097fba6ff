//Package cowrie reconstructs per-attacker sessions from the event stream of
//a Cowrie SSH/Telnet honeypot and reports the merged result once per attacker
//IP per flush window.
package cowrie

import (
	"context"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/classify"
	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/util"
)

//Name identifies this honeypot family in reports and log lines
const Name = "COWRIE"

//sweepInterval controls how often idle IP buffers are checked for staleness
const sweepInterval = 15 * time.Minute

type (
	//Event is one parsed line of the Cowrie JSON log
	Event struct {
		EventID     string `json:"eventid"`
		SrcIP       string `json:"src_ip"`
		SessionID   string `json:"session"`
		DstPort     int    `json:"dst_port"`
		Protocol    string `json:"protocol"`
		Timestamp   string `json:"timestamp"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		Version     string `json:"version"`
		Input       string `json:"input"`
		URL         string `json:"url"`
		Outfile     string `json:"outfile"`
		Fingerprint string `json:"fingerprint"`
		Filename    string `json:"filename"`
		DstIP       string `json:"dst_ip"`
	}

	//session is the in-progress reconstruction of one attacker connection
	session struct {
		id            string
		port          int
		proto         string
		timestamp     time.Time
		credentials   []string
		credentialSet map[string]struct{}
		commands      []string
		clientVersion string
		downloadURLs  []string
		fingerprints  []string
		uploads       []string
		tunnels       []string
	}

	//ipBuffer groups all sessions from one attacker IP within a flush window.
	//The flush timer runs a fixed delay from the first event and is not
	//refreshed by later events: a bounded aggregation window, not an idle
	//timeout. Flushing is idempotent.
	ipBuffer struct {
		sessions []*session
		timer    *time.Timer
		flushed  bool
		lastSeen time.Time
	}

	//Aggregator folds Cowrie events into per-IP attack summaries
	Aggregator struct {
		mu sync.Mutex

		logger     *log.Logger
		reportFunc report.Func
		sanitizer  *util.Sanitizer
		serverID   string
		flushDelay time.Duration
		staleAfter time.Duration

		buffers map[string]*ipBuffer
		now     func() time.Time
	}
)

//NewAggregator creates a Cowrie session aggregator
func NewAggregator(logger *log.Logger, reportFunc report.Func, sanitizer *util.Sanitizer,
	serverID string, flushDelay time.Duration, staleAfter time.Duration) *Aggregator {
	return &Aggregator{
		logger:     logger,
		reportFunc: reportFunc,
		sanitizer:  sanitizer,
		serverID:   serverID,
		flushDelay: flushDelay,
		staleAfter: staleAfter,
		buffers:    make(map[string]*ipBuffer),
		now:        time.Now,
	}
}

//Name returns the honeypot family name
func (a *Aggregator) Name() string {
	return Name
}

//Process consumes one log line. Malformed lines are logged and skipped so
//one bad record can never stop the stream.
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

	if event.SrcIP == "" || event.EventID == "" || event.SessionID == "" {
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
		}).Warn("Skipping event with missing src_ip, eventid, or session")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.handle(&event)
}

//handle folds one event into the session state for its attacker IP.
//Callers must hold a.mu.
func (a *Aggregator) handle(event *Event) {
	ip := event.SrcIP

	buffer := a.buffers[ip]
	if buffer == nil {
		buffer = &ipBuffer{}
		buffer.timer = time.AfterFunc(a.flushDelay, func() { a.Flush(ip) })
		a.buffers[ip] = buffer
	}
	buffer.lastSeen = a.now()

	var current *session
	for _, s := range buffer.sessions {
		if s.id == event.SessionID {
			current = s
			break
		}
	}
	if current == nil {
		// a close for an unknown session is logged, everything else with no
		// session allocates one; protects against truncated streams
		if event.EventID == "cowrie.session.closed" {
			a.logger.WithFields(log.Fields{
				"honeypot": Name,
				"ip":       ip,
				"session":  event.SessionID,
			}).Debug("Close event for unknown session")
			return
		}
		current = &session{
			id:            event.SessionID,
			credentialSet: make(map[string]struct{}),
		}
		buffer.sessions = append(buffer.sessions, current)
	}

	switch event.EventID {
	case "cowrie.session.connect":
		current.port = event.DstPort
		current.proto = event.Protocol
		current.timestamp = parseTimestamp(event.Timestamp)
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"ip":       ip,
			"port":     current.port,
			"proto":    current.proto,
		}).Debug("Session connect")

	case "cowrie.login.success", "cowrie.login.failed":
		// both successful and failed logins are attack signal
		if event.Username == "" && event.Password == "" {
			return
		}
		credential := a.sanitizer.Apply(event.Username) + ":" + a.sanitizer.Apply(event.Password)
		if _, seen := current.credentialSet[credential]; !seen {
			current.credentialSet[credential] = struct{}{}
			current.credentials = append(current.credentials, credential)
		}
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"ip":       ip,
			"success":  event.EventID == "cowrie.login.success",
		}).Debug("Login attempt")

	case "cowrie.client.version":
		current.clientVersion = event.Version

	case "cowrie.client.fingerprint":
		if event.Fingerprint != "" {
			current.fingerprints = append(current.fingerprints, event.Fingerprint)
		}

	case "cowrie.command.input":
		if event.Input != "" {
			current.commands = append(current.commands, event.Input)
			a.logger.WithFields(log.Fields{
				"honeypot": Name,
				"ip":       ip,
				"command":  util.TruncateString(event.Input, 128),
			}).Debug("Command input")
		}

	case "cowrie.session.file_download":
		if event.URL != "" {
			current.commands = append(current.commands, "[download] "+event.URL)
			current.downloadURLs = append(current.downloadURLs, event.URL)
		}

	case "cowrie.session.file_upload":
		if event.Filename != "" {
			current.uploads = append(current.uploads, event.Filename)
		}

	case "cowrie.direct-tcpip.request":
		if event.DstIP != "" && event.DstPort != 0 {
			current.tunnels = append(current.tunnels, event.DstIP+":"+strconv.Itoa(event.DstPort))
		}

	case "cowrie.session.closed":
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"ip":       ip,
			"session":  event.SessionID,
		}).Debug("Session closed")

	default:
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"eventid":  event.EventID,
		}).Debug("Ignoring unknown event type")
	}
}

//Flush merges every session buffered for the IP into one attack summary and
//reports it. Safe to call from the flush timer and the shutdown path; only
//the first call for a buffer does any work.
func (a *Aggregator) Flush(ip string) {
	a.mu.Lock()
	buffer := a.buffers[ip]
	if buffer == nil || buffer.flushed {
		a.mu.Unlock()
		return
	}
	buffer.flushed = true
	buffer.timer.Stop()
	delete(a.buffers, ip)
	sessions := buffer.sessions
	a.mu.Unlock()

	if len(sessions) == 0 {
		return
	}

	summary := mergeSessions(sessions)
	if summary.Port == 0 || summary.Proto == "" {
		// mandatory report fields are missing; never report incomplete data
		a.logger.WithFields(log.Fields{
			"honeypot": Name,
			"ip":       ip,
		}).Warn("Incomplete session data, discarded")
		return
	}

	categories, comment := classify.Interactive(summary, a.serverID)
	timestamp := summary.Timestamp

	a.reportFunc(Name, report.Context{
		SrcIP:     ip,
		Port:      summary.Port,
		Proto:     summary.Proto,
		Transport: "tcp",
		Timestamp: timestamp,
	}, categories, a.sanitizer.Apply(comment))
}

//FlushAll force-flushes every pending IP buffer; used on shutdown so no
//attack data is silently lost on restart
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	ips := make([]string, 0, len(a.buffers))
	for ip := range a.buffers {
		ips = append(ips, ip)
	}
	a.mu.Unlock()

	for _, ip := range ips {
		a.Flush(ip)
	}
}

//StartSweeper periodically discards buffers whose attacker went quiet
//without a session close; their flush timers were already consumed or the
//buffer kept accumulating past the stale window
func (a *Aggregator) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.sweepStale()
			}
		}
	}()
}

func (a *Aggregator) sweepStale() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for ip, buffer := range a.buffers {
		if now.Sub(buffer.lastSeen) > a.staleAfter {
			buffer.flushed = true
			buffer.timer.Stop()
			delete(a.buffers, ip)
			a.logger.WithFields(log.Fields{
				"honeypot": Name,
				"ip":       ip,
			}).Warn("Cleaned up stale session buffer")
		}
	}
}

//mergeSessions folds all sessions from one IP into a single summary:
//credential pairs become a union, commands concatenate in order, and the
//first non-empty value wins for port, protocol, version, and timestamp
func mergeSessions(sessions []*session) *classify.SessionSummary {
	summary := &classify.SessionSummary{}
	seenCreds := make(map[string]struct{})
	seenURLs := make(map[string]struct{})
	seenFingerprints := make(map[string]struct{})
	seenUploads := make(map[string]struct{})
	seenTunnels := make(map[string]struct{})

	for _, s := range sessions {
		if summary.Port == 0 {
			summary.Port = s.port
		}
		if summary.Proto == "" {
			summary.Proto = s.proto
		}
		if summary.ClientVersion == "" {
			summary.ClientVersion = s.clientVersion
		}
		if summary.Timestamp.IsZero() {
			summary.Timestamp = s.timestamp
		}

		for _, credential := range s.credentials {
			if _, ok := seenCreds[credential]; !ok {
				seenCreds[credential] = struct{}{}
				summary.Credentials = append(summary.Credentials, credential)
			}
		}
		summary.Commands = append(summary.Commands, s.commands...)

		for _, url := range s.downloadURLs {
			if _, ok := seenURLs[url]; !ok {
				seenURLs[url] = struct{}{}
				summary.DownloadURLs = append(summary.DownloadURLs, url)
			}
		}
		for _, fingerprint := range s.fingerprints {
			if _, ok := seenFingerprints[fingerprint]; !ok {
				seenFingerprints[fingerprint] = struct{}{}
				summary.Fingerprints = append(summary.Fingerprints, fingerprint)
			}
		}
		for _, upload := range s.uploads {
			if _, ok := seenUploads[upload]; !ok {
				seenUploads[upload] = struct{}{}
				summary.Uploads = append(summary.Uploads, upload)
			}
		}
		for _, tunnel := range s.tunnels {
			if _, ok := seenTunnels[tunnel]; !ok {
				seenTunnels[tunnel] = struct{}{}
				summary.Tunnels = append(summary.Tunnels, tunnel)
			}
		}
	}
	return summary
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

