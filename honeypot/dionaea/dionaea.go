//Package dionaea handles the event stream of a Dionaea multi-protocol
//honeypot. Dionaea emulates single-shot services, so every log line already
//describes a complete attack and is classified and reported statelessly.
package dionaea

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/classify"
	"github.com/trapline/trapline/report"
)

//Name identifies this honeypot family in reports and log lines
const Name = "DIONAEA"

type (
	//Event is one parsed line of the Dionaea JSON log
	Event struct {
		SrcIP      string `json:"src_ip"`
		DstPort    int    `json:"dst_port"`
		Timestamp  string `json:"timestamp"`
		Connection struct {
			Protocol  string `json:"protocol"`
			Transport string `json:"transport"`
		} `json:"connection"`
		Credentials struct {
			Username []string `json:"username"`
			Password []string `json:"password"`
		} `json:"credentials"`
	}

	//Handler classifies and reports Dionaea events one at a time
	Handler struct {
		logger     *log.Logger
		reportFunc report.Func
		serverID   string
	}
)

//NewHandler creates a stateless Dionaea event handler
func NewHandler(logger *log.Logger, reportFunc report.Func, serverID string) *Handler {
	return &Handler{
		logger:     logger,
		reportFunc: reportFunc,
		serverID:   serverID,
	}
}

//Name returns the honeypot family name
func (h *Handler) Name() string {
	return Name
}

//Process consumes one log line and reports it immediately. Malformed lines
//are logged and skipped.
func (h *Handler) Process(line string) {
	var event Event
	err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(line, &event)
	if err != nil {
		h.logger.WithFields(log.Fields{
			"honeypot": Name,
			"error":    err.Error(),
		}).Warn("Skipping malformed log line")
		return
	}

	if event.SrcIP == "" || event.DstPort == 0 {
		h.logger.WithFields(log.Fields{
			"honeypot": Name,
		}).Warn("Skipping event with missing src_ip or dst_port")
		return
	}

	username := ""
	password := ""
	if len(event.Credentials.Username) > 0 {
		username = event.Credentials.Username[0]
	}
	if len(event.Credentials.Password) > 0 {
		password = event.Credentials.Password[0]
	}

	proto := event.Connection.Protocol
	transport := event.Connection.Transport
	if transport == "" {
		transport = "tcp"
	}

	categories, comment := classify.Service(proto, event.DstPort, username, password, h.serverID)

	h.reportFunc(Name, report.Context{
		SrcIP:     event.SrcIP,
		Port:      event.DstPort,
		Proto:     proto,
		Transport: transport,
		Timestamp: parseTimestamp(event.Timestamp),
	}, categories, comment)
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
