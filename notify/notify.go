//Package notify delivers operator notifications to a Discord-compatible
//webhook. Delivery is fire and forget: a failed notification is logged and
//dropped, it never blocks or fails the reporting pipeline.
package notify

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

//Severity levels for notifications
const (
	SeverityInfo    = 0
	SeveritySuccess = 1
	SeverityWarning = 2
)

//embed colors per severity, Discord decimal RGB
var severityColors = map[int]int{
	SeverityInfo:    3447003,  // blue
	SeveritySuccess: 5763719,  // green
	SeverityWarning: 15548997, // red
}

type (
	//Webhook posts notification embeds to a single webhook URL
	Webhook struct {
		logger   *log.Logger
		url      string
		username string
		client   *http.Client
	}

	payload struct {
		Username string  `json:"username,omitempty"`
		Embeds   []embed `json:"embeds"`
	}

	embed struct {
		Description string `json:"description"`
		Color       int    `json:"color"`
		Timestamp   string `json:"timestamp"`
	}
)

//NewWebhook creates a webhook notifier
func NewWebhook(logger *log.Logger, url string, username string) *Webhook {
	return &Webhook{
		logger:   logger,
		url:      url,
		username: username,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

//Notify sends one notification in the background
func (w *Webhook) Notify(severity int, text string) {
	go func() {
		if err := w.send(severity, text); err != nil {
			w.logger.WithFields(log.Fields{
				"error": err.Error(),
			}).Warn("Webhook notification failed")
		}
	}()
}

func (w *Webhook) send(severity int, text string) error {
	color, ok := severityColors[severity]
	if !ok {
		color = severityColors[SeverityInfo]
	}

	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload{
		Username: w.username,
		Embeds: []embed{{
			Description: text,
			Color:       color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return err
	}

	response, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", response.StatusCode)
	}
	return nil
}
