package report

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/util"
)

type (
	//Context carries the attack details attached to one report
	Context struct {
		SrcIP     string
		Port      int
		Proto     string
		Transport string
		Timestamp time.Time
	}

	//Func is the reporting entry point handed to each session aggregator
	Func func(honeypot string, ctx Context, categories []string, comment string)

	//Notifier delivers fire-and-forget operator notifications
	Notifier interface {
		Notify(severity int, text string)
	}

	//Dispatcher orchestrates report submission: it applies identity and
	//category filters, consults the dedup cache, and either submits a single
	//report, queues into the bulk buffer, or drops with a reason. All state
	//mutation happens under one mutex so a dispatch call is never re-entered
	//mid-flight for the same IP.
	Dispatcher struct {
		mu sync.Mutex

		logger   *log.Logger
		client   APIClient
		cache    *Cache
		buffer   *Buffer
		limiter  *Limiter
		ownIPs   func() []string
		notifier Notifier

		now func() time.Time
	}
)

//NewDispatcher wires the dispatch engine together. The notifier may be nil.
func NewDispatcher(logger *log.Logger, client APIClient, cache *Cache,
	buffer *Buffer, limiter *Limiter, ownIPs func() []string, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		client:   client,
		cache:    cache,
		buffer:   buffer,
		limiter:  limiter,
		ownIPs:   ownIPs,
		notifier: notifier,
		now:      time.Now,
	}
}

//Recover restores persisted state before any log watchers are attached:
//dedup cache first, then the bulk buffer, then an immediate flush attempt if
//the buffer is non-empty and the API is not currently limited. Doing this
//before tailing begins keeps stale buffered entries ahead of new events.
func (d *Dispatcher) Recover() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Load()
	d.buffer.Load()

	if d.buffer.Len() > 0 && !d.limiter.Limited() {
		if err := d.flushBulk(); err != nil {
			d.logger.WithFields(log.Fields{
				"error": err.Error(),
			}).Warn("Startup bulk flush failed, keeping buffer for later retry")
			if persistErr := d.buffer.Persist(); persistErr != nil {
				d.logger.WithFields(log.Fields{
					"error": persistErr.Error(),
				}).Error("Could not re-persist bulk buffer after failed flush")
			}
		}
	}
}

//Close persists the dedup cache and any buffered reports before shutdown
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.cache.Save(); err != nil {
		d.logger.WithFields(log.Fields{
			"error": err.Error(),
		}).Error("Could not persist dedup cache on shutdown")
	}
	if d.buffer.Len() > 0 {
		if err := d.buffer.Persist(); err != nil {
			d.logger.WithFields(log.Fields{
				"error": err.Error(),
			}).Error("Could not persist bulk buffer on shutdown")
		}
	}
}

//ReportIP reports one attacker IP with the given categories and comment.
//Consumed by every session aggregator as its only side channel.
func (d *Dispatcher) ReportIP(honeypot string, ctx Context, categories []string, comment string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ctx.SrcIP == "" {
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
		}).Warn("Missing source IP, report dropped")
		return
	}
	if util.StringInSlice(ctx.SrcIP, d.ownIPs()) {
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
			"ip":       ctx.SrcIP,
		}).Debug("Ignoring own IP")
		return
	}
	if util.IsSpecialPurposeIP(ctx.SrcIP) {
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
			"ip":       ctx.SrcIP,
		}).Debug("Ignoring special purpose IP")
		return
	}
	if strings.EqualFold(ctx.Transport, "udp") {
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
			"ip":       ctx.SrcIP,
		}).Debug("Connectionless probe, not reported")
		return
	}
	if d.cache.ReportedRecently(ctx.SrcIP) {
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
			"ip":       ctx.SrcIP,
		}).Debug("Reported recently, still cooling down")
		return
	}

	// lazy LIMITED -> NORMAL transition check
	d.checkReset()

	if d.limiter.Limited() {
		d.enqueue(honeypot, ctx, categories, comment)
		d.limiter.LogStatus(d.buffer.Len())
		return
	}

	timestamp := ctx.Timestamp
	if timestamp.IsZero() {
		timestamp = d.now()
	}

	result, err := d.client.Report(ctx.SrcIP, categories, timestamp, comment)
	if err != nil {
		if IsQuotaExceeded(err) {
			if d.limiter.Trip() {
				d.notify(2, fmt.Sprintf(
					"Daily AbuseIPDB quota exceeded, buffering reports until %s",
					NextUTCMidnight(d.now()).Format(time.RFC3339),
				))
			}
			d.enqueue(honeypot, ctx, categories, comment)
			return
		}
		d.logger.WithFields(log.Fields{
			"honeypot": honeypot,
			"ip":       ctx.SrcIP,
			"port":     ctx.Port,
			"proto":    ctx.Proto,
			"error":    err.Error(),
		}).Error("Failed to report IP, dropped")
		return
	}

	d.logger.WithFields(log.Fields{
		"honeypot":   honeypot,
		"ip":         ctx.SrcIP,
		"port":       ctx.Port,
		"proto":      ctx.Proto,
		"categories": strings.Join(categories, ","),
		"confidence": result.AbuseConfidenceScore,
	}).Info("Reported IP")

	d.cache.Mark(ctx.SrcIP)
	if err := d.cache.Save(); err != nil {
		d.logger.WithFields(log.Fields{
			"error": err.Error(),
		}).Error("Could not persist dedup cache; durability is compromised")
	}
}

//checkReset performs the lazy LIMITED -> NORMAL transition. If buffered
//reports are pending and no bulk submission succeeded yet this limited
//period, a flush must complete before the state fully clears; a failed
//flush leaves the limiter untouched so the next dispatch retries.
func (d *Dispatcher) checkReset() {
	if !d.limiter.ResetDue() {
		return
	}

	if d.buffer.Len() > 0 && !d.limiter.BulkSent() {
		if err := d.flushBulk(); err != nil {
			d.logger.WithFields(log.Fields{
				"error": err.Error(),
			}).Warn("Bulk flush failed, will retry on next dispatch")
			return
		}
	}

	d.limiter.Clear()
	d.notify(1, "AbuseIPDB quota reset, direct submissions resumed")
}

//enqueue routes a report into the bulk buffer, first write wins
func (d *Dispatcher) enqueue(honeypot string, ctx Context, categories []string, comment string) {
	if d.buffer.Has(ctx.SrcIP) {
		return
	}

	timestamp := ctx.Timestamp
	if timestamp.IsZero() {
		timestamp = d.now()
	}

	d.buffer.Add(ctx.SrcIP, BufferEntry{
		Categories: categories,
		Timestamp:  timestamp,
		Comment:    comment,
	})
	if err := d.buffer.Persist(); err != nil {
		d.logger.WithFields(log.Fields{
			"error": err.Error(),
		}).Error("Could not persist bulk buffer; durability is compromised")
	}

	d.logger.WithFields(log.Fields{
		"honeypot": honeypot,
		"ip":       ctx.SrcIP,
		"buffered": d.buffer.Len(),
	}).Info("Rate limited, queued report into bulk buffer")
}

//flushBulk submits every buffered report as one batch. On success all
//contained IPs are marked in the dedup cache and the buffer is cleared; on
//failure the buffer and its file are left intact for a later retry.
func (d *Dispatcher) flushBulk() error {
	result, err := d.client.BulkReport(d.buffer.WirePayload())
	if err != nil {
		return err
	}

	d.logger.WithFields(log.Fields{
		"submitted": d.buffer.Len(),
		"accepted":  result.SavedReports,
		"rejected":  len(result.InvalidReports),
	}).Info("Sent bulk report")
	for _, invalid := range result.InvalidReports {
		d.logger.WithFields(log.Fields{
			"row":   invalid.RowNumber,
			"input": invalid.Input,
			"error": invalid.Error,
		}).Warn("Row rejected in bulk report")
	}

	for _, ip := range d.buffer.IPs() {
		d.cache.Mark(ip)
	}
	if err := d.cache.Save(); err != nil {
		d.logger.WithFields(log.Fields{
			"error": err.Error(),
		}).Error("Could not persist dedup cache after bulk flush")
	}

	d.buffer.Clear()
	d.limiter.MarkBulkSent()
	return nil
}

//BufferedCount returns the number of reports waiting in the bulk buffer
func (d *Dispatcher) BufferedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.Len()
}

func (d *Dispatcher) notify(severity int, text string) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(severity, text)
}
