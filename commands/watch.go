package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/trapline/trapline/honeypot/cowrie"
	"github.com/trapline/trapline/honeypot/dionaea"
	"github.com/trapline/trapline/honeypot/honeytrap"
	"github.com/trapline/trapline/ipfetch"
	"github.com/trapline/trapline/notify"
	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/resources"
	"github.com/trapline/trapline/tailer"
	"github.com/trapline/trapline/util"
)

func init() {
	command := cli.Command{
		Name:  "watch",
		Usage: "Follow the configured honeypot logs and report attackers",
		UsageText: "trapline watch [command-options]\n\n" +
			"Runs until interrupted. Pending session buffers are flushed and\n" +
			"all reporting state is persisted on shutdown.",
		Flags: []cli.Flag{
			configFlag,
		},
		Action: watchHoneypots,
	}

	bootstrapCommands(command)
}

// watchHoneypots runs the full pipeline: log tailing, session aggregation,
// classification, and report dispatch
func watchHoneypots(c *cli.Context) error {
	res := resources.InitResources(c.String("config"))
	if err := res.Config.S.Validate(); err != nil {
		return cli.NewExitError("Invalid configuration: "+err.Error(), -1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	netCfg := &res.Config.S.Network
	fetcher := ipfetch.NewFetcher(res.Log, netCfg.IPLookupURL, netCfg.IPv6Support, netCfg.IPRefreshFrequency)
	fetcher.Start(ctx)

	sanitizer := util.NewSanitizer(fetcher.IPs)

	var notifier report.Notifier
	if res.Config.S.Notify.Enabled && res.Config.S.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(res.Log, res.Config.S.Notify.WebhookURL, res.Config.S.Notify.Username)
	}

	apiCfg := &res.Config.S.AbuseIPDB
	client := report.NewClient(apiCfg.APIURL, apiCfg.APIKey, res.Config.S.Version)
	cache := report.NewCache(apiCfg.CacheFile, apiCfg.IPReportCooldown, res.Log)
	buffer := report.NewBuffer(apiCfg.BufferFile, res.Log)
	limiter := report.NewLimiter(res.Log)

	dispatcher := report.NewDispatcher(res.Log, client, cache, buffer, limiter, fetcher.IPs, notifier)
	// persisted state must be restored before the first line is consumed
	dispatcher.Recover()

	hpCfg := &res.Config.S.Honeypots
	serverID := res.Config.S.Server.ID

	cowrieAgg := cowrie.NewAggregator(res.Log, dispatcher.ReportIP, sanitizer,
		serverID, hpCfg.CowrieFlushDelay, hpCfg.StaleSessionTimeout)
	cowrieAgg.StartSweeper(ctx)

	dionaeaHandler := dionaea.NewHandler(res.Log, dispatcher.ReportIP, serverID)

	honeytrapAgg := honeytrap.NewAggregator(res.Log, dispatcher.ReportIP, sanitizer,
		serverID, hpCfg.HoneytrapFlushWindow)
	honeytrapAgg.Start(ctx)

	targets := []struct {
		name    string
		path    string
		process func(string)
	}{
		{cowrie.Name, hpCfg.CowrieLog, cowrieAgg.Process},
		{dionaea.Name, hpCfg.DionaeaLog, dionaeaHandler.Process},
		{honeytrap.Name, hpCfg.HoneytrapLog, honeytrapAgg.Process},
	}

	started := 0
	for _, target := range targets {
		if target.path == "" {
			continue
		}
		lines, err := tailer.New(target.path, res.Log).Follow(ctx)
		if err != nil {
			return cli.NewExitError("Could not follow "+target.path+": "+err.Error(), -1)
		}
		process := target.process
		go func() {
			for line := range lines {
				process(line)
			}
		}()
		res.Log.WithField("path", target.path).Info("Watching " + target.name + " log")
		started++
	}
	if started == 0 {
		return cli.NewExitError("No honeypot logs configured, nothing to watch", -1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	res.Log.Info("Shutting down, flushing pending sessions")
	cancel()
	cowrieAgg.FlushAll()
	honeytrapAgg.FlushAll()
	dispatcher.Close()
	return nil
}
