package commands

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"

	"github.com/trapline/trapline/honeypot/cowrie"
	"github.com/trapline/trapline/honeypot/dionaea"
	"github.com/trapline/trapline/honeypot/honeytrap"
	"github.com/trapline/trapline/ipfetch"
	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/resources"
	"github.com/trapline/trapline/util"
)

// maxLineBytes bounds a single replayed log line; honeytrap payload captures
// can run long once hex encoded
const maxLineBytes = 1024 * 1024

func init() {
	command := cli.Command{
		Name:  "replay",
		Usage: "Process an existing honeypot log file from the beginning",
		UsageText: "trapline replay [command-options] [file]\n\n" +
			"Reads the whole file, reports what the dedup cache allows, and exits.\n" +
			"Useful for backfilling after downtime.",
		Flags: []cli.Flag{
			configFlag,
			cli.StringFlag{
				Name:  "honeypot, p",
				Usage: "log format, one of `cowrie, dionaea, honeytrap`",
				Value: "cowrie",
			},
		},
		Action: replayLogFile,
	}

	bootstrapCommands(command)
}

// replayLogFile feeds one complete log file through the same pipeline the
// watch command runs, minus the tailing
func replayLogFile(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return cli.NewExitError("Specify a log file to replay", -1)
	}

	res := resources.InitResources(c.String("config"))
	if err := res.Config.S.Validate(); err != nil {
		return cli.NewExitError("Invalid configuration: "+err.Error(), -1)
	}

	file, err := os.Open(path)
	if err != nil {
		return cli.NewExitError("Could not open "+path+": "+err.Error(), -1)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}

	netCfg := &res.Config.S.Network
	fetcher := ipfetch.NewFetcher(res.Log, netCfg.IPLookupURL, netCfg.IPv6Support, netCfg.IPRefreshFrequency)
	fetcher.Refresh(context.Background())

	sanitizer := util.NewSanitizer(fetcher.IPs)

	apiCfg := &res.Config.S.AbuseIPDB
	client := report.NewClient(apiCfg.APIURL, apiCfg.APIKey, res.Config.S.Version)
	cache := report.NewCache(apiCfg.CacheFile, apiCfg.IPReportCooldown, res.Log)
	buffer := report.NewBuffer(apiCfg.BufferFile, res.Log)
	limiter := report.NewLimiter(res.Log)

	dispatcher := report.NewDispatcher(res.Log, client, cache, buffer, limiter, fetcher.IPs, nil)
	dispatcher.Recover()

	hpCfg := &res.Config.S.Honeypots
	serverID := res.Config.S.Server.ID

	var process func(string)
	var flush func()
	switch c.String("honeypot") {
	case "cowrie":
		agg := cowrie.NewAggregator(res.Log, dispatcher.ReportIP, sanitizer,
			serverID, hpCfg.CowrieFlushDelay, hpCfg.StaleSessionTimeout)
		process = agg.Process
		flush = agg.FlushAll
	case "dionaea":
		handler := dionaea.NewHandler(res.Log, dispatcher.ReportIP, serverID)
		process = handler.Process
		flush = func() {}
	case "honeytrap":
		agg := honeytrap.NewAggregator(res.Log, dispatcher.ReportIP, sanitizer,
			serverID, hpCfg.HoneytrapFlushWindow)
		process = agg.Process
		flush = agg.FlushAll
	default:
		return cli.NewExitError("Unknown honeypot format: "+c.String("honeypot"), -1)
	}

	// progress bar for troubleshooting
	p := mpb.New(mpb.WithWidth(20))
	bar := p.AddBar(info.Size(),
		mpb.PrependDecorators(
			decor.Name("\t[-] Replaying "+path+":", decor.WC{W: 30, C: decor.DidentRight}),
			decor.CountersKibiByte(" %.1f / %.1f ", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		start := time.Now()
		line := scanner.Text()
		if line != "" {
			process(line)
		}
		bar.IncrBy(len(line)+1, time.Since(start))
	}
	p.Wait()

	if err := scanner.Err(); err != nil {
		res.Log.WithField("error", err.Error()).Error("Replay stopped early")
	}

	flush()
	dispatcher.Close()
	return nil
}
