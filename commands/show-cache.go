package commands

import (
	"encoding/csv"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/resources"
	"github.com/trapline/trapline/util"
)

func init() {
	command := cli.Command{
		Name:  "show-cache",
		Usage: "Print the reported-IP dedup cache",
		Flags: []cli.Flag{
			humanFlag,
			configFlag,
		},
		Action: func(c *cli.Context) error {
			res := resources.InitResources(c.String("config"))

			apiCfg := &res.Config.S.AbuseIPDB
			cache := report.NewCache(apiCfg.CacheFile, apiCfg.IPReportCooldown, res.Log)
			cache.Load()

			entries := cache.Entries()
			if len(entries) == 0 {
				return cli.NewExitError("The dedup cache is empty", -1)
			}

			ips := make([]string, 0, len(entries))
			for ip := range entries {
				ips = append(ips, ip)
			}
			sort.Strings(ips)

			if c.Bool("human-readable") {
				showCacheHuman(ips, entries)
				return nil
			}
			showCache(ips, entries)
			return nil
		},
	}
	bootstrapCommands(command)
}

func showCache(ips []string, entries map[string]int64) {
	csvWriter := csv.NewWriter(os.Stdout)
	csvWriter.Write([]string{"IP", "Last Reported"})
	for _, ip := range ips {
		csvWriter.Write([]string{ip, formatCacheTime(entries[ip])})
	}
	csvWriter.Flush()
}

func showCacheHuman(ips []string, entries map[string]int64) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"IP", "Last Reported"})
	for _, ip := range ips {
		table.Append([]string{ip, formatCacheTime(entries[ip])})
	}
	table.Render()
}

func formatCacheTime(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(util.TimeFormat)
}
