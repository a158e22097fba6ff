package commands

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/trapline/trapline/report"
	"github.com/trapline/trapline/resources"
	"github.com/trapline/trapline/util"
)

func init() {
	command := cli.Command{
		Name:  "show-buffer",
		Usage: "Print reports queued for the next bulk submission",
		Flags: []cli.Flag{
			humanFlag,
			configFlag,
		},
		Action: func(c *cli.Context) error {
			res := resources.InitResources(c.String("config"))

			apiCfg := &res.Config.S.AbuseIPDB
			buffer := report.NewBuffer(apiCfg.BufferFile, res.Log)
			// inspect only; the buffer file stays in place for the next flush
			buffer.Peek()

			if buffer.Len() == 0 {
				return cli.NewExitError("The bulk report buffer is empty", -1)
			}

			entries := buffer.Entries()
			if c.Bool("human-readable") {
				showBufferHuman(buffer.IPs(), entries)
				return nil
			}
			showBuffer(buffer.IPs(), entries)
			return nil
		},
	}
	bootstrapCommands(command)
}

func showBuffer(ips []string, entries map[string]report.BufferEntry) {
	csvWriter := csv.NewWriter(os.Stdout)
	csvWriter.Write([]string{"IP", "Categories", "Report Date", "Comment"})
	for _, ip := range ips {
		entry := entries[ip]
		csvWriter.Write([]string{
			ip,
			strings.Join(entry.Categories, ","),
			entry.Timestamp.UTC().Format(util.ReportTimeFormat),
			entry.Comment,
		})
	}
	csvWriter.Flush()
}

func showBufferHuman(ips []string, entries map[string]report.BufferEntry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"IP", "Categories", "Report Date", "Comment"})
	for _, ip := range ips {
		entry := entries[ip]
		table.Append([]string{
			ip,
			strings.Join(entry.Categories, ","),
			entry.Timestamp.UTC().Format(util.ReportTimeFormat),
			util.TruncateString(strings.ReplaceAll(entry.Comment, "\n", " "), 80),
		})
	}
	table.Render()
}
