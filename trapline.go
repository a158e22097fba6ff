package main

import (
	"os"
	"runtime"

	"github.com/trapline/trapline/commands"
	"github.com/trapline/trapline/config"
	"github.com/urfave/cli"
)

// Entry point of trapline
func main() {
	app := cli.NewApp()
	app.Name = "trapline"
	app.Usage = "Watch honeypot logs and report attackers to AbuseIPDB."
	app.Version = config.Version

	// Define commands used with this application
	app.Commands = commands.Commands()

	runtime.GOMAXPROCS(runtime.NumCPU())
	app.Run(os.Args)
}
