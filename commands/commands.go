package commands

import (
	"github.com/urfave/cli"
)

var (
	allCommands []cli.Command

	// below are some prebuilt flags that get used often in various commands

	// configFlag allows users to specify an alternate config file to use
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Usage: "Use a given `CONFIG_FILE` when running this command",
		Value: "",
	}

	// humanFlag formats the output to be visually pleasing instead of machine readable
	humanFlag = cli.BoolFlag{
		Name:  "human-readable, H",
		Usage: "print a table for humans",
	}
)

// bootstrapCommands registers a set of commands with the command index
func bootstrapCommands(commands ...cli.Command) {
	allCommands = append(allCommands, commands...)
}

// Commands provides all of the defined commands to the front end
func Commands() []cli.Command {
	return allCommands
}
