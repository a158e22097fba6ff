package commands

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	yaml "gopkg.in/yaml.v2"

	"github.com/trapline/trapline/config"
	"github.com/trapline/trapline/resources"
)

func init() {
	command := cli.Command{
		Flags: []cli.Flag{
			configFlag,
		},
		Name:   "test-config",
		Usage:  "Check the configuration file for validity",
		Action: testConfiguration,
	}

	bootstrapCommands(command)
}

// testConfiguration prints out the result of parsing the config file
func testConfiguration(c *cli.Context) error {
	// First, print out the config as it was parsed
	conf, err := config.LoadConfig(c.String("config"))
	if err != nil {
		fmt.Fprintf(os.Stdout, "Failed to config: %s\n", err.Error())
		os.Exit(-1)
	}

	staticConfig, err := yaml.Marshal(conf.S)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "\n%s\n", string(staticConfig))

	// Then check the invariants the watch command would enforce
	if err := conf.S.Validate(); err != nil {
		return cli.NewExitError("Invalid configuration: "+err.Error(), -1)
	}

	// Finally make sure logging and the other shared resources come up
	resources.InitResources(c.String("config"))

	return nil
}
