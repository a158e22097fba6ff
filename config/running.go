package config

import (
	"fmt"
	"os"

	"github.com/blang/semver"
)

type (
	//RunningCfg holds configuration options that are parsed at run time
	RunningCfg struct {
		Version semver.Version
	}
)

//initRunningConfig deserializes data in the static config
func initRunningConfig(config *StaticCfg, running *RunningCfg) error {
	version, err := semver.ParseTolerant(config.Version)
	if err != nil {
		// development builds carry no version stamp; not fatal
		fmt.Fprintf(os.Stderr, "Could not parse version %q: %s\n", config.Version, err.Error())
		return nil
	}
	running.Version = version
	return nil
}
