package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver"
	"github.com/google/go-github/github"
	"github.com/urfave/cli"

	"github.com/trapline/trapline/config"
	"github.com/trapline/trapline/resources"
)

//Strings used for informing the user of a new version.
var informFmtStr = "\nTheres a new %s version of trapline %s available at:\nhttps://github.com/trapline/trapline/releases\n"
var versions = []string{"Major", "Minor", "Patch"}

func init() {
	command := cli.Command{
		Name:  "version",
		Usage: "Show trapline version",
		Flags: []cli.Flag{
			configFlag,
		},
		Action: showVersion,
	}

	bootstrapCommands(command)
}

func showVersion(c *cli.Context) error {
	fmt.Printf("trapline version %s\n", config.ExactVersion)
	fmt.Print(updateCheck(c.String("config")))
	return nil
}

// updateCheck performs a check for a new version against the git repository
// and returns a string indicating the new version if available
func updateCheck(configFile string) string {
	res := resources.InitResources(configFile)
	delta := res.Config.S.UserConfig.UpdateCheckFrequency

	if delta <= 0 {
		return ""
	}

	newVersion, err := getRemoteVersion()
	if err != nil {
		return ""
	}

	configVersion, err := semver.ParseTolerant(config.Version)
	if err != nil {
		return ""
	}

	if newVersion.GT(configVersion) {
		return informUser(configVersion, newVersion)
	}

	return ""
}

// Returns the first index where v1 is greater than v2
func versionDiffIndex(v1 semver.Version, v2 semver.Version) int {
	if v1.Major > v2.Major {
		return 0
	}
	if v1.Minor > v2.Minor {
		return 1
	}
	return 2
}

func getRemoteVersion() (semver.Version, error) {
	client := github.NewClient(nil)
	refs, _, err := client.Git.GetRefs(context.Background(), "trapline", "trapline", "refs/tags/v")

	if err == nil {
		s := strings.TrimPrefix(*refs[len(refs)-1].Ref, "refs/tags/")
		return semver.ParseTolerant(s)
	}
	return semver.Version{}, err
}

// Assembles a notice for the user informing them of an upgrade.
// The return value is printed regardless so, "" is returned on errror.
func informUser(local semver.Version, remote semver.Version) string {
	return fmt.Sprintf(informFmtStr,
		versions[versionDiffIndex(remote, local)],
		fmt.Sprint(remote))
}
