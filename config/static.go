package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"time"

	"github.com/creasty/defaults"
	yaml "gopkg.in/yaml.v2"
)

//MinReportCooldown is the smallest allowed re-report interval. AbuseIPDB
//refuses reports for the same address more often than this, so anything
//smaller is a configuration mistake.
const MinReportCooldown = 15 * time.Minute

type (
	//StaticCfg is the container for other static config sections
	StaticCfg struct {
		Server       ServerStaticCfg    `yaml:"Server"`
		Log          LogStaticCfg       `yaml:"LogConfig"`
		Honeypots    HoneypotsStaticCfg `yaml:"Honeypots"`
		AbuseIPDB    AbuseIPDBStaticCfg `yaml:"AbuseIPDB"`
		Network      NetworkStaticCfg   `yaml:"Network"`
		Notify       NotifyStaticCfg    `yaml:"Notifications"`
		UserConfig   UserCfgStaticCfg   `yaml:"UserConfig"`
		Version      string
		ExactVersion string
	}

	//ServerStaticCfg identifies this sensor in report comments
	ServerStaticCfg struct {
		ID string `yaml:"ID"`
	}

	//LogStaticCfg contains the configuration for logging
	LogStaticCfg struct {
		LogLevel  int    `yaml:"LogLevel" default:"2"`
		LogPath   string `yaml:"LogPath" default:"/var/log/trapline"`
		LogToFile bool   `yaml:"LogToFile"`
	}

	//HoneypotsStaticCfg points at the honeypot log files to follow
	HoneypotsStaticCfg struct {
		CowrieLog    string `yaml:"CowrieLog"`
		DionaeaLog   string `yaml:"DionaeaLog"`
		HoneytrapLog string `yaml:"HoneytrapLog"`

		// flush windows; parsed as minutes
		CowrieFlushDelay     time.Duration `yaml:"CowrieFlushDelayMinutes" default:"10"`
		HoneytrapFlushWindow time.Duration `yaml:"HoneytrapFlushWindowMinutes" default:"5"`
		StaleSessionTimeout  time.Duration `yaml:"StaleSessionTimeoutMinutes" default:"30"`
	}

	//AbuseIPDBStaticCfg contains the means for contacting the reporting API
	AbuseIPDBStaticCfg struct {
		APIKey string `yaml:"APIKey"`
		APIURL string `yaml:"APIURL" default:"https://api.abuseipdb.com/api/v2"`

		// minimum time between reports of the same IP; parsed as minutes
		IPReportCooldown time.Duration `yaml:"IPReportCooldownMinutes" default:"360"`

		CacheFile  string `yaml:"CacheFile" default:"/var/lib/trapline/reported-ips.cache"`
		BufferFile string `yaml:"BufferFile" default:"/var/lib/trapline/bulk-report-buffer.csv"`
	}

	//NetworkStaticCfg controls public IP discovery
	NetworkStaticCfg struct {
		IPLookupURL string `yaml:"IPLookupURL" default:"https://api.ipify.org?format=json"`
		IPv6Support bool   `yaml:"IPv6Support" default:"true"`

		// how often the public IP is re-fetched; parsed as hours
		IPRefreshFrequency time.Duration `yaml:"IPRefreshFrequencyHours" default:"6"`
	}

	//NotifyStaticCfg controls the webhook notification sink
	NotifyStaticCfg struct {
		Enabled    bool   `yaml:"Enabled"`
		WebhookURL string `yaml:"WebhookURL"`
		Username   string `yaml:"Username"`
	}

	//UserCfgStaticCfg holds user preferences
	UserCfgStaticCfg struct {
		UpdateCheckFrequency int `yaml:"UpdateCheckFrequency" default:"14"`
	}
)

//loadStaticConfig attempts to parse a config file
func loadStaticConfig(cfgPath string, config *StaticCfg) error {
	_, err := os.Stat(cfgPath)
	if os.IsNotExist(err) {
		return err
	}

	cfgFile, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return err
	}

	if err := parseStaticConfig(cfgFile, config); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %s\n", err.Error())
		return err
	}

	return nil
}

//parseStaticConfig loads the yaml from cfgFile into the provided config struct.
//It also fixes up the durations and fills in the version fields.
func parseStaticConfig(cfgFile []byte, config *StaticCfg) error {
	// Initialize to the default values before deserializing
	if err := defaults.Set(config); err != nil {
		return err
	}

	if err := yaml.Unmarshal(cfgFile, config); err != nil {
		return err
	}

	// expand env variables, config is a pointer
	// so we have to call elem on the reflect value
	expandConfig(reflect.ValueOf(config).Elem())

	// yaml values are counts of minutes/hours; scale to real durations
	config.Honeypots.CowrieFlushDelay *= time.Minute
	config.Honeypots.HoneytrapFlushWindow *= time.Minute
	config.Honeypots.StaleSessionTimeout *= time.Minute
	config.AbuseIPDB.IPReportCooldown *= time.Minute
	config.Network.IPRefreshFrequency *= time.Hour

	// grab the version constants set by the build process
	config.Version = Version
	config.ExactVersion = ExactVersion

	return nil
}

//Validate enforces the configuration invariants which must hold before the
//reporting pipeline is allowed to start. Violations are fatal at startup.
func (c *StaticCfg) Validate() error {
	if c.AbuseIPDB.APIKey == "" {
		return errors.New("AbuseIPDB APIKey is not set")
	}
	if c.AbuseIPDB.IPReportCooldown < MinReportCooldown {
		return fmt.Errorf(
			"IPReportCooldown %s is below the minimum of %s",
			c.AbuseIPDB.IPReportCooldown, MinReportCooldown,
		)
	}
	if c.Honeypots.CowrieLog == "" && c.Honeypots.DionaeaLog == "" &&
		c.Honeypots.HoneytrapLog == "" {
		return errors.New("no honeypot log files are configured")
	}
	return nil
}
