package config

const testConfig = `
Server:
    ID: test-sensor
LogConfig:
    LogLevel: 3
    LogPath: null
    LogToFile: false
Honeypots:
    CowrieLog: /tmp/cowrie.json
    DionaeaLog: /tmp/dionaea.json
    HoneytrapLog: /tmp/attackers.json
    CowrieFlushDelayMinutes: 10
    HoneytrapFlushWindowMinutes: 5
    StaleSessionTimeoutMinutes: 30
AbuseIPDB:
    APIKey: TESTING-KEY
    IPReportCooldownMinutes: 360
    CacheFile: /tmp/trapline-test.cache
    BufferFile: /tmp/trapline-test-buffer.csv
Network:
    IPv6Support: false
    IPRefreshFrequencyHours: 6
Notifications:
    Enabled: false
`

//LoadTestingConfig loads the hard coded testing config
func LoadTestingConfig() (*Config, error) {
	config := &Config{}

	// Deserialize the yaml file contents into the static config
	if err := parseStaticConfig([]byte(testConfig), &config.S); err != nil {
		return nil, err
	}

	config.S.Version = "v0.0.0+testing"
	config.S.ExactVersion = "v0.0.0+testing"

	// Use the static config to initialize the running config
	if err := initRunningConfig(&config.S, &config.R); err != nil {
		return nil, err
	}

	return config, nil
}
