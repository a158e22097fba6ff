package report

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type (
	//Cache is the persisted record of recently reported IPs. It enforces the
	//minimum re-report interval: an IP with an entry younger than the
	//cooldown window must not be reported again. The whole cache is loaded
	//at startup and rewritten in full after every update.
	Cache struct {
		path     string
		cooldown time.Duration
		logger   *log.Logger

		entries map[string]int64
		now     func() time.Time
	}
)

//NewCache creates an empty dedup cache backed by the given file
func NewCache(path string, cooldown time.Duration, logger *log.Logger) *Cache {
	return &Cache{
		path:     path,
		cooldown: cooldown,
		logger:   logger,
		entries:  make(map[string]int64),
		now:      time.Now,
	}
}

//Load parses the persisted cache file into memory. Malformed lines are
//skipped; a missing file simply yields an empty cache.
func (c *Cache) Load() {
	contents, err := ioutil.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.WithFields(log.Fields{
				"path": c.path,
			}).Info("No dedup cache to load")
			return
		}
		c.logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  c.path,
		}).Error("Could not read dedup cache")
		return
	}

	loaded := 0
	for _, line := range strings.Split(string(contents), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		timestamp, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			c.logger.WithFields(log.Fields{
				"line": line,
			}).Warn("Skipping malformed dedup cache line")
			continue
		}
		c.entries[fields[0]] = timestamp
		loaded++
	}

	c.logger.WithFields(log.Fields{
		"count": loaded,
		"path":  c.path,
	}).Info("Loaded reported IPs from dedup cache")
}

//Save atomically rewrites the full persisted file from in-memory state
func (c *Cache) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	ips := make([]string, 0, len(c.entries))
	for ip := range c.entries {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var builder strings.Builder
	for _, ip := range ips {
		fmt.Fprintf(&builder, "%s %d\n", ip, c.entries[ip])
	}

	// write to a temp file in the same directory, then rename over the old
	// cache so a crash mid-write cannot lose previously cooled-down entries
	tmpFile, err := ioutil.TempFile(filepath.Dir(c.path), ".cache-*")
	if err != nil {
		return err
	}
	if _, err := tmpFile.WriteString(builder.String()); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return err
	}
	return os.Rename(tmpFile.Name(), c.path)
}

//ReportedRecently returns true if the IP was reported within the cooldown window
func (c *Cache) ReportedRecently(ip string) bool {
	lastReport, ok := c.entries[ip]
	if !ok {
		return false
	}
	return c.now().Unix()-lastReport < int64(c.cooldown/time.Second)
}

//Mark records that the IP was reported just now
func (c *Cache) Mark(ip string) {
	c.entries[ip] = c.now().Unix()
}

//Len returns the number of cached entries
func (c *Cache) Len() int {
	return len(c.entries)
}

//Entries returns a copy of the cached IP to last-report-time mapping
func (c *Cache) Entries() map[string]int64 {
	out := make(map[string]int64, len(c.entries))
	for ip, timestamp := range c.entries {
		out[ip] = timestamp
	}
	return out
}
