//Package ipfetch maintains the set of IP addresses belonging to the honeypot
//host itself: public addresses resolved through an external lookup service
//and addresses bound to local interfaces. The set feeds self-report filtering
//and comment sanitization, and is refreshed periodically because many
//deployments sit behind dynamic assignments.
package ipfetch

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"github.com/trapline/trapline/util"
)

//lookupTimeout bounds one public address lookup
const lookupTimeout = 15 * time.Second

type (
	//Fetcher resolves and caches the host's own IP addresses
	Fetcher struct {
		logger      *log.Logger
		lookupURL   string
		ipv6Enabled bool
		refresh     time.Duration

		clientV4 *http.Client
		clientV6 *http.Client

		mu  sync.RWMutex
		ips []string
	}

	lookupResponse struct {
		IP string `json:"ip"`
	}
)

//NewFetcher creates a Fetcher. Nothing is resolved until Refresh or Start
//is called.
func NewFetcher(logger *log.Logger, lookupURL string, ipv6Enabled bool, refresh time.Duration) *Fetcher {
	return &Fetcher{
		logger:      logger,
		lookupURL:   lookupURL,
		ipv6Enabled: ipv6Enabled,
		refresh:     refresh,
		clientV4:    familyClient("tcp4"),
		clientV6:    familyClient("tcp6"),
	}
}

//familyClient builds an HTTP client pinned to one address family so the same
//lookup URL can be asked for both the v4 and the v6 public address
func familyClient(network string) *http.Client {
	dialer := &net.Dialer{Timeout: lookupTimeout}
	return &http.Client{
		Timeout: lookupTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _ string, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}
}

//IPs returns the current own-address set. The returned slice is a copy.
func (f *Fetcher) IPs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.ips...)
}

//Refresh resolves the full own-address set once. Lookup failures degrade to
//whatever subset could be resolved; an empty set only disables sanitization,
//it never blocks reporting.
func (f *Fetcher) Refresh(ctx context.Context) {
	set := make(map[string]struct{})

	if ip, err := f.lookupPublic(ctx, f.clientV4); err != nil {
		f.logger.WithError(err).Warn("Public IPv4 lookup failed")
	} else if ip != "" {
		set[ip] = struct{}{}
	}

	if f.ipv6Enabled {
		if ip, err := f.lookupPublic(ctx, f.clientV6); err != nil {
			// hosts without v6 connectivity land here on every refresh
			f.logger.WithError(err).Debug("Public IPv6 lookup failed")
		} else if ip != "" {
			set[ip] = struct{}{}
		}
	}

	for _, ip := range localAddresses() {
		set[ip] = struct{}{}
	}

	ips := make([]string, 0, len(set))
	for ip := range set {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	f.mu.Lock()
	f.ips = ips
	f.mu.Unlock()

	f.logger.WithFields(log.Fields{
		"count": len(ips),
	}).Info("Own IP address set refreshed")
}

//Start performs an initial refresh, then keeps the set current in the
//background until the context is cancelled
func (f *Fetcher) Start(ctx context.Context) {
	f.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(f.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.Refresh(ctx)
			}
		}
	}()
}

func (f *Fetcher) lookupPublic(ctx context.Context, client *http.Client) (string, error) {
	request, err := http.NewRequest(http.MethodGet, f.lookupURL, nil)
	if err != nil {
		return "", err
	}
	request = request.WithContext(ctx)

	response, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	body, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return "", err
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IP lookup service returned status %d", response.StatusCode)
	}

	var parsed lookupResponse
	err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &parsed)
	if err != nil {
		return "", err
	}
	if parsed.IP != "" && !util.IsIP(parsed.IP) {
		return "", fmt.Errorf("IP lookup service returned invalid address %q", parsed.IP)
	}
	return parsed.IP, nil
}

//localAddresses collects non-loopback addresses bound to local interfaces
func localAddresses() []string {
	addresses, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var ips []string
	for _, address := range addresses {
		ipNet, ok := address.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		ips = append(ips, ip.String())
	}
	return ips
}
