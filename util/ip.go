package util

import (
	"fmt"
	"net"
	"os"
)

var specialPurposeBlocks []*net.IPNet

func init() {
	specialIPs, err := ParseSubnets(
		[]string{
			//"127.0.0.0/8",    // IPv4 Loopback; handled by ip.IsLoopback
			//"::1/128",        // IPv6 Loopback; handled by ip.IsLoopback
			//"169.254.0.0/16", // RFC3927 link-local; handled by ip.IsLinkLocalUnicast()
			//"fe80::/10",      // IPv6 link-local; handled by ip.IsLinkLocalUnicast()
			"0.0.0.0/8",          // RFC1122 "this network"
			"10.0.0.0/8",         // RFC1918
			"100.64.0.0/10",      // RFC6598 carrier grade NAT
			"172.16.0.0/12",      // RFC1918
			"192.0.0.0/24",       // RFC6890 protocol assignments
			"192.0.2.0/24",       // RFC5737 documentation
			"192.88.99.0/24",     // RFC7526 6to4 relay anycast
			"192.168.0.0/16",     // RFC1918
			"198.18.0.0/15",      // RFC2544 benchmarking
			"198.51.100.0/24",    // RFC5737 documentation
			"203.0.113.0/24",     // RFC5737 documentation
			"240.0.0.0/4",        // RFC1112 reserved
			"255.255.255.255/32", // RFC0919 limited broadcast
			"fc00::/7",           // IPv6 unique local addr
			"2001:db8::/32",      // RFC3849 documentation
		})

	if err == nil {
		specialPurposeBlocks = specialIPs
	} else {
		panic(fmt.Sprintf("Error defining special purpose IPs: %v", err.Error()))
	}
}

// ParseSubnets parses the provided subnets into net.IPNet format
func ParseSubnets(subnets []string) ([]*net.IPNet, error) {
	var parsedSubnets []*net.IPNet

	for _, entry := range subnets {
		// Try to parse out CIDR range
		_, block, err := net.ParseCIDR(entry)

		// If there was an error, check if entry was an IP
		if err != nil {
			ipAddr := net.ParseIP(entry)
			if ipAddr == nil {
				fmt.Fprintf(os.Stdout, "Error parsing entry: %s\n", err.Error())
				return parsedSubnets, err
			}

			// Check if it's an IPv4 or IPv6 address and append the appropriate subnet mask
			var subnetMask string
			if ipAddr.To4() != nil {
				subnetMask = "/32"
			} else {
				subnetMask = "/128"
			}

			// Append the subnet mask and parse as a CIDR range
			_, block, err = net.ParseCIDR(entry + subnetMask)

			if err != nil {
				fmt.Fprintf(os.Stdout, "Error parsing CIDR entry: %s\n", err.Error())
				return parsedSubnets, err
			}
		}

		// Add CIDR range to the list
		parsedSubnets = append(parsedSubnets, block)
	}
	return parsedSubnets, nil
}

//IsSpecialPurposeIP checks whether an IP address belongs to a loopback,
//private, link-local, multicast, or otherwise reserved range. Addresses in
//these ranges must never appear in an abuse report.
func IsSpecialPurposeIP(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return true
	}

	// cache IPv4 conversion so it is not performed in every ip.IsXXX method
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	return ContainsIP(specialPurposeBlocks, ip)
}

//ContainsIP checks if a collection of subnets contains an IP
func ContainsIP(subnets []*net.IPNet, ip net.IP) bool {
	// cache IPv4 conversion so it is not performed in every Contains call
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}

	for _, block := range subnets {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// IsIP returns true if string is a valid IP address
func IsIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
