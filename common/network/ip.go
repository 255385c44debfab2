// Package network validates the CIDR allowlists used to fence admin routes.
package network

import (
	"net"
	"strings"

	"github.com/Laisky/errors/v2"
)

func splitSubnets(subnets string) []string {
	parts := strings.Split(subnets, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// IsValidSubnets checks that every entry in a comma separated CIDR list
// parses. Meant for config validation at startup.
func IsValidSubnets(subnets string) error {
	for _, subnet := range splitSubnets(subnets) {
		if _, _, err := net.ParseCIDR(subnet); err != nil {
			return errors.Wrapf(err, "invalid subnet %q", subnet)
		}
	}
	return nil
}

// IsIpInSubnets reports whether ip falls inside any entry of a comma
// separated CIDR list. Unparseable entries never match.
func IsIpInSubnets(ip string, subnets string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, subnet := range splitSubnets(subnets) {
		_, ipNet, err := net.ParseCIDR(subnet)
		if err != nil {
			continue
		}
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
