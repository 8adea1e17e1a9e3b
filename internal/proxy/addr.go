package proxy

import (
	"fmt"
	"net"
)

// FirstNonLoopbackIPv4 resolves the address the relay advertises to the
// server. First match in interface enumeration order wins; when several
// interfaces qualify (VPN plus LAN) the choice is arbitrary, a known
// simplification rather than a guarantee of the "best" interface.
func FirstNonLoopbackIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
