package netinfo

import (
	"net"
	"strings"
)

// systemVirtualPrefixes lists interface name prefixes that never represent a
// physical attachment.
var systemVirtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "tun", "tap", "utun", "vmnet", "wg",
}

// SystemProber derives the attachment from the kernel interface table. It
// reports the first up, non-loopback physical interface carrying an IPv4
// address as a wired attachment keyed by MAC. SSID resolution needs
// platform-specific tooling; the MAC still keys change detection, and the
// server performs its own network validation from the descriptor either way.
type SystemProber struct{}

// Current implements Prober.
func (SystemProber) Current() (Info, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return None(), err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 || isSystemVirtual(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil || !ipNet.IP.IsGlobalUnicast() {
				continue
			}
			return Ethernet(iface.HardwareAddr.String(), iface.Name), nil
		}
	}

	return None(), nil
}

func isSystemVirtual(name string) bool {
	for _, prefix := range systemVirtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
