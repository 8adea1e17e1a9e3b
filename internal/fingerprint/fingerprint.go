// Package fingerprint derives a stable identifier for this machine so the
// server can tie attendance submissions to a registered device.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
)

// Generate hashes the hostname together with the hardware addresses of all
// physical-looking interfaces. The result is stable across reboots as long as
// the machine keeps its name and NICs.
func Generate() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolve hostname: %w", err)
	}

	macs, err := hardwareAddresses()
	if err != nil {
		return "", err
	}
	if len(macs) == 0 {
		return "", fmt.Errorf("no hardware addresses available for fingerprinting")
	}

	h := sha256.New()
	h.Write([]byte(hostname))
	for _, mac := range macs {
		h.Write([]byte("|"))
		h.Write([]byte(mac))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hardwareAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || isVirtualInterface(iface.Name) {
			continue
		}
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs, nil
}

// isVirtualInterface filters out container and VPN adapters whose addresses
// churn between sessions.
func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "tun", "tap", "utun", "vmnet", "wg"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
