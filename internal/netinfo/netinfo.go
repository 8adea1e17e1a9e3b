// Package netinfo models the machine's current network attachment.
//
// The OS-specific adapter scraping lives behind the Prober interface; the
// rest of the daemon only sees the Info variant.
package netinfo

import "fmt"

// Kind discriminates the Info variant.
type Kind string

const (
	KindNone     Kind = "none"
	KindWifi     Kind = "wifi"
	KindEthernet Kind = "ethernet"
)

// Info is a tagged variant describing the current network attachment.
// It is a best-effort hint, not an identity: the server performs its own
// network validation.
type Info struct {
	Kind Kind `json:"kind"`

	// Wifi fields
	SSID  string `json:"ssid,omitempty"`
	BSSID string `json:"bssid,omitempty"`

	// Ethernet fields
	MAC         string `json:"mac,omitempty"`
	AdapterName string `json:"adapter_name,omitempty"`
}

// None returns the no-network variant.
func None() Info {
	return Info{Kind: KindNone}
}

// Wifi returns a Wi-Fi attachment descriptor.
func Wifi(ssid, bssid string) Info {
	return Info{Kind: KindWifi, SSID: ssid, BSSID: bssid}
}

// Ethernet returns a wired attachment descriptor.
func Ethernet(mac, adapterName string) Info {
	return Info{Kind: KindEthernet, MAC: mac, AdapterName: adapterName}
}

// IsNone reports whether no network attachment is present.
func (i Info) IsNone() bool {
	return i.Kind == KindNone || i.Kind == ""
}

// Equal reports whether two attachments describe the same network.
func (i Info) Equal(other Info) bool {
	if i.Kind != other.Kind {
		return false
	}
	switch i.Kind {
	case KindWifi:
		return i.SSID == other.SSID && i.BSSID == other.BSSID
	case KindEthernet:
		return i.MAC == other.MAC
	default:
		return true
	}
}

// String returns a compact descriptor for logging.
func (i Info) String() string {
	switch i.Kind {
	case KindWifi:
		return fmt.Sprintf("wifi:%s", i.SSID)
	case KindEthernet:
		return fmt.Sprintf("ethernet:%s", i.MAC)
	default:
		return "none"
	}
}

// Prober resolves the current network attachment synchronously.
// Implementations wrap OS-specific adapter queries.
type Prober interface {
	Current() (Info, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func() (Info, error)

func (f ProberFunc) Current() (Info, error) { return f() }
