// Package api is the client for the remote attendance backend. It is treated
// as a black box returning status codes and JSON; all decision logic lives in
// internal/attendance.
package api

import (
	"time"

	"git.home.luguber.info/inful/presenced/internal/netinfo"
)

// AttendanceStatus is owned by the remote server. The orchestrator re-fetches
// it before every decision and never caches it across attempts.
type AttendanceStatus string

const (
	StatusNotStarted AttendanceStatus = "not_started"
	StatusCheckedIn  AttendanceStatus = "checked_in"
	StatusCheckedOut AttendanceStatus = "checked_out"
)

// StatusResponse is the GET status payload.
type StatusResponse struct {
	Status       AttendanceStatus `json:"status"`
	AttendanceID string           `json:"attendance_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	CheckInTime  *time.Time       `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time       `json:"check_out_time,omitempty"`
}

// WifiDescriptor mirrors the server's Wi-Fi network shape.
type WifiDescriptor struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid,omitempty"`
}

// EthernetDescriptor mirrors the server's wired network shape.
type EthernetDescriptor struct {
	MAC         string `json:"mac"`
	AdapterName string `json:"adapter_name,omitempty"`
}

// CheckInRequest is the POST check-in payload.
type CheckInRequest struct {
	Source            string              `json:"source"`
	Wifi              *WifiDescriptor     `json:"wifi,omitempty"`
	Ethernet          *EthernetDescriptor `json:"ethernet,omitempty"`
	SystemFingerprint string              `json:"system_fingerprint,omitempty"`
}

// CheckInResponse is the POST check-in reply.
type CheckInResponse struct {
	AttendanceID string    `json:"attendance_id"`
	CheckInTime  time.Time `json:"check_in_time"`
}

// CheckOutRequest is the POST check-out payload. CheckOutTime is only set for
// recovery check-outs, which must report the original event time.
type CheckOutRequest struct {
	Source            string              `json:"source"`
	Wifi              *WifiDescriptor     `json:"wifi,omitempty"`
	Ethernet          *EthernetDescriptor `json:"ethernet,omitempty"`
	SystemFingerprint string              `json:"system_fingerprint,omitempty"`
	CheckOutTime      *time.Time          `json:"check_out_time,omitempty"`
}

// CheckOutResponse is the POST check-out reply.
type CheckOutResponse struct {
	AttendanceID string    `json:"attendance_id"`
	CheckOutTime time.Time `json:"check_out_time"`
}

// NetworkValidateRequest is the POST network/validate payload.
type NetworkValidateRequest struct {
	Wifi     *WifiDescriptor     `json:"wifi,omitempty"`
	Ethernet *EthernetDescriptor `json:"ethernet,omitempty"`
}

// NetworkValidateResponse is the POST network/validate reply.
type NetworkValidateResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ProxyRegisterRequest is the POST proxy/register payload.
type ProxyRegisterRequest struct {
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	DeviceName string `json:"device_name"`
}

// RefreshRequest is the POST auth/refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is the POST auth/refresh reply.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// NetworkDescriptors converts an attachment into the request field pair.
func NetworkDescriptors(info netinfo.Info) (*WifiDescriptor, *EthernetDescriptor) {
	switch info.Kind {
	case netinfo.KindWifi:
		return &WifiDescriptor{SSID: info.SSID, BSSID: info.BSSID}, nil
	case netinfo.KindEthernet:
		return nil, &EthernetDescriptor{MAC: info.MAC, AdapterName: info.AdapterName}
	default:
		return nil, nil
	}
}
