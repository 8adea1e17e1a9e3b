package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyAttemptID  = "attempt_id"
	KeyTrigger    = "trigger"
	KeyIntent     = "intent"
	KeyReason     = "reason"
	KeyErrorCode  = "error_code"
	KeyErrorType  = "error_type"
	KeyStatus     = "status"
	KeyNetwork    = "network"
	KeyDurationMS = "duration_ms"
	KeyJobID      = "job_id"
	KeyPort       = "port"
	KeyIPAddress  = "ip_address"
	KeyURL        = "url"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyRetry      = "retry"
	KeyUserID     = "user_id"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func AttemptID(id string) slog.Attr   { return slog.String(KeyAttemptID, id) }
func Trigger(t string) slog.Attr      { return slog.String(KeyTrigger, t) }
func Intent(i string) slog.Attr       { return slog.String(KeyIntent, i) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func ErrorCode(c string) slog.Attr    { return slog.String(KeyErrorCode, c) }
func ErrorType(t string) slog.Attr    { return slog.String(KeyErrorType, t) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Network(n string) slog.Attr      { return slog.String(KeyNetwork, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Port(p int) slog.Attr            { return slog.Int(KeyPort, p) }
func IPAddress(ip string) slog.Attr   { return slog.String(KeyIPAddress, ip) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Retry(n int) slog.Attr           { return slog.Int(KeyRetry, n) }
func UserID(id string) slog.Attr      { return slog.String(KeyUserID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
