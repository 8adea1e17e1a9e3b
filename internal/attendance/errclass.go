package attendance

import (
	"context"
	"errors"
	"strings"

	"git.home.luguber.info/inful/presenced/internal/api"
)

// ErrorType is the coarse taxonomy every attempt failure maps into. It drives
// the propagation policy: validation and network failures are surfaced to the
// user, authentication failures are logged only, system failures get a
// generic message.
type ErrorType string

const (
	ErrTypeValidation     ErrorType = "validation"
	ErrTypeNetwork        ErrorType = "network"
	ErrTypeAuthentication ErrorType = "authentication"
	ErrTypeSystem         ErrorType = "system"
)

// Code identifies a specific failure.
type Code string

const (
	CodeTooEarly            Code = "too_early"
	CodeTooLate             Code = "too_late"
	CodeNoShift             Code = "no_shift"
	CodeShiftInactive       Code = "shift_inactive"
	CodeDayNotAllowed       Code = "day_not_allowed"
	CodeHolidayNotAllowed   Code = "holiday_not_allowed"
	CodeAlreadyCheckedIn    Code = "already_checked_in"
	CodeAlreadyCheckedOut   Code = "already_checked_out"
	CodeInvalidStatus       Code = "invalid_status"
	CodeNetworkNotApproved  Code = "network_not_approved"
	CodeNoNetwork           Code = "no_network"
	CodeFingerprintRequired Code = "fingerprint_required"
	CodeSessionExpired      Code = "session_expired"
	CodeUnknown             Code = "unknown"
)

// Classification is the resolved taxonomy entry for one failure.
type Classification struct {
	Code    Code
	Type    ErrorType
	Message string
}

// classTable is the fixed code → category → user sentence lookup.
var classTable = map[Code]Classification{
	CodeTooEarly:            {CodeTooEarly, ErrTypeValidation, "Check-in is not open yet for your shift."},
	CodeTooLate:             {CodeTooLate, ErrTypeValidation, "The check-in window for your shift has closed."},
	CodeNoShift:             {CodeNoShift, ErrTypeValidation, "No shift is scheduled for you today."},
	CodeShiftInactive:       {CodeShiftInactive, ErrTypeValidation, "Your shift is not active right now."},
	CodeDayNotAllowed:       {CodeDayNotAllowed, ErrTypeValidation, "Attendance is not enabled for this day."},
	CodeHolidayNotAllowed:   {CodeHolidayNotAllowed, ErrTypeValidation, "Attendance is not recorded on holidays."},
	CodeAlreadyCheckedIn:    {CodeAlreadyCheckedIn, ErrTypeValidation, "You are already checked in."},
	CodeAlreadyCheckedOut:   {CodeAlreadyCheckedOut, ErrTypeValidation, "You are already checked out."},
	CodeInvalidStatus:       {CodeInvalidStatus, ErrTypeValidation, "Your attendance status does not allow this action."},
	CodeNetworkNotApproved:  {CodeNetworkNotApproved, ErrTypeNetwork, "This network is not approved for attendance."},
	CodeNoNetwork:           {CodeNoNetwork, ErrTypeNetwork, "No network connection is available."},
	CodeFingerprintRequired: {CodeFingerprintRequired, ErrTypeSystem, "This device could not be identified. Try again or contact support."},
	CodeSessionExpired:      {CodeSessionExpired, ErrTypeAuthentication, ""},
	CodeUnknown:             {CodeUnknown, ErrTypeSystem, "Something went wrong. Try again or contact support."},
}

// Lookup resolves a known code to its classification.
func Lookup(code Code) (Classification, bool) {
	c, ok := classTable[code]
	return c, ok
}

// Classify maps an attempt failure into the taxonomy. Explicit server codes
// win; when the server only returns prose the message is sniffed. Transport
// failures are network errors.
func Classify(err error) Classification {
	var se *api.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == 401 {
			return classTable[CodeSessionExpired]
		}
		if c, ok := classTable[Code(se.Code)]; ok {
			return c
		}
		return sniff(se.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return classTable[CodeNoNetwork]
	}

	// Anything that never produced a status code is a transport failure.
	return Classification{Code: CodeNoNetwork, Type: ErrTypeNetwork, Message: classTable[CodeNoNetwork].Message}
}

// sniff infers a code from the server's prose. Fragile by nature: a wording
// change on the server silently degrades classification to unknown, which is
// why explicit codes are preferred when present. Checks run in a fixed
// priority order so overlapping phrases resolve deterministically.
func sniff(message string) Classification {
	m := strings.ToLower(message)

	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(m, s) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("unauthorized", "token", "session expired", "not authenticated", "login"):
		return classTable[CodeSessionExpired]
	case contains("already checked in"):
		return classTable[CodeAlreadyCheckedIn]
	case contains("already checked out"):
		return classTable[CodeAlreadyCheckedOut]
	case contains("too early", "not open yet", "before your shift"):
		return classTable[CodeTooEarly]
	case contains("too late", "window has closed", "window closed"):
		return classTable[CodeTooLate]
	case contains("no shift"):
		return classTable[CodeNoShift]
	case contains("shift is not active", "shift inactive"):
		return classTable[CodeShiftInactive]
	case contains("holiday"):
		return classTable[CodeHolidayNotAllowed]
	case contains("day not allowed", "not enabled for this day"):
		return classTable[CodeDayNotAllowed]
	case contains("network is not approved", "network not approved", "unapproved network"):
		return classTable[CodeNetworkNotApproved]
	case contains("fingerprint"):
		return classTable[CodeFingerprintRequired]
	default:
		return classTable[CodeUnknown]
	}
}

// GoalAlreadyAchieved reports whether a check-out failure means no check-out
// is actually owed. These are races with a concurrent external change, not
// defects, and must clear any pending-checkout flag.
func GoalAlreadyAchieved(c Classification) bool {
	return c.Code == CodeAlreadyCheckedOut || c.Code == CodeInvalidStatus
}
