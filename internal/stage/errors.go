package stage

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure so callers can react to the category
// without parsing message text.
type Kind int

const (
	// KindStage covers umbrella failures such as a missing device link.
	KindStage Kind = iota
	// KindLink is a transport-level read/write failure.
	KindLink
	// KindController means the motion controller explicitly reported an error.
	KindController
	// KindTimeout is an acknowledgement, status, or idle-wait deadline miss.
	KindTimeout
	// KindCalibration marks an unusable calibration measurement.
	KindCalibration
)

func (k Kind) String() string {
	switch k {
	case KindLink:
		return "link"
	case KindController:
		return "controller"
	case KindTimeout:
		return "timeout"
	case KindCalibration:
		return "calibration"
	default:
		return "stage"
	}
}

// Error is the closed failure type used throughout the stage package.
// The message is user-presentable; it is surfaced verbatim through the
// MovementFinished notification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure category from err. The second return is false
// when err did not originate from this package.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindStage, false
}

func errStagef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStage, Msg: fmt.Sprintf(format, args...)}
}

func errLink(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindLink, Msg: fmt.Sprintf(format, args...), Err: err}
}

func errControllerf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindController, Msg: fmt.Sprintf(format, args...)}
}

func errTimeoutf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

func errCalibrationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindCalibration, Msg: fmt.Sprintf(format, args...)}
}
