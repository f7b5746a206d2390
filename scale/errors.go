package scale

import "errors"

var (
	// ErrDeviceUnavailable indicates the serial device could not be opened
	// or its handle was lost.
	ErrDeviceUnavailable = errors.New("scale: device unavailable")

	// ErrNoData indicates a bounded wait elapsed without a decodable
	// reading. An idle indicator produces this during normal operation.
	ErrNoData = errors.New("scale: no data")

	// ErrParseFailure indicates bytes arrived within the wait but no token
	// decoded into a reading. The wrapped message carries the raw token.
	ErrParseFailure = errors.New("scale: reading parse failure")

	// ErrConsecutiveFailures indicates the session hit the consecutive
	// device-error threshold and was handed to recovery.
	ErrConsecutiveFailures = errors.New("scale: consecutive read failures")

	// ErrSessionClosed indicates an operation on a session after Close.
	ErrSessionClosed = errors.New("scale: session closed")

	// ErrRecoveryInProgress indicates a recovery attempt was skipped
	// because another one is still running.
	ErrRecoveryInProgress = errors.New("scale: recovery already in progress")
)
