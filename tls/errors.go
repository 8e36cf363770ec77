package tls

import "fmt"

// ErrorKind classifies session failures.
type ErrorKind int

const (
	// KindDecode covers malformed record or message framing and
	// invalid lengths. Always fatal.
	KindDecode ErrorKind = iota
	// KindNegotiation covers unsupported versions or suites and
	// detected version rollback. Fatal.
	KindNegotiation
	// KindAuthentication covers MAC mismatch, Finished mismatch,
	// certificate validation failure and padding failure. Fatal, and
	// deliberately undifferentiated where telling sub-causes apart
	// would open a side channel.
	KindAuthentication
	// KindAllocation covers resource exhaustion while deriving keys or
	// building chains. Fatal for the session only.
	KindAllocation
	// KindTransport covers closure or reset of the underlying stream.
	KindTransport
)

// Error is a session failure with its TLS alert mapping. Every fatal
// condition tears down the session and is reported as one of these.
type Error struct {
	Kind    ErrorKind
	Alert   uint8
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tls: %s: %v", e.Message, e.Err)
	}
	return "tls: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AlertDescription returns the alert sent to the peer for this error.
func (e *Error) AlertDescription() uint8 {
	return e.Alert
}

// errBadRecordMAC is the single undifferentiated decryption failure.
// Padding inconsistencies and MAC mismatches must be indistinguishable
// to an observer, so both report exactly this value.
var errBadRecordMAC = &Error{
	Kind:    KindAuthentication,
	Alert:   alertBadRecordMAC,
	Message: "bad record MAC",
}

func decodeError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDecode, Alert: alertDecodeError, Message: fmt.Sprintf(format, args...)}
}

func unexpectedMessageError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDecode, Alert: alertUnexpectedMessage, Message: fmt.Sprintf(format, args...)}
}

func negotiationError(alert uint8, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNegotiation, Alert: alert, Message: fmt.Sprintf(format, args...)}
}

func authError(alert uint8, message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Alert: alert, Message: message, Err: err}
}

func allocationError(message string, err error) *Error {
	return &Error{Kind: KindAllocation, Alert: alertInternalError, Message: message, Err: err}
}

func transportError(message string, err error) *Error {
	return &Error{Kind: KindTransport, Alert: alertCloseNotify, Message: message, Err: err}
}

// AlertError is a fatal alert received from the peer.
type AlertError struct {
	Description uint8
}

func (e *AlertError) Error() string {
	return "tls: remote fatal alert: " + alertDescriptionString(e.Description)
}
