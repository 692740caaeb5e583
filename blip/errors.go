package blip

import (
	"errors"
	"fmt"
)

// ErrorCode is a BLIP response error code. Codes below 600 may appear on
// the wire in an ERR response's Error-Code property; codes at or above
// localErrorBase are internal to this implementation and never cross the
// wire.
type ErrorCode int

// Wire error codes surfaced on ERR responses, per spec §6.
const (
	ErrorCodeBadRequest     ErrorCode = 400
	ErrorCodeForbidden      ErrorCode = 403
	ErrorCodeNotFound       ErrorCode = 404
	ErrorCodeBadRange       ErrorCode = 416
	ErrorCodeHandlerFailed  ErrorCode = 501
	ErrorCodeUnspecified    ErrorCode = 599
)

// localErrorBase separates wire error codes from local-only codes below.
// Local codes are never encoded onto the wire; they only ever appear as
// the Code field of a BLIPError returned from local APIs.
const localErrorBase = 1000

// Local-only error codes, never sent on the wire (spec §6, "Internal
// local errors").
const (
	ErrorCodeBadData       ErrorCode = localErrorBase + iota // malformed property block, bad varint, etc.
	ErrorCodeBadFrame                                        // malformed frame header, unknown message number
	ErrorCodeDisconnected                                    // transport closed before a response completed
	ErrorCodePeerNotAllowed                                  // peer authentication rejected
	ErrorCodeMisc                                            // catch-all, mirrors the reference implementation's code 99
)

// BLIPError is the error type used throughout this package: both wire-level
// ERR responses (Domain == "BLIP") and local/internal failures.
type BLIPError struct {
	Domain  string // e.g. "BLIP" or "HTTP"; empty for purely local errors
	Code    ErrorCode
	Message string
}

func (e *BLIPError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("blip: %s/%d: %s", e.Domain, e.Code, e.Message)
	}
	return fmt.Sprintf("blip: %d: %s", e.Code, e.Message)
}

// NewBLIPError constructs a wire-domain BLIPError.
func NewBLIPError(code ErrorCode, message string) *BLIPError {
	return &BLIPError{Domain: "BLIP", Code: code, Message: message}
}

func localError(code ErrorCode, message string) *BLIPError {
	return &BLIPError{Code: code, Message: message}
}

// Sentinel local errors, for use with errors.Is.
var (
	ErrBadData       = localError(ErrorCodeBadData, "malformed BLIP data")
	ErrBadFrame      = localError(ErrorCodeBadFrame, "malformed or out-of-sequence BLIP frame")
	ErrDisconnected  = localError(ErrorCodeDisconnected, "connection closed")
	ErrPeerNotAllowed = localError(ErrorCodePeerNotAllowed, "peer not allowed")
	ErrMisc          = localError(ErrorCodeMisc, "miscellaneous BLIP error")
)

// Is allows errors.Is(err, ErrBadFrame) etc. to match any BLIPError with
// the same Code, regardless of Message.
func (e *BLIPError) Is(target error) bool {
	var t *BLIPError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Programming errors: returned synchronously to the caller, never close
// the connection (spec §7).
var (
	// ErrAlreadySent is returned when a message already enqueued is queued again.
	ErrAlreadySent = errors.New("blip: message already sent")
	// ErrFrozen is returned when SetBody/SetProperties/SetFlag is called
	// after Encode (can_write is false).
	ErrFrozen = errors.New("blip: message is frozen, cannot be modified after Encode")
	// ErrNumberAlreadyAssigned is returned if a message number is assigned twice.
	ErrNumberAlreadyAssigned = errors.New("blip: message number already assigned")
	// ErrNoReplyExpected is returned by Request.Response() for a NoReply request.
	ErrNoReplyExpected = errors.New("blip: request has NoReply set, no response was allocated")
	// ErrConnectionClosed is returned by SendRequest after Close.
	ErrConnectionClosed = errors.New("blip: connection is closed")
	// ErrInvalidFlag is returned by SetFlag for any bit outside Urgent,
	// NoReply, and Compressed — the only flags callers may toggle.
	ErrInvalidFlag = errors.New("blip: SetFlag only accepts Urgent, NoReply, or Compressed")
)
