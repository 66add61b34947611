package api

import (
	"errors"
	"fmt"
)

// Class buckets a Bybit v5 retCode into the handful of outcomes the rest of
// the program cares about.
type Class int

const (
	ClassOK Class = iota
	// ClassNotModified covers the "state unchanged" acknowledgements
	// (110043, 34040). Treated as success with a warning, never an error.
	ClassNotModified
	// ClassRetryable covers rate limits and transient server errors worth a
	// bounded backoff-retry.
	ClassRetryable
	ClassInvalidParams
	ClassAuth
	ClassInsufficientMargin
	ClassUnknown
)

var classNames = map[Class]string{
	ClassOK:                 "ok",
	ClassNotModified:        "not_modified",
	ClassRetryable:          "retryable",
	ClassInvalidParams:      "invalid_params",
	ClassAuth:               "auth",
	ClassInsufficientMargin: "insufficient_margin",
	ClassUnknown:            "unknown",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "unknown"
}

var (
	notModifiedCodes = map[int]bool{
		110043: true, // set has not been modified
		34040:  true, // not modified
	}
	retryableCodes = map[int]bool{
		10006:  true, // too many visits (rate limit)
		10016:  true, // server error
		170007: true, // backend timeout
		148019: true, // system busy
		170146: true, // order creation timeout
		170147: true, // order cancellation timeout
	}
	invalidParamCodes = map[int]bool{
		10001: true, // request parameter error
		10002: true, // request time outside recv window
	}
	authCodes = map[int]bool{
		10003: true, // invalid API key
		10004: true, // bad signature
		10005: true, // permission denied
		10007: true, // authentication failed
		10009: true, // IP banned
		10010: true, // unmatched IP
	}
	insufficientMarginCodes = map[int]bool{
		110012: true,
		110014: true,
		110044: true,
		110045: true,
		110052: true,
	}
)

// Classify maps a Bybit retCode to its outcome class.
func Classify(retCode int) Class {
	switch {
	case retCode == 0:
		return ClassOK
	case notModifiedCodes[retCode]:
		return ClassNotModified
	case retryableCodes[retCode]:
		return ClassRetryable
	case invalidParamCodes[retCode]:
		return ClassInvalidParams
	case authCodes[retCode]:
		return ClassAuth
	case insufficientMarginCodes[retCode]:
		return ClassInsufficientMargin
	default:
		return ClassUnknown
	}
}

// VenueError is a classified Bybit error carrying the venue's code and
// message plus the endpoint that produced it.
type VenueError struct {
	Code     int
	Msg      string
	Endpoint string
	Class    Class
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("bybit %s: retCode=%d retMsg=%q endpoint=%s", e.Class, e.Code, e.Msg, e.Endpoint)
}

// Retryable reports whether a bounded backoff-retry makes sense.
func (e *VenueError) Retryable() bool {
	return e.Class == ClassRetryable
}

// newVenueError builds the classified error for a non-success retCode.
func newVenueError(retCode int, retMsg, endpoint string) *VenueError {
	return &VenueError{
		Code:     retCode,
		Msg:      retMsg,
		Endpoint: endpoint,
		Class:    Classify(retCode),
	}
}

// IsRetryable reports whether err is a venue error worth retrying.
func IsRetryable(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Retryable()
}

// ErrorClass extracts the venue classification from err, ClassUnknown when it
// is not a venue error at all.
func ErrorClass(err error) Class {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Class
	}
	return ClassUnknown
}
