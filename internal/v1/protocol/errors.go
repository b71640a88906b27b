package protocol

import (
	"fmt"
	"time"
)

// Error codes. Grouped by taxonomy: authentication (1xxx), race domain (2xxx),
// test domain (3xxx), request/quota (4xxx), server (5xxx).
const (
	CodeAuthRequired       = 1001
	CodeAuthInvalid        = 1002
	CodeAuthForbidden      = 1003
	CodeTooManyConnections = 1004

	CodeRaceNotFound = 2001
	CodeRaceFull     = 2002
	CodeRaceStarted  = 2003
	CodeRaceFinished = 2004
	CodeNotInRace    = 2005

	CodeTestNotFound         = 3001
	CodeTestExpired          = 3002
	CodeTestCompleted        = 3003
	CodeNoWordlistsAvailable = 3004

	CodeRateLimited     = 4001
	CodeValidationError = 4002
	CodeSlowConsumer    = 4003

	CodeServerError = 5001
)

var kinds = map[int]string{
	CodeAuthRequired:         "AUTH_REQUIRED",
	CodeAuthInvalid:          "AUTH_INVALID",
	CodeAuthForbidden:        "AUTH_FORBIDDEN",
	CodeTooManyConnections:   "TOO_MANY_CONNECTIONS",
	CodeRaceNotFound:         "RACE_NOT_FOUND",
	CodeRaceFull:             "RACE_FULL",
	CodeRaceStarted:          "RACE_STARTED",
	CodeRaceFinished:         "RACE_FINISHED",
	CodeNotInRace:            "NOT_IN_RACE",
	CodeTestNotFound:         "TEST_NOT_FOUND",
	CodeTestExpired:          "TEST_EXPIRED",
	CodeTestCompleted:        "TEST_COMPLETED",
	CodeNoWordlistsAvailable: "NO_WORDLISTS_AVAILABLE",
	CodeRateLimited:          "RATE_LIMITED",
	CodeValidationError:      "VALIDATION_ERROR",
	CodeSlowConsumer:         "SLOW_CONSUMER",
	CodeServerError:          "SERVER_ERROR",
}

// DomainError is a client-visible error. The message is user-safe; internals
// never leak through it.
type DomainError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// NewError builds a DomainError for a known code.
func NewError(code int, message string) *DomainError {
	kind, ok := kinds[code]
	if !ok {
		kind = "SERVER_ERROR"
	}
	return &DomainError{Code: code, Kind: kind, Message: message}
}

// NewValidationError wraps a schema validation failure.
func NewValidationError(err error) *DomainError {
	return NewError(CodeValidationError, err.Error())
}

// NewRateLimited carries the retry hint the client backs off on.
func NewRateLimited(retryAfter time.Duration) *DomainError {
	e := NewError(CodeRateLimited, "rate limit exceeded")
	e.Details = map[string]int64{"retryAfterMs": retryAfter.Milliseconds()}
	return e
}

// ErrorPayload is the wire shape of the error envelope payload.
type ErrorPayload struct {
	Code      int       `json:"code"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage serializes a DomainError into an outbound error message.
func ErrorMessage(err *DomainError, now time.Time) (Message, error) {
	return Encode(EventError, ErrorPayload{
		Code:      err.Code,
		Kind:      err.Kind,
		Message:   err.Message,
		Details:   err.Details,
		Timestamp: now.UTC(),
	}, now)
}
