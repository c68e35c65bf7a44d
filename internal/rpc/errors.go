package rpc

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by clients and the login sequence.
var (
	ErrThrottled          = errors.New("server is throttling")
	ErrHashingOffline     = errors.New("hashing server is offline")
	ErrHashingTimeout     = errors.New("hashing server timed out")
	ErrAuth               = errors.New("authentication failed")
	ErrBanned             = errors.New("account is banned")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrLoginSequence      = errors.New("login sequence failed")
)

// QuotaExceededError means the hashing quota ran out until ResetAt.
type QuotaExceededError struct {
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("hashing quota exceeded until %s", e.ResetAt.Format(time.RFC3339))
}

// Permanent reports whether retrying err cannot help. Cancellation is
// judged by the caller's context, not by the error.
func Permanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrBanned)
}
