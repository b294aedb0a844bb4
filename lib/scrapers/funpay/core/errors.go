package core

import (
	"errors"
	"fmt"
)

// The marketplace gives no stable contract, so failures are sorted
// into coarse categories: transport problems, anti-bot interstitials,
// missing/rotten credentials, markup drift and explicit server-side
// rejections. Callers branch on these with errors.Is/errors.As.
var (
	ErrNetwork         = errors.New("network failure")
	ErrBlocked         = errors.New("blocked by anti-bot challenge")
	ErrAuthRequired    = errors.New("not authenticated")
	ErrInvalidIdentity = errors.New("could not derive csrf token and user id")
	ErrExtraction      = errors.New("required field missing from page")
)

// ServerError carries the server's literal rejection message, which is
// surfaced verbatim to the user.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server rejected request: %s", e.Message)
}

// ValidationError reports user input missing a required field before
// anything is submitted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required field is empty: %s", e.Field)
}
