package aep

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for every non-2xx answer of the platform or IMS
type Error struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("AEP API error: %s", e.Status)
}

// StatusCode returns the HTTP status of an *Error in err's chain, or 0
func StatusCode(err error) int {
	var aepErr *Error
	if errors.As(err, &aepErr) {
		return aepErr.StatusCode
	}
	return 0
}

// IsNotFound returns true if err is a platform 404
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// TokenError wraps failures of the IMS token exchange
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token request failed: %s", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// IsTokenError returns true if err happened while acquiring an access token
func IsTokenError(err error) bool {
	var tokenErr *TokenError
	return errors.As(err, &tokenErr)
}
