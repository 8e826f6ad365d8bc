package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrNotFound means a single message no longer exists remotely. An
	// implicit deletion signal, never a hard failure.
	ErrNotFound = errors.New("gmail: message not found")
	// ErrHistoryExpired means the start history id fell outside the
	// remote retention window; the cursor must be reseeded.
	ErrHistoryExpired = errors.New("gmail: start history id no longer available")
	// ErrAuth means the stored credential was rejected.
	ErrAuth = errors.New("gmail: credential rejected")
	// ErrRateLimited means the remote is throttling; retry with backoff.
	ErrRateLimited = errors.New("gmail: rate limited")
)

type callKind int

const (
	callList callKind = iota
	callGetMessage
	callListHistory
	callGetProfile
)

// classify maps a remote API error onto the engine's taxonomy. A 404
// means different things depending on the call: from the history
// listing it signals an expired start history id, from a message fetch
// it is an ordinary per-message not-found.
func classify(err error, kind callKind) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Connectivity, DNS, timeouts: left unwrapped, retryable.
		return err
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case http.StatusNotFound, http.StatusGone:
		if kind == callListHistory {
			return fmt.Errorf("%w: %v", ErrHistoryExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// IsTransient reports whether an error is worth retrying with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrHistoryExpired) || errors.Is(err, ErrNotFound) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 500
	}
	// Plain network errors (timeouts, resets) are retryable.
	return true
}
