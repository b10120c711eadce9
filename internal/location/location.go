// Package location resolves callers and free-text queries to places.
package location

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrLookupFailed wraps every resolver failure: unreachable, non-2xx, undecodable or unplaceable.
	ErrLookupFailed = errors.New("location lookup failed")
	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("search query is empty")
)

const defaultTimeout = 10 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
