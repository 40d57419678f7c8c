// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates NCBI kept throttling after all retries.
	ErrRateLimited = errors.New("pubmed: rate limit exceeded")

	// ErrInvalidResponse indicates a response body that could not be decoded.
	ErrInvalidResponse = errors.New("pubmed: invalid response")
)

// APIError is a non-success HTTP status from E-utilities.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pubmed %s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a throttling failure.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
