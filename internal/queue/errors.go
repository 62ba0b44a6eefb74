package queue

import "errors"

// StatusCoder is implemented by errors carrying an HTTP status code, such as
// the backend API client's error type.
type StatusCoder interface {
	StatusCode() int
}

// Retryable classifies an action failure. Rate-limit (429) and unavailable
// (503) responses are surfaced immediately: retrying into an active rate
// limit makes things worse, and the caller decides on a fallback. Other 4xx
// are permanent. Everything else, including timeouts and network errors, is
// transient.
func Retryable(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code == 429 || code == 503 {
			return false
		}
		return code >= 500
	}
	return true
}
