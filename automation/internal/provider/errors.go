package provider

import "fmt"

// ConfigError marks an area whose action config cannot be used. The area is
// skipped for the tick with a warning and no log row.
type ConfigError struct {
	AreaID string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider: area %s: invalid config: %s", e.AreaID, e.Reason)
}

func configErr(areaID, format string, args ...any) error {
	return &ConfigError{AreaID: areaID, Reason: fmt.Sprintf(format, args...)}
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	URL      string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: GET %s: HTTP %d %s", e.Provider, e.URL, e.Status, e.Body)
}

// AuthError is a provider rejecting a user's token. The poller revokes the
// account after logging the failure.
type AuthError struct {
	Provider string
	UserID   string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: token rejected for user %s: %v", e.Provider, e.UserID, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// FetchError wraps a failed group fetch.
type FetchError struct {
	Provider string
	Group    string
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %v", e.Provider, e.Group, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
