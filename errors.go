package liveblocks

// Package-level error kinds, one per spec.md §7 category. Every
// fallible call returns error; nothing in this package panics for
// values under the caller's control, the way kestfor-in-memorydb's
// pkg/config/errors.go and pkg/crdt/errors.go prefer typed sentinel
// errors over exceptions.

// ConfigurationError reports invalid ClientOptions, surfaced
// synchronously from NewClient (spec.md §7 "Configuration").
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// AuthenticationError reports a failed token exchange (spec.md §7
// "Authentication"). Permanent distinguishes a 401/403-style rejection
// (moves the room to failed) from a transient one (retried with
// backoff).
type AuthenticationError struct {
	Message   string
	Permanent bool
}

func (e *AuthenticationError) Error() string { return e.Message }

// LogEvent is what gets reported through ClientOptions.Logger instead
// of the library reaching for its own logging package (spec.md §1
// scopes logging as an external collaborator; see SPEC_FULL.md
// "Ambient stack").
type LogEvent struct {
	Level string // "info", "warn", "error"
	Room  string
	Message string
	Err   error
}

func logf(logger func(LogEvent), room, level, message string, err error) {
	if logger == nil {
		return
	}
	logger(LogEvent{Level: level, Room: room, Message: message, Err: err})
}
