package service

import "errors"

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrElevatedAccess       = errors.New("elevated access required")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrNotificationFailed   = errors.New("notification failed")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTooManyRequests      = errors.New("too many requests")
	ErrAccountExists        = errors.New("account already exists")
	ErrNotFound             = errors.New("not found")
	ErrRoleImmutable        = errors.New("role cannot be changed")
)

// Error carries a caller-facing message on top of one of the sentinels above.
// errors.Is matches the sentinel.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Kind.Error() + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Message returns the caller-facing message of err, or "" when err carries none.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
