package alarm

import "errors"

var (
	ErrInvalidArguments    = errors.New("alarm: pattern, handler and action are required")
	ErrMalformedDefinition = errors.New("alarm: malformed definition")
	ErrUnknownKind         = errors.New("alarm: unknown kind")
	ErrInvalidPattern      = errors.New("alarm: invalid pattern")
	ErrNotPolled           = errors.New("alarm: boot-relative alarms are not polled")
	ErrHandlerNotFound     = errors.New("alarm: handler not found")
	ErrHandlerLoad         = errors.New("alarm: handler failed to load")
	ErrActionNotFound      = errors.New("alarm: action not found on handler")
	ErrPastOccurrence      = errors.New("alarm: occurrence is in the past")
	ErrNotFound            = errors.New("alarm: not found")
)
