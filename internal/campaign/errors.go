package campaign

import "errors"

var (
	ErrBlocked         = errors.New("contact is blocked")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDisconnected    = errors.New("transport disconnected")
)
