package apperrors

import "errors"

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrEventNotFound    = errors.New("event not found")
	ErrStateKeyNotFound = errors.New("state key not found")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrUpstream         = errors.New("upstream api error")
)
