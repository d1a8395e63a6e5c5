package proto

import "errors"

var (
	ErrShortFrame     = errors.New("frame shorter than envelope size")
	ErrUnknownDevice  = errors.New("unknown device type")
	ErrUnknownPayload = errors.New("unknown payload type")
	ErrMessageTooLong = errors.New("message does not fit in envelope")
	ErrInvalidAddr    = errors.New("invalid peer address")
)
