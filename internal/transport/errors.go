package transport

import "errors"

var (
	ErrUnexpectedReply   = errors.New("unexpected reply from receiver")
	ErrMalformedDatagram = errors.New("malformed datagram")
)
