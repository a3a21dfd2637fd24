package broker

import "errors"

var (
	// ErrClosed is returned by operations on a closed client, cursor or bus.
	ErrClosed = errors.New("broker: closed")

	// ErrEmptyChannel is returned when a channel name is empty.
	ErrEmptyChannel = errors.New("broker: empty channel name")
)
