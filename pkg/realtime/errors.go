package realtime

import "errors"

var (
	// ErrClientNotFound is returned for operations on an unknown or disconnected client.
	ErrClientNotFound = errors.New("realtime: client not found")

	// ErrEmptyTaskID is returned when subscribing without a task id.
	ErrEmptyTaskID = errors.New("realtime: task id is required")

	// ErrEmptyWebtoonID is returned when subscribing without a webtoon id.
	ErrEmptyWebtoonID = errors.New("realtime: webtoon id is required")

	// ErrManagerClosed is returned by Connect after Close.
	ErrManagerClosed = errors.New("realtime: manager is closed")

	// ErrSendQueueFull is returned when a client does not drain its outbound queue.
	ErrSendQueueFull = errors.New("realtime: client send queue is full")
)
