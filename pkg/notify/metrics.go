package notify

import "time"

// Drop reasons reported to Metrics.Dropped.
const (
	DropUnknownType = "unknown_type"
	DropMalformed   = "malformed"
	DropNoHandler   = "no_handler"
)

// Metrics receives counters from publishers and subscribers.
// Implementations must be safe for concurrent use.
type Metrics interface {
	Published(t Type, receivers int64)
	PublishFailed(t Type)
	Received(t Type)
	Dropped(reason string)
	HandlerFailed(t Type)
	HandlerDuration(t Type, d time.Duration)
	ListenerRestarted()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Published(Type, int64)               {}
func (NopMetrics) PublishFailed(Type)                  {}
func (NopMetrics) Received(Type)                       {}
func (NopMetrics) Dropped(string)                      {}
func (NopMetrics) HandlerFailed(Type)                  {}
func (NopMetrics) HandlerDuration(Type, time.Duration) {}
func (NopMetrics) ListenerRestarted()                  {}
