package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// NotificationType records the notification type under the key "notification_type".
func NotificationType(t string) slog.Attr {
	return slog.String("notification_type", t)
}

// Channel records a broker channel name under the key "channel".
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Channels records a list of broker channels under the key "channels".
func Channels(names []string) slog.Attr {
	return slog.Any("channels", names)
}

// TaskID records the background task identifier under the key "task_id".
// Empty ids produce an empty Attr.
func TaskID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("task_id", id)
}

// WebtoonID records the webtoon identifier under the key "webtoon_id".
// Empty ids produce an empty Attr.
func WebtoonID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("webtoon_id", id)
}

// ClientID records a realtime client identifier under the key "client_id".
func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

// Receivers records how many broker subscribers received a message.
func Receivers(n int64) slog.Attr {
	return slog.Int64("receivers", n)
}

// Field records a payload field name under the key "field".
func Field(name string) slog.Attr {
	return slog.String("field", name)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Handler records the handler name under the key "handler".
func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}
