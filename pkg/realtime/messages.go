package realtime

import "time"

// Outbound message types.
const (
	MessageConnectionEstablished   = "connection_established"
	MessagePong                    = "pong"
	MessageSubscriptionConfirmed   = "subscription_confirmed"
	MessageUnsubscriptionConfirmed = "unsubscription_confirmed"
	MessageStatus                  = "status"
	MessageError                   = "error"
	MessageTaskUpdate              = "task_update"
	MessageWebtoonUpdated          = "webtoon_updated"
)

// Inbound message types.
const (
	MessagePing               = "ping"
	MessageSubscribeTask      = "subscribe_task"
	MessageUnsubscribe        = "unsubscribe_task"
	MessageSubscribeWebtoon   = "subscribe_webtoon"
	MessageUnsubscribeWebtoon = "unsubscribe_webtoon"
	MessageGetStatus          = "get_status"
)

// Resource types named by subscription acknowledgements.
const (
	ResourceTask    = "task"
	ResourceWebtoon = "webtoon"
)

// Task statuses carried by task_update messages.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// inbound is a message sent by a WebSocket client.
type inbound struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	WebtoonID string `json:"webtoon_id"`
}

type connectionEstablished struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type pong struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type resourceAck struct {
	Type         string `json:"type"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	TaskID       string `json:"task_id,omitempty"`
	WebtoonID    string `json:"webtoon_id,omitempty"`
}

type status struct {
	Type                 string   `json:"type"`
	ClientID             string   `json:"client_id"`
	Subscriptions        []string `json:"subscriptions"`
	WebtoonSubscriptions []string `json:"webtoon_subscriptions"`
	Connections          int      `json:"connections"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type progressUpdate struct {
	Type               string  `json:"type"`
	TaskID             string  `json:"task_id"`
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentOperation   string  `json:"current_operation"`
	Timestamp          string  `json:"timestamp"`
}

type completedUpdate struct {
	Type       string         `json:"type"`
	TaskID     string         `json:"task_id"`
	Status     string         `json:"status"`
	WebtoonID  *string        `json:"webtoon_id"`
	ResultData map[string]any `json:"result_data"`
	Timestamp  string         `json:"timestamp"`
}

type failedUpdate struct {
	Type         string `json:"type"`
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Timestamp    string `json:"timestamp"`
}

type webtoonUpdate struct {
	Type        string `json:"type"`
	TaskID      string `json:"task_id"`
	WebtoonID   string `json:"webtoon_id"`
	HTMLContent string `json:"html_content"`
	Timestamp   string `json:"timestamp"`
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
