package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is implemented by the four notification variants only.
type Payload interface {
	NotificationType() Type
	sealed()
}

// TaskProgress reports how far a background task has got.
type TaskProgress struct {
	TaskID   string  `json:"task_id"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// WebtoonUpdated carries freshly rendered webtoon HTML.
type WebtoonUpdated struct {
	TaskID      string `json:"task_id"`
	WebtoonID   string `json:"webtoon_id"`
	HTMLContent string `json:"html_content"`
}

// TaskCompleted carries a task result. WebtoonID is optional.
type TaskCompleted struct {
	TaskID    string         `json:"task_id"`
	Result    map[string]any `json:"result"`
	WebtoonID *string        `json:"webtoon_id"`
}

// TaskFailed carries the error message of a failed task.
type TaskFailed struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (TaskProgress) NotificationType() Type   { return TypeTaskProgress }
func (WebtoonUpdated) NotificationType() Type { return TypeWebtoonUpdated }
func (TaskCompleted) NotificationType() Type  { return TypeTaskCompleted }
func (TaskFailed) NotificationType() Type     { return TypeTaskFailed }

func (TaskProgress) sealed()   {}
func (WebtoonUpdated) sealed() {}
func (TaskCompleted) sealed()  {}
func (TaskFailed) sealed()     {}

var requiredFields = map[Type][]string{
	TypeTaskProgress:   {"task_id", "progress", "message"},
	TypeWebtoonUpdated: {"task_id", "webtoon_id", "html_content"},
	TypeTaskCompleted:  {"task_id", "result"},
	TypeTaskFailed:     {"task_id", "error"},
}

// RequiredFields lists the JSON keys a payload of type t must carry, in declaration order.
func RequiredFields(t Type) []string {
	fields := requiredFields[t]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// DecodePayload validates raw against the required fields of t and decodes it
// into the matching variant. A missing key yields a *MissingFieldError naming
// the first one absent.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	for _, name := range requiredFields[t] {
		if _, ok := fields[name]; !ok {
			return nil, &MissingFieldError{Type: t, Field: name}
		}
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TypeTaskProgress:
		var v TaskProgress
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeWebtoonUpdated:
		var v WebtoonUpdated
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeTaskCompleted:
		var v TaskCompleted
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeTaskFailed:
		var v TaskFailed
		err = json.Unmarshal(raw, &v)
		p = v
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	return p, nil
}

// Decode is DecodePayload for callers that know the variant they expect.
// P must be one of the concrete variants.
func Decode[P Payload](raw json.RawMessage) (P, error) {
	var zero P
	p, err := DecodePayload(zero.NotificationType(), raw)
	if err != nil {
		return zero, err
	}
	return p.(P), nil
}
