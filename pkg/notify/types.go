package notify

import (
	"fmt"
	"slices"
)

// Type is a notification kind. Its value doubles as the broker channel name.
type Type string

const (
	TypeWebtoonUpdated Type = "sketchdojo:webtoon_updated"
	TypeTaskProgress   Type = "sketchdojo:task_progress"
	TypeTaskCompleted  Type = "sketchdojo:task_completed"
	TypeTaskFailed     Type = "sketchdojo:task_failed"
)

var allTypes = []Type{
	TypeWebtoonUpdated,
	TypeTaskProgress,
	TypeTaskCompleted,
	TypeTaskFailed,
}

// Types returns every notification type in a stable order.
func Types() []Type {
	return slices.Clone(allTypes)
}

// ParseType maps a channel name back to its Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the enumerated types.
func (t Type) Valid() bool {
	return slices.Contains(allTypes, t)
}

func (t Type) String() string {
	return string(t)
}

// Channel returns the broker channel the type is published on.
func (t Type) Channel() string {
	return string(t)
}
