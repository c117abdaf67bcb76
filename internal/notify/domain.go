package notify

import (
	"errors"
	"strings"
	"time"
)

// Severity classifies a notification for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity validates a severity, defaulting to info when blank.
func ParseSeverity(raw string) (Severity, error) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return SeverityInfo, nil
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return s, nil
	}
	return "", ErrInvalidMessage
}

var (
	// ErrInvalidAudience indicates an audience descriptor that cannot be resolved.
	ErrInvalidAudience = errors.New("notify: invalid audience")
	// ErrInvalidMessage indicates a message without content or with an unknown severity.
	ErrInvalidMessage = errors.New("notify: invalid message")
	// ErrNotFound indicates the notification does not exist for the caller.
	ErrNotFound = errors.New("notify: notification not found")
)

// Message is the content fanned out to an audience.
type Message struct {
	Title    string
	Body     string
	Type     Severity
	Link     string
	SenderID *int64
	IsCustom bool
}

func (m Message) validate() error {
	if strings.TrimSpace(m.Body) == "" && strings.TrimSpace(m.Title) == "" {
		return ErrInvalidMessage
	}
	if _, err := ParseSeverity(string(m.Type)); err != nil {
		return err
	}
	return nil
}

// Notification is the durable per-recipient record.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Type      Severity  `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	SenderID  *int64    `json:"sender_id,omitempty"`
	IsCustom  bool      `json:"is_custom"`
	CreatedAt time.Time `json:"created_at"`
}

// PushEvent is the realtime payload for a stored notification.
type PushEvent struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Type      Severity  `json:"type"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	Realtime  bool      `json:"realtime"`
}

// Event converts the notification to its realtime payload.
func (n Notification) Event() PushEvent {
	return PushEvent{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Link:      n.Link,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		Realtime:  true,
	}
}

// Report summarises one fan-out.
type Report struct {
	Recipients int `json:"recipients"`
	Stored     int `json:"stored"`
	Pushed     int `json:"pushed"`
	Emailed    int `json:"emailed"`
	Failed     int `json:"failed"`
}

// ListFilter pages a recipient's inbox.
type ListFilter struct {
	UnreadOnly bool
	Page       int
	PerPage    int
}
