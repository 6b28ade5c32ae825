package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Failed    Status = "failed"
	Delivered Status = "delivered"
)

// CanTransitionTo reports whether the delivery lifecycle permits moving
// from s to next. The sent -> delivered edge exists even though this
// layer never issues it; delivery acknowledgments arrive out-of-band.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case Pending:
		return next == Sent || next == Failed
	case Sent:
		return next == Delivered || next == Failed
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Sent, Failed, Delivered:
		return true
	}
	return false
}

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeMedia    MessageType = "media"
	TypeTemplate MessageType = "template"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeMedia, TypeTemplate:
		return true
	}
	return false
}

// MediaMetadata describes the attachment of a media message.
type MediaMetadata struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// TemplateMetadata carries the variable bindings of a template message.
type TemplateMetadata struct {
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables,omitempty"`
}

type Message struct {
	ID           string          `json:"id"`
	BotID        string          `json:"bot_id"`
	ToNumber     *string         `json:"to_number,omitempty"`
	Content      string          `json:"content"`
	Type         MessageType     `json:"type"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Status       Status          `json:"status"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedBy    *string         `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MediaMetadata decodes the metadata payload. The shape of Metadata is
// keyed by Type, so calling this on a non-media message is an error.
func (m *Message) MediaMetadata() (*MediaMetadata, error) {
	if m.Type != TypeMedia {
		return nil, fmt.Errorf("message %s has type %q, not %q", m.ID, m.Type, TypeMedia)
	}
	if len(m.Metadata) == 0 {
		return nil, fmt.Errorf("media message %s has no metadata", m.ID)
	}
	var md MediaMetadata
	if err := json.Unmarshal(m.Metadata, &md); err != nil {
		return nil, fmt.Errorf("failed to decode media metadata: %w", err)
	}
	return &md, nil
}

// TemplateMetadata decodes the metadata payload of a template message.
func (m *Message) TemplateMetadata() (*TemplateMetadata, error) {
	if m.Type != TypeTemplate {
		return nil, fmt.Errorf("message %s has type %q, not %q", m.ID, m.Type, TypeTemplate)
	}
	if len(m.Metadata) == 0 {
		return nil, fmt.Errorf("template message %s has no metadata", m.ID)
	}
	var md TemplateMetadata
	if err := json.Unmarshal(m.Metadata, &md); err != nil {
		return nil, fmt.Errorf("failed to decode template metadata: %w", err)
	}
	return &md, nil
}

// CheckInvariants verifies the delivery bookkeeping the backend is
// expected to uphold: delivered messages carry both timestamps in order,
// failed messages carry a reason, the retry counter never goes negative.
func (m *Message) CheckInvariants() error {
	if !m.Status.Valid() {
		return fmt.Errorf("message %s: unknown status %q", m.ID, m.Status)
	}
	if m.Status == Delivered {
		if m.SentAt == nil || m.DeliveredAt == nil {
			return fmt.Errorf("message %s: delivered without sent_at/delivered_at", m.ID)
		}
		if m.DeliveredAt.Before(*m.SentAt) {
			return fmt.Errorf("message %s: delivered_at precedes sent_at", m.ID)
		}
	}
	if m.Status == Failed && (m.ErrorMessage == nil || *m.ErrorMessage == "") {
		return fmt.Errorf("message %s: failed without error_message", m.ID)
	}
	if m.RetryCount < 0 {
		return fmt.Errorf("message %s: negative retry_count %d", m.ID, m.RetryCount)
	}
	return nil
}

// MessageStats is a derived snapshot; it is recomputed by the backend on
// every fetch and never persisted by this layer.
type MessageStats struct {
	Total            int64 `json:"total"`
	Sent             int64 `json:"sent"`
	Failed           int64 `json:"failed"`
	Pending          int64 `json:"pending"`
	Delivered        int64 `json:"delivered"`
	TextMessages     int64 `json:"text_messages"`
	MediaMessages    int64 `json:"media_messages"`
	TemplateMessages int64 `json:"template_messages"`
}

// ValidationError reports an incomplete payload caught locally, before
// any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateMessageData persists a draft in pending state without
// dispatching it.
type CreateMessageData struct {
	BotID    string          `json:"bot_id"`
	ToNumber *string         `json:"to_number,omitempty"`
	Content  string          `json:"content"`
	Type     MessageType     `json:"type,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (d *CreateMessageData) Validate() error {
	if d.BotID == "" {
		return &ValidationError{Field: "bot_id", Reason: "must not be empty"}
	}
	if d.Content == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if d.Type != "" && !d.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", d.Type)}
	}
	return nil
}

// SendMessageData dispatches a single message to To immediately.
type SendMessageData struct {
	BotID    string          `json:"bot_id,omitempty"`
	To       string          `json:"to"`
	Content  string          `json:"content"`
	Type     MessageType     `json:"type,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (d *SendMessageData) Validate() error {
	if d.To == "" {
		return &ValidationError{Field: "to", Reason: "must not be empty"}
	}
	if d.Content == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if d.Type != "" && !d.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", d.Type)}
	}
	return nil
}
