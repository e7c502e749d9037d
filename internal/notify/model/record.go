// Package model defines the notification record shared by the transport,
// store and gateway layers.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification; it only drives presentation mapping
type Kind string

const (
	KindPostCreated     Kind = "post-created"
	KindReaction        Kind = "reaction"
	KindCommentAdded    Kind = "comment-added"
	KindFollowedUser    Kind = "followed-user"
	KindMessageReceived Kind = "message-received"
	KindMentioned       Kind = "mentioned"
	KindLogin           Kind = "login"
	KindOther           Kind = "other"
)

// Actor references the user that triggered a notification; nil for system
// notifications.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Username    string `json:"username,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Record is the unit of notification state. Data is an opaque attachment
// whose schema varies by Kind; the pipeline never inspects it.
type Record struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	FromUser  *Actor          `json:"fromUser,omitempty"`
	Content   string          `json:"content"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

// recordWire mirrors Record with a string timestamp so malformed values can
// be repaired instead of failing the whole decode.
type recordWire struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	FromUser  *Actor          `json:"fromUser,omitempty"`
	Content   string          `json:"content"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt string          `json:"createdAt"`
}

// UnmarshalJSON decodes a record from the wire, normalizing as it goes. A
// record is never rejected for a missing id or unparsable timestamp.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	r.ID = w.ID
	r.Kind = w.Kind
	r.FromUser = w.FromUser
	r.Content = w.Content
	r.Data = w.Data
	r.IsRead = w.IsRead

	if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
		r.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		r.CreatedAt = t
	}

	r.Normalize(time.Now())
	return nil
}

// MarshalJSON encodes the record with an RFC3339 timestamp
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordWire{
		ID:        r.ID,
		Kind:      r.Kind,
		FromUser:  r.FromUser,
		Content:   r.Content,
		Data:      r.Data,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Normalize repairs a record in place: a zero CreatedAt becomes now, a
// missing id gets a generated fallback, an unknown kind becomes KindOther.
func (r *Record) Normalize(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ID == "" {
		r.ID = "gen-" + uuid.New().String()
	}
	switch r.Kind {
	case KindPostCreated, KindReaction, KindCommentAdded, KindFollowedUser,
		KindMessageReceived, KindMentioned, KindLogin, KindOther:
	default:
		r.Kind = KindOther
	}
}

// Age returns how old the record is relative to now
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Title returns the presentation title for a kind. Icon/deep-link mapping
// beyond this lives in the presentation layer.
func (k Kind) Title() string {
	switch k {
	case KindPostCreated:
		return "New post"
	case KindReaction:
		return "New reaction"
	case KindCommentAdded:
		return "New comment"
	case KindFollowedUser:
		return "New follower"
	case KindMessageReceived:
		return "New message"
	case KindMentioned:
		return "You were mentioned"
	case KindLogin:
		return "New login"
	default:
		return "Notification"
	}
}
