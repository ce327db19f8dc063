// Package notify holds the wire types for server change notifications.
// Frames are one JSON object each: {"event": "<name>", "extra": {...}}.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names the server sends for session, role, desk and stage changes.
const (
	EventUserDisabled           = "user_disabled"
	EventUserInactivated        = "user_inactivated"
	EventUserRoleChanged        = "user_role_changed"
	EventUserTypeChanged        = "user_type_changed"
	EventUserPrivilegesRevoked  = "user_privileges_revoked"
	EventRolePrivilegesRevoked  = "role_privileges_revoked"
	EventDeskMembershipRevoked  = "desk_membership_revoked"
	EventDesk                   = "desk"
	EventStage                  = "stage"
	EventStageVisibilityUpdated = "stage_visibility_updated"
)

// ErrNoEvent is returned by Parse for an object without an event name.
var ErrNoEvent = errors.New("notify: message has no event name")

// Message is a parsed notification. Treat it as read-only.
type Message struct {
	Event string          `json:"event"`
	Extra json.RawMessage `json:"extra,omitempty"`
}

// Parse decodes one frame. The frame must be a JSON object with a non-empty
// string "event".
func Parse(data []byte) (Message, error) {
	var m Message
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, fmt.Errorf("notify: frame is not a JSON object")
	}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return Message{}, fmt.Errorf("notify: decode frame: %w", err)
	}
	if m.Event == "" {
		return Message{}, ErrNoEvent
	}
	if len(m.Extra) > 0 {
		m.Extra = append(json.RawMessage(nil), m.Extra...)
	}
	return m, nil
}

// New builds a message whose extra is the JSON encoding of extra.
func New(event string, extra any) (Message, error) {
	m := Message{Event: event}
	if extra == nil {
		return m, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return Message{}, fmt.Errorf("notify: encode extra for %s: %w", event, err)
	}
	m.Extra = data
	return m, nil
}

// Fields decodes the extra object into the fields the reload policy reads.
// A missing or null extra yields zero Fields.
func (m Message) Fields() (Fields, error) {
	var f Fields
	if len(m.Extra) == 0 || string(m.Extra) == "null" {
		return f, nil
	}
	if err := json.Unmarshal(m.Extra, &f); err != nil {
		return Fields{}, fmt.Errorf("notify: decode extra of %s: %w", m.Event, err)
	}
	return f, nil
}

// Fields are the category-specific members of extra.
type Fields struct {
	UserID  IDList `json:"user_id,omitempty"`
	RoleID  IDList `json:"role_id,omitempty"`
	DeskID  string `json:"desk_id,omitempty"`
	UserIDs IDList `json:"user_ids,omitempty"`
}

// IDList is a list of ids. On the wire it may be an array of strings or a
// single string.
type IDList []string

// UnmarshalJSON accepts null, "id" or ["id", ...].
func (l *IDList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*l = nil
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*l = IDList{s}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return fmt.Errorf("id list: %w", err)
	}
	*l = ids
	return nil
}

// Contains reports whether id is in the list by exact match. An empty id is
// never contained.
func (l IDList) Contains(id string) bool {
	if id == "" {
		return false
	}
	for _, x := range l {
		if x == id {
			return true
		}
	}
	return false
}
