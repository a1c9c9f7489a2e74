package onesignal

import (
	"bytes"
	"encoding/json"
)

// PlayerPage is one page of GET /players.
type PlayerPage struct {
	TotalCount int      `json:"total_count"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
	Players    []Player `json:"players"`
}

// Player is a subscribed device as OneSignal reports it. Every field is optional.
type Player struct {
	ID                string     `json:"id"`
	NotificationTypes *int       `json:"notification_types"`
	InvalidIdentifier bool       `json:"invalid_identifier"`
	TestType          *int       `json:"test_type"`
	ExternalUserID    string     `json:"external_user_id"`
	Tags              Attributes `json:"tags"`
	Custom            Attributes `json:"custom"`
	DeviceType        int        `json:"device_type"`
	LastActive        int64      `json:"last_active"`
	CreatedAt         int64      `json:"created_at"`
}

// IsActive reports whether the player can receive pushes: permission granted, a valid
// identifier, and not a test device.
func (p *Player) IsActive() bool {
	if p.NotificationTypes == nil || *p.NotificationTypes <= 0 {
		return false
	}
	if p.InvalidIdentifier {
		return false
	}
	if p.TestType != nil && *p.TestType > 0 {
		return false
	}
	return true
}

// Attributes is a free-form key/value bag. OneSignal sends an empty array instead of an
// empty object for players without tags, so anything that is not an object decodes to nil.
type Attributes map[string]any

func (a *Attributes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		*a = nil
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = m
	return nil
}
