package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MinCodeLength is the shortest join code accepted by the session API.
const MinCodeLength = 4

// SessionRole is the role of the device that created or joined a session.
type SessionRole string

const (
	SessionRoleHost        SessionRole = "host"
	SessionRoleParticipant SessionRole = "participant"
)

// Session is a time-boxed pairing between two devices.
type Session struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the session's expiry is before now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// MatchesCode compares a join code against the stored one, ignoring letter case.
func (s *Session) MatchesCode(code string) bool {
	return strings.EqualFold(s.Code, strings.TrimSpace(code))
}

// ParticipantsToJSON converts the participant list to a JSON string for storage.
func (s *Session) ParticipantsToJSON() (string, error) {
	if s.Participants == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s.Participants)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParticipantsFromJSON parses a JSON string into the participant list.
func (s *Session) ParticipantsFromJSON(data string) error {
	if data == "" {
		s.Participants = []string{}
		return nil
	}
	return json.Unmarshal([]byte(data), &s.Participants)
}

// NormalizeCode upper-cases and trims a user-entered join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
