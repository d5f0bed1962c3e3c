package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// LegacyID accepts identifiers sent either as JSON numbers or strings
type LegacyID string

func (id *LegacyID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = LegacyID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("legacy id must be a string or number: %w", err)
	}
	*id = LegacyID(n.String())
	return nil
}

func (id LegacyID) String() string {
	return string(id)
}

type LegacyLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LegacyLoginResponse covers the token shapes the legacy API has used
type LegacyLoginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
	Data        *struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

// BearerToken returns the first non-empty token field
func (r LegacyLoginResponse) BearerToken() string {
	switch {
	case r.Token != "":
		return r.Token
	case r.AccessToken != "":
		return r.AccessToken
	case r.Data != nil && r.Data.Token != "":
		return r.Data.Token
	case r.Data != nil:
		return r.Data.AccessToken
	}
	return ""
}

// LegacyAdmin is an entry of the paginated admin directory
type LegacyAdmin struct {
	ID        LegacyID `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
}

type LegacySchedule struct {
	ID    LegacyID `json:"id"`
	Title string   `json:"title"`
}

// LegacyAttendance is one attendee of a schedule
type LegacyAttendance struct {
	MemberID   LegacyID `json:"member_id"`
	ScheduleID LegacyID `json:"schedule_id"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
}

// DecodeLegacyList decodes either a bare JSON array or an object wrapping it in "data" or "items"
func DecodeLegacyList[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var items []T
	if body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("failed to decode legacy list: %w", err)
		}
		return items, nil
	}

	var wrapped struct {
		Data  json.RawMessage `json:"data"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode legacy list wrapper: %w", err)
	}
	raw := wrapped.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = wrapped.Items
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode legacy list items: %w", err)
	}
	return items, nil
}
