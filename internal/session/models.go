package session

import (
	"strings"
	"time"
)

const (
	StatusLive   = "Live"
	StatusPaused = "Paused"

	UnitHours = "Hrs"
	UnitDays  = "Days"

	// UnlimitedCapacity is the canonical MaxPeople default: joins are never
	// rejected for capacity.
	UnlimitedCapacity = 0
)

type Session struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	HostID           string    `json:"host_id"`
	HostName         string    `json:"host_name"`
	JoinCode         string    `json:"join_code"`
	FromLocation     string    `json:"from_location"`
	ToLocation       string    `json:"to_location"`
	StartLat         float64   `json:"start_lat"`
	StartLng         float64   `json:"start_lng"`
	EndLat           float64   `json:"end_lat"`
	EndLng           float64   `json:"end_lng"`
	DurationVal      int       `json:"duration_val"`
	DurationUnit     string    `json:"duration_unit"`
	Created          time.Time `json:"created"`
	MaxPeople        int       `json:"max_people"`
	Status           string    `json:"status"`
	IsActive         bool      `json:"is_active"`
	IsUsersVisible   bool      `json:"is_users_visible"`
	IsSharingAllowed bool      `json:"is_sharing_allowed"`
	IsHostSharing    bool      `json:"is_host_sharing"`
}

func (s Session) Duration() time.Duration {
	unit := time.Hour
	if s.DurationUnit == UnitDays {
		unit = 24 * time.Hour
	}
	return time.Duration(s.DurationVal) * unit
}

func (s Session) ExpiresAt() time.Time {
	return s.Created.Add(s.Duration())
}

func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// Change is the session lifecycle event payload broadcast on the stream.
type Change struct {
	Session Session `json:"session"`
	Deleted bool    `json:"deleted"`
}

type RefKind int

const (
	RefCode RefKind = iota
	RefID
)

// JoinRef is a tagged join reference, decided once at the call boundary:
// exactly eight characters from the code alphabet mean a join code,
// anything else is treated as a session id.
type JoinRef struct {
	Kind  RefKind
	Value string
}

func ParseJoinRef(raw string) JoinRef {
	trimmed := strings.TrimSpace(raw)
	upper := strings.ToUpper(trimmed)
	if len(upper) == JoinCodeLength && isJoinCode(upper) {
		return JoinRef{Kind: RefCode, Value: upper}
	}
	return JoinRef{Kind: RefID, Value: trimmed}
}

func isJoinCode(s string) bool {
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(joinCodeAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
