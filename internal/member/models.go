package member

import "time"

const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"

	// DefaultBatteryLevel seeds a fresh participant until the first real
	// telemetry sample arrives.
	DefaultBatteryLevel = 100
)

type Participant struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Heading      float64   `json:"heading"`
	Speed        float64   `json:"speed"`
	BatteryLevel int       `json:"battery_level"`
	IsCharging   bool      `json:"is_charging"`
	LastUpdated  time.Time `json:"last_updated"`
	JoinedAt     time.Time `json:"joined_at"`
}

type TelemetryUpdate struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Heading      float64 `json:"heading"`
	Speed        float64 `json:"speed"`
	BatteryLevel int     `json:"battery_level"`
	IsCharging   bool    `json:"is_charging"`
}

// Change is the membership event payload: the full current list, plus
// removal metadata when the change was a leave or kick. Removal carries the
// acting user so watchers can tell a kick from a voluntary leave.
type Change struct {
	Participants []Participant `json:"participants"`
	Removed      *Removal      `json:"removed,omitempty"`
}

type Removal struct {
	UserID string `json:"user_id"`
	By     string `json:"by"`
}
