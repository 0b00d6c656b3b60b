package member

import (
	"context"
	"errors"
	"fmt"
	"log"

	"backend-caravan/internal/apperr"
	"backend-caravan/internal/db"
	"backend-caravan/internal/session"
	"backend-caravan/internal/stream"

	"github.com/jackc/pgx/v5"
)

type Service struct {
	db  db.Querier
	hub *stream.Hub
}

func NewService(q db.Querier, hub *stream.Hub) *Service {
	return &Service{db: q, hub: hub}
}

// Join writes a participant row with default telemetry. The existence and
// capacity checks and the insert are separate round trips; the narrow race
// (session stopped between check and write) is resolved by the self-removal
// watcher, not by the store.
func (s *Service) Join(ctx context.Context, sessionID, userID, name string) error {
	if userID == "" {
		return apperr.ErrNotAuthenticated
	}

	var isActive bool
	var maxPeople int
	err := s.db.QueryRow(ctx, `SELECT is_active, max_people FROM sessions WHERE id=$1`, sessionID).
		Scan(&isActive, &maxPeople)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	if !isActive {
		return apperr.ErrNotFound
	}

	if maxPeople != session.UnlimitedCapacity {
		var active int
		if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE session_id=$1`, sessionID).Scan(&active); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
		}
		if active >= maxPeople {
			return fmt.Errorf("%w: session is full", apperr.ErrConflict)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO participants (session_id, user_id, name, status, lat, lng, heading, speed, battery_level, is_charging)
		VALUES ($1,$2,$3,$4,0,0,0,0,$5,false)
		ON CONFLICT (session_id, user_id) DO UPDATE SET status=EXCLUDED.status, last_updated=now()
	`, sessionID, userID, name, StatusOnline, DefaultBatteryLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}

	s.broadcastChange(ctx, sessionID, nil)
	return nil
}

func (s *Service) Leave(ctx context.Context, sessionID, userID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM participants WHERE session_id=$1 AND user_id=$2`, sessionID, userID); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	s.broadcastChange(ctx, sessionID, &Removal{UserID: userID, By: userID})
	return nil
}

func (s *Service) Kick(ctx context.Context, sessionID, targetID, callerID string) error {
	var hostID string
	err := s.db.QueryRow(ctx, `SELECT host_id FROM sessions WHERE id=$1`, sessionID).Scan(&hostID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	if hostID != callerID {
		return apperr.ErrPermissionDenied
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM participants WHERE session_id=$1 AND user_id=$2`, sessionID, targetID); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	s.broadcastChange(ctx, sessionID, &Removal{UserID: targetID, By: callerID})
	return nil
}

// UpdateTelemetry is the self-write path: only the owning device updates its
// own row. A zero-row update means the row is gone (kicked or session
// stopped) and surfaces as NotFound so the caller's pipeline can cancel.
func (s *Service) UpdateTelemetry(ctx context.Context, sessionID, userID string, t TelemetryUpdate) (Participant, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE participants
		SET lat=$3, lng=$4, heading=$5, speed=$6, battery_level=$7, is_charging=$8, last_updated=now()
		WHERE session_id=$1 AND user_id=$2
		RETURNING name, status, last_updated, joined_at
	`, sessionID, userID, t.Lat, t.Lng, t.Heading, t.Speed, t.BatteryLevel, t.IsCharging)

	p := Participant{
		SessionID:    sessionID,
		UserID:       userID,
		Lat:          t.Lat,
		Lng:          t.Lng,
		Heading:      t.Heading,
		Speed:        t.Speed,
		BatteryLevel: t.BatteryLevel,
		IsCharging:   t.IsCharging,
	}
	err := row.Scan(&p.Name, &p.Status, &p.LastUpdated, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, apperr.ErrNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}

	if s.hub != nil {
		s.hub.Broadcast(stream.NewEvent(stream.EventTelemetry, sessionID, p))
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, sessionID string) ([]Participant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, user_id, name, status, lat, lng, heading, speed, battery_level, is_charging, last_updated, joined_at
		FROM participants WHERE session_id=$1
		ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Name, &p.Status, &p.Lat, &p.Lng,
			&p.Heading, &p.Speed, &p.BatteryLevel, &p.IsCharging, &p.LastUpdated, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// broadcastChange re-reads the full list so every subscriber observes a
// complete membership snapshot per change, not a delta.
func (s *Service) broadcastChange(ctx context.Context, sessionID string, removed *Removal) {
	if s.hub == nil {
		return
	}
	participants, err := s.List(ctx, sessionID)
	if err != nil {
		log.Printf("membership snapshot for %s failed: %v", sessionID, err)
		return
	}
	s.hub.Broadcast(stream.NewEvent(stream.EventMembership, sessionID, Change{
		Participants: participants,
		Removed:      removed,
	}))
}
