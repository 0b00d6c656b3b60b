package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-caravan/internal/apperr"
	"backend-caravan/internal/db"
	"backend-caravan/internal/member"
	"backend-caravan/internal/stream"

	"github.com/jackc/pgx/v5"
)

// StatusChange is the presence event payload broadcast on the stream.
type StatusChange struct {
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Service applies the Online/Offline state machine for participants and
// keeps one single-shot disconnect hook armed per (session, user). The hook
// is the crash backstop: it fires when a connection drops without a graceful
// goodbye, and never fires twice because firing removes it.
type Service struct {
	db  db.Querier
	hub *stream.Hub

	mu    sync.Mutex
	hooks map[string]func()
}

func NewService(q db.Querier, hub *stream.Hub) *Service {
	return &Service{db: q, hub: hub, hooks: map[string]func(){}}
}

// MarkOnline writes Online and (re-)arms the disconnect hook. Hooks are
// single shot, so every presence re-establishment must re-arm.
func (s *Service) MarkOnline(ctx context.Context, sessionID, userID string) error {
	if err := s.writeStatus(ctx, sessionID, userID, member.StatusOnline); err != nil {
		return err
	}
	s.arm(sessionID, userID)
	return nil
}

// MarkOffline is the graceful path: write Offline and disarm the pending
// hook. If a racing hook fires anyway it writes the same terminal value;
// Offline is never flipped back by a hook.
func (s *Service) MarkOffline(ctx context.Context, sessionID, userID string) error {
	s.disarm(sessionID, userID)
	return s.writeStatus(ctx, sessionID, userID, member.StatusOffline)
}

// Connected arms the disconnect hook for a registered live connection.
// Join writes the Online row directly, so a client that crashes before its
// first explicit presence write would otherwise stay Online; arming on
// connection registration closes that gap.
func (s *Service) Connected(sessionID, userID string) {
	s.arm(sessionID, userID)
}

// Disconnected fires the armed hook for an ungraceful drop. A no-op when
// nothing is armed (graceful stop already ran).
func (s *Service) Disconnected(sessionID, userID string) {
	s.mu.Lock()
	hook := s.hooks[hookKey(sessionID, userID)]
	delete(s.hooks, hookKey(sessionID, userID))
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (s *Service) arm(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[hookKey(sessionID, userID)] = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.writeStatus(ctx, sessionID, userID, member.StatusOffline); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			log.Printf("disconnect hook write for %s/%s failed: %v", sessionID, userID, err)
		}
	}
}

func (s *Service) disarm(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, hookKey(sessionID, userID))
}

// writeStatus mutates status only, never the row's existence. Writing into
// a removed participant's row is NotFound, which hook callers ignore.
func (s *Service) writeStatus(ctx context.Context, sessionID, userID, status string) error {
	var lastUpdated time.Time
	err := s.db.QueryRow(ctx, `
		UPDATE participants SET status=$3, last_updated=now()
		WHERE session_id=$1 AND user_id=$2
		RETURNING last_updated
	`, sessionID, userID, status).Scan(&lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}

	if s.hub != nil {
		s.hub.Broadcast(stream.NewEvent(stream.EventPresence, sessionID, StatusChange{
			UserID:      userID,
			Status:      status,
			LastUpdated: lastUpdated,
		}))
	}
	return nil
}

func hookKey(sessionID, userID string) string {
	return sessionID + "/" + userID
}
