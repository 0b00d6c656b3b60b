package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"backend-caravan/internal/apperr"
	"backend-caravan/internal/db"
	"backend-caravan/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Joiner is how the directory performs host joins without owning membership
// logic. Wired to the membership service at startup.
type Joiner interface {
	Join(ctx context.Context, sessionID, userID, name string) error
	Leave(ctx context.Context, sessionID, userID string) error
}

type Service struct {
	db      db.Querier
	redis   *redis.Client
	hub     *stream.Hub
	joiner  Joiner
	baseURL string
}

func NewService(q db.Querier, redisClient *redis.Client, hub *stream.Hub, baseURL string) *Service {
	return &Service{db: q, redis: redisClient, hub: hub, baseURL: baseURL}
}

func (s *Service) SetJoiner(j Joiner) {
	s.joiner = j
}

const sessionColumns = `id, title, host_id, host_name, join_code, from_location, to_location,
		start_lat, start_lng, end_lat, end_lng, duration_val, duration_unit, created,
		max_people, status, is_active, is_users_visible, is_sharing_allowed, is_host_sharing`

func (s *Service) Create(ctx context.Context, input Session, hostParticipates bool) (Session, error) {
	if input.HostID == "" {
		return Session{}, apperr.ErrNotAuthenticated
	}

	input.ID = uuid.NewString()
	if input.DurationVal <= 0 {
		input.DurationVal = 1
	}
	if input.DurationUnit == "" {
		input.DurationUnit = UnitHours
	}
	if input.Status == "" {
		input.Status = StatusLive
	}
	if input.MaxPeople < 0 {
		input.MaxPeople = UnlimitedCapacity
	}
	input.IsActive = true
	input.IsHostSharing = hostParticipates

	code, err := s.generateJoinCode(ctx)
	if err != nil {
		return Session{}, err
	}
	input.JoinCode = code

	row := s.db.QueryRow(ctx, `
		INSERT INTO sessions (id, title, host_id, host_name, join_code, from_location, to_location,
			start_lat, start_lng, end_lat, end_lng, duration_val, duration_unit,
			max_people, status, is_active, is_users_visible, is_sharing_allowed, is_host_sharing)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created
	`, input.ID, input.Title, input.HostID, input.HostName, input.JoinCode,
		input.FromLocation, input.ToLocation, input.StartLat, input.StartLng, input.EndLat, input.EndLng,
		input.DurationVal, input.DurationUnit, input.MaxPeople, input.Status,
		input.IsActive, input.IsUsersVisible, input.IsSharingAllowed, input.IsHostSharing)
	if err := row.Scan(&input.Created); err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}

	s.cacheJoinCode(ctx, input)

	if hostParticipates && s.joiner != nil {
		if err := s.joiner.Join(ctx, input.ID, input.HostID, input.HostName); err != nil {
			log.Printf("host join for session %s failed: %v", input.ID, err)
		}
	}

	s.broadcast(Change{Session: input})
	return input, nil
}

// generateJoinCode draws up to maxCodeAttempts candidates and accepts the
// first one no existing session holds. The check and the later insert are
// two round trips, so two concurrent creates can still collide; resolution
// by code is then first-match-wins.
func (s *Service) generateJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate := randomJoinCode()
		var id string
		err := s.db.QueryRow(ctx, `SELECT id FROM sessions WHERE join_code=$1 LIMIT 1`, candidate).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
		}
	}

	code := timestampFallback(time.Now())
	log.Printf("join code generation collided %d times, using timestamp fallback %s", maxCodeAttempts, code)
	return code, nil
}

func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, apperr.ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Resolve turns a parsed join reference into the session it names. Codes go
// through the redis cache first; stale cache entries fall back to the
// directory query.
func (s *Service) Resolve(ctx context.Context, ref JoinRef) (Session, error) {
	if ref.Kind == RefID {
		return s.Get(ctx, ref.Value)
	}

	if s.redis != nil {
		if id, err := s.redis.Get(ctx, codeKey(ref.Value)).Result(); err == nil {
			if sess, err := s.Get(ctx, id); err == nil {
				return sess, nil
			}
			s.redis.Del(ctx, codeKey(ref.Value))
		}
	}

	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE join_code=$1 LIMIT 1`, ref.Value)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, apperr.ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	s.cacheJoinCode(ctx, sess)
	return sess, nil
}

// Stop hard-deletes the session; participant rows cascade with it.
func (s *Service) Stop(ctx context.Context, id, callerID string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.HostID != callerID {
		return apperr.ErrPermissionDenied
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	if s.redis != nil {
		s.redis.Del(ctx, codeKey(sess.JoinCode))
	}
	s.broadcast(Change{Session: sess, Deleted: true})
	return nil
}

// ListForUser returns the caller's visible sessions. Expired records are
// deleted as a side effect of the read and excluded from the result, so
// expiry needs no scheduled job; whichever client lists first sweeps.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	memberships, err := s.membershipSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	var visible []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if sess.Expired(now) {
			s.expire(ctx, sess)
			continue
		}
		if !sess.IsActive {
			continue
		}
		if sess.HostID == userID || memberships[sess.ID] {
			visible = append(visible, sess)
		}
	}
	return visible, rows.Err()
}

func (s *Service) membershipSet(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id FROM participants WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

// expire is fire-and-forget: a failed delete just means the next reader
// sweeps it again.
func (s *Service) expire(ctx context.Context, sess Session) {
	_, _ = s.db.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, sess.ID)
	if s.redis != nil {
		s.redis.Del(ctx, codeKey(sess.JoinCode))
	}
	s.broadcast(Change{Session: sess, Deleted: true})
}

func (s *Service) Update(ctx context.Context, input Session, callerID string) (Session, error) {
	current, err := s.Get(ctx, input.ID)
	if err != nil {
		return Session{}, err
	}
	if current.HostID != callerID {
		return Session{}, apperr.ErrPermissionDenied
	}

	if input.MaxPeople != UnlimitedCapacity {
		active, err := s.activeUsers(ctx, input.ID)
		if err != nil {
			return Session{}, err
		}
		if input.MaxPeople < active {
			return Session{}, fmt.Errorf("%w: capacity %d below current %d participants", apperr.ErrConflict, input.MaxPeople, active)
		}
	}

	merged := current
	if input.Title != "" {
		merged.Title = input.Title
	}
	if input.FromLocation != "" {
		merged.FromLocation = input.FromLocation
	}
	if input.ToLocation != "" {
		merged.ToLocation = input.ToLocation
	}
	if input.StartLat != 0 || input.StartLng != 0 {
		merged.StartLat, merged.StartLng = input.StartLat, input.StartLng
	}
	if input.EndLat != 0 || input.EndLng != 0 {
		merged.EndLat, merged.EndLng = input.EndLat, input.EndLng
	}
	if input.DurationVal > 0 {
		merged.DurationVal = input.DurationVal
	}
	if input.DurationUnit != "" {
		merged.DurationUnit = input.DurationUnit
	}
	if input.Status != "" {
		merged.Status = input.Status
	}
	merged.MaxPeople = input.MaxPeople
	merged.IsUsersVisible = input.IsUsersVisible
	merged.IsSharingAllowed = input.IsSharingAllowed
	merged.IsHostSharing = input.IsHostSharing

	_, err = s.db.Exec(ctx, `
		UPDATE sessions
		SET title=$2, from_location=$3, to_location=$4, start_lat=$5, start_lng=$6,
			end_lat=$7, end_lng=$8, duration_val=$9, duration_unit=$10, max_people=$11,
			status=$12, is_users_visible=$13, is_sharing_allowed=$14, is_host_sharing=$15
		WHERE id=$1
	`, merged.ID, merged.Title, merged.FromLocation, merged.ToLocation, merged.StartLat, merged.StartLng,
		merged.EndLat, merged.EndLng, merged.DurationVal, merged.DurationUnit, merged.MaxPeople,
		merged.Status, merged.IsUsersVisible, merged.IsSharingAllowed, merged.IsHostSharing)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}

	// flipping host sharing means the host joins or leaves its own session
	if s.joiner != nil && merged.IsHostSharing != current.IsHostSharing {
		if merged.IsHostSharing {
			if err := s.joiner.Join(ctx, merged.ID, merged.HostID, merged.HostName); err != nil {
				log.Printf("host join for session %s failed: %v", merged.ID, err)
			}
		} else {
			if err := s.joiner.Leave(ctx, merged.ID, merged.HostID); err != nil {
				log.Printf("host leave for session %s failed: %v", merged.ID, err)
			}
		}
	}

	s.broadcast(Change{Session: merged})
	return merged, nil
}

// SetStatus flips Live/Paused. Host only.
func (s *Service) SetStatus(ctx context.Context, id, callerID, status string) (Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.HostID != callerID {
		return Session{}, apperr.ErrPermissionDenied
	}

	if _, err := s.db.Exec(ctx, `UPDATE sessions SET status=$2 WHERE id=$1`, id, status); err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperr.ErrNetworkFailure, err)
	}
	sess.Status = status
	s.broadcast(Change{Session: sess})
	return sess, nil
}

func (s *Service) activeUsers(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM participants WHERE session_id=$1`, sessionID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ShareLink is the externally shareable join URL for a code.
func (s *Service) ShareLink(code string) string {
	return s.baseURL + "/join/" + code
}

func (s *Service) cacheJoinCode(ctx context.Context, sess Session) {
	if s.redis == nil {
		return
	}
	ttl := time.Until(sess.ExpiresAt())
	if ttl <= 0 {
		return
	}
	if err := s.redis.Set(ctx, codeKey(sess.JoinCode), sess.ID, ttl).Err(); err != nil {
		log.Printf("join code cache write failed: %v", err)
	}
}

func (s *Service) broadcast(change Change) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(stream.NewEvent(stream.EventSession, change.Session.ID, change))
}

func codeKey(code string) string {
	return "joincode:" + code
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Title, &sess.HostID, &sess.HostName, &sess.JoinCode,
		&sess.FromLocation, &sess.ToLocation, &sess.StartLat, &sess.StartLng, &sess.EndLat, &sess.EndLng,
		&sess.DurationVal, &sess.DurationUnit, &sess.Created, &sess.MaxPeople, &sess.Status,
		&sess.IsActive, &sess.IsUsersVisible, &sess.IsSharingAllowed, &sess.IsHostSharing)
	return sess, err
}
