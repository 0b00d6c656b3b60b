package member

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-caravan/internal/apperr"
	"backend-caravan/internal/session"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newMockService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewService(mock, nil), mock
}

func TestJoinInsertsParticipant(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(true, 5))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO participants`).
		WithArgs("sess-1", "user-1", "Ben", StatusOnline, DefaultBatteryLevel).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := svc.Join(context.Background(), "sess-1", "user-1", "Ben"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJoinRejectsFullSession(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(true, 2))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	err := svc.Join(context.Background(), "sess-1", "user-3", "Cid")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestJoinUnlimitedCapacitySkipsCount(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(true, session.UnlimitedCapacity))
	mock.ExpectExec(`INSERT INTO participants`).
		WithArgs("sess-1", "user-9", "Dee", StatusOnline, DefaultBatteryLevel).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := svc.Join(context.Background(), "sess-1", "user-9", "Dee"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJoinInactiveSession(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(false, 0))

	if err := svc.Join(context.Background(), "sess-1", "user-1", "Ben"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if err := svc.Join(context.Background(), "missing", "user-1", "Ben"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinRequiresUser(t *testing.T) {
	svc, _ := newMockService(t)
	if err := svc.Join(context.Background(), "sess-1", "", "x"); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestKickHostOnly(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT host_id FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"host_id"}).AddRow("host-1"))

	err := svc.Kick(context.Background(), "sess-1", "user-2", "user-3")
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestKickDeletesTarget(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`SELECT host_id FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"host_id"}).AddRow("host-1"))
	mock.ExpectExec(`DELETE FROM participants`).
		WithArgs("sess-1", "user-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := svc.Kick(context.Background(), "sess-1", "user-2", "host-1"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateTelemetryGoneRow(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery(`UPDATE participants`).
		WithArgs("sess-1", "user-1", 1.0, 2.0, 90.0, 12.5, 80, false).
		WillReturnError(pgx.ErrNoRows)

	_, err := svc.UpdateTelemetry(context.Background(), "sess-1", "user-1", TelemetryUpdate{
		Lat: 1, Lng: 2, Heading: 90, Speed: 12.5, BatteryLevel: 80,
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTelemetryReturnsMergedRow(t *testing.T) {
	svc, mock := newMockService(t)

	joined := time.Now().Add(-time.Hour)
	updated := time.Now()
	mock.ExpectQuery(`UPDATE participants`).
		WithArgs("sess-1", "user-1", 1.0, 2.0, 90.0, 12.5, 80, true).
		WillReturnRows(pgxmock.NewRows([]string{"name", "status", "last_updated", "joined_at"}).
			AddRow("Ben", StatusOnline, updated, joined))

	p, err := svc.UpdateTelemetry(context.Background(), "sess-1", "user-1", TelemetryUpdate{
		Lat: 1, Lng: 2, Heading: 90, Speed: 12.5, BatteryLevel: 80, IsCharging: true,
	})
	if err != nil {
		t.Fatalf("update telemetry: %v", err)
	}
	if p.Name != "Ben" || p.Status != StatusOnline || p.Lat != 1 || p.BatteryLevel != 80 || !p.IsCharging {
		t.Fatalf("unexpected participant %+v", p)
	}
	if !p.JoinedAt.Equal(joined) {
		t.Fatalf("expected joined_at preserved")
	}
}

func TestListOrdersByJoinTime(t *testing.T) {
	svc, mock := newMockService(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT session_id, user_id, name, status`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"session_id", "user_id", "name", "status", "lat", "lng", "heading", "speed",
			"battery_level", "is_charging", "last_updated", "joined_at",
		}).
			AddRow("sess-1", "user-1", "Ana", StatusOnline, 0.0, 0.0, 0.0, 0.0, 100, false, now, now.Add(-2*time.Hour)).
			AddRow("sess-1", "user-2", "Ben", StatusOffline, 0.0, 0.0, 0.0, 0.0, 40, true, now, now.Add(-time.Hour)))

	participants, err := svc.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 2 || participants[0].UserID != "user-1" || participants[1].Status != StatusOffline {
		t.Fatalf("unexpected list %+v", participants)
	}
}
