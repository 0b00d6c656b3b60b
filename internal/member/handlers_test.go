package member

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func newMemberApp(t *testing.T, userID string) (*fiber.App, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	app := fiber.New()
	auth := func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_name", "Ben")
		return c.Next()
	}
	RegisterRoutes(app.Group("/sessions"), NewService(mock, nil), auth)
	return app, mock
}

func TestJoinHandler(t *testing.T) {
	app, mock := newMemberApp(t, "user-1")

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(true, 0))
	mock.ExpectExec(`INSERT INTO participants`).
		WithArgs("sess-1", "user-1", "Ben", StatusOnline, DefaultBatteryLevel).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	resp, err := app.Test(httptest.NewRequest("POST", "/sessions/sess-1/join", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}

func TestJoinHandlerFullSession(t *testing.T) {
	app, mock := newMemberApp(t, "user-1")

	mock.ExpectQuery(`SELECT is_active, max_people FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"is_active", "max_people"}).AddRow(true, 1))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	resp, err := app.Test(httptest.NewRequest("POST", "/sessions/sess-1/join", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestKickHandlerForbiddenForNonHost(t *testing.T) {
	app, mock := newMemberApp(t, "user-2")

	mock.ExpectQuery(`SELECT host_id FROM sessions`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{"host_id"}).AddRow("host-1"))

	resp, err := app.Test(httptest.NewRequest("DELETE", "/sessions/sess-1/members/user-3", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMembersHandlerEmptyList(t *testing.T) {
	app, mock := newMemberApp(t, "user-1")

	mock.ExpectQuery(`SELECT session_id, user_id, name, status`).
		WithArgs("sess-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"session_id", "user_id", "name", "status", "lat", "lng", "heading", "speed",
			"battery_level", "is_charging", "last_updated", "joined_at",
		}))

	resp, err := app.Test(httptest.NewRequest("GET", "/sessions/sess-1/members", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got []Participant
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty array, got %v", got)
	}
}

func TestTelemetryHandler(t *testing.T) {
	app, mock := newMemberApp(t, "user-1")

	mock.ExpectQuery(`UPDATE participants`).
		WithArgs("sess-1", "user-1", 10.5, 20.25, 45.0, 3.2, 64, false).
		WillReturnRows(pgxmock.NewRows([]string{"name", "status", "last_updated", "joined_at"}).
			AddRow("Ben", StatusOnline, time.Now(), time.Now()))

	body := `{"lat":10.5,"lng":20.25,"heading":45,"speed":3.2,"battery_level":64}`
	req := httptest.NewRequest("PATCH", "/sessions/sess-1/telemetry", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var p Participant
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Lat != 10.5 || p.BatteryLevel != 64 || p.Name != "Ben" {
		t.Fatalf("unexpected participant %+v", p)
	}
}

func TestTelemetryHandlerGoneRow(t *testing.T) {
	app, mock := newMemberApp(t, "user-1")

	mock.ExpectQuery(`UPDATE participants`).
		WithArgs("sess-1", "user-1", 0.0, 0.0, 0.0, 0.0, 0, false).
		WillReturnError(pgx.ErrNoRows)

	req := httptest.NewRequest("PATCH", "/sessions/sess-1/telemetry", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
