package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/api/http/handlers"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/service"
)

type testServer struct {
	app    *fiber.App
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ict, welfare := "dept-ict", "dept-welfare"
	profiles := repository.NewMemoryProfileRepository(
		domain.Profile{ID: "stu-1", FullName: "Student", Role: domain.RoleStudent, Active: true},
		domain.Profile{ID: "src-ict", FullName: "ICT Member", Role: domain.RoleSRC, DepartmentID: &ict, Active: true},
		domain.Profile{ID: "src-wel", FullName: "Welfare Member", Role: domain.RoleSRC, DepartmentID: &welfare, Active: true},
		domain.Profile{ID: "adm-1", FullName: "Admin", Role: domain.RoleAdmin, Active: true},
	)
	departments := repository.NewMemoryDepartmentRepository(
		domain.Department{ID: ict, Name: "ICT", IsActive: true},
		domain.Department{ID: welfare, Name: "Welfare", IsActive: true},
	)
	tickets := repository.NewMemoryTicketRepository()
	history := repository.NewMemoryTicketHistoryRepository()
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	directory := service.NewDirectoryService(service.DirectoryDependencies{Departments: departments})
	ticketSvc := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  tickets,
		HistoryRepo: history,
		Targeting:   service.NewTargetingResolver(directory),
		Dispatcher:  dispatcher,
	})
	claimSvc := service.NewClaimService(service.ClaimDependencies{
		TicketRepo:  tickets,
		HistoryRepo: history,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
	})
	assignSvc := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  tickets,
		HistoryRepo: history,
		ProfileRepo: profiles,
		Dispatcher:  dispatcher,
	})

	tm := auth.NewTokenManager("test-secret", 5)
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("src-complaints", "test"),
		Tickets:        handlers.NewTicketsHandler(ticketSvc, claimSvc, assignSvc),
		Departments:    handlers.NewDepartmentsHandler(directory),
		AuthMiddleware: auth.NewAuthMiddleware(tm, profiles),
		Metrics:        metrics.Handler(),
	})

	srv := &testServer{app: app, tokens: map[string]string{}}
	for _, id := range []string{"stu-1", "src-ict", "src-wel", "adm-1"} {
		profile, err := profiles.GetByID(context.Background(), id)
		require.NoError(t, err)
		token, _, err := tm.GenerateToken(profile.Actor())
		require.NoError(t, err)
		srv.tokens[id] = token
	}
	return srv
}

func (s *testServer) do(t *testing.T, method, path, as string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[as])
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func createTicket(t *testing.T, s *testServer, departments ...string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "Projector broken",
		"description":        "Lecture hall 2 projector is dead",
		"category":           "facilities",
		"target_departments": departments,
	})
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]any)
	return data["id"].(string)
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, _ = s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCreateTicketEndpoint(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "Projector broken",
		"description":        "Lecture hall 2 projector is dead",
		"category":           "facilities",
		"target_departments": []string{"all"},
	})
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "medium", data["priority"])
	assert.Equal(t, []any{"dept-ict", "dept-welfare"}, data["departments_selected"])

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "",
		"category":           "food",
		"target_departments": []string{"ICT"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "Canteen",
		"description":        "Food cold",
		"category":           "other",
		"target_departments": []string{"Catering"},
	})
	assert.Equal(t, http.StatusBadRequest, status, "unknown department")
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, _ = s.do(t, http.MethodPost, "/api/v1/tickets", "src-ict", map[string]any{})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestCreateTicketAcceptsAllAsString(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "Wifi down",
		"description":        "No signal in the library",
		"category":           "facilities",
		"target_departments": "all",
	})
	require.Equal(t, http.StatusCreated, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, []any{"dept-ict", "dept-welfare"}, data["departments_selected"])

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets", "stu-1", map[string]any{
		"title":              "Wifi down",
		"description":        "No signal in the library",
		"category":           "facilities",
		"target_departments": 7,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestClaimEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := createTicket(t, s, "ICT", "Welfare")

	status, body := s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "src-ict", map[string]any{"action": "claim"})
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["is_claimed"])
	assert.Equal(t, "dept-ict", data["assigned_department"])

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "src-wel", map[string]any{"action": "claim"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errorCode(body))

	status, _ = s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "stu-1", map[string]any{"action": "claim"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "src-ict", map[string]any{"action": "grab"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "src-ict", map[string]any{"action": "unclaim"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]any)["is_claimed"])

	status, _ = s.do(t, http.MethodPost, "/api/v1/tickets/missing/claim", "src-ict", map[string]any{"action": "claim"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusAndAssignmentEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := createTicket(t, s, "ICT")

	status, _ := s.do(t, http.MethodPut, "/api/v1/tickets/"+id+"/status", "src-ict", map[string]any{"status": "in_progress"})
	assert.Equal(t, http.StatusForbidden, status, "unclaimed and unassigned")

	status, body := s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/assignment", "adm-1", map[string]any{"assigned_to": "src-ict"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "in_progress", body["data"].(map[string]any)["status"])

	status, body = s.do(t, http.MethodPut, "/api/v1/tickets/"+id+"/status", "src-ict", map[string]any{"status": "resolved"})
	require.Equal(t, http.StatusOK, status, body)
	assert.NotNil(t, body["data"].(map[string]any)["resolved_at"])

	status, _ = s.do(t, http.MethodPut, "/api/v1/tickets/"+id+"/status", "src-ict", map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, status, "resolved cannot go back to pending")

	status, body = s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/assignment", "adm-1", map[string]any{"assigned_to": "src-wel"})
	assert.Equal(t, http.StatusBadRequest, status, "welfare not targeted")
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, http.MethodDelete, "/api/v1/tickets/"+id+"/assignment", "src-ict", nil)
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Nil(t, data["assigned_to"])
	assert.Nil(t, data["resolved_at"])

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"])
}

func TestListAndDepartments(t *testing.T) {
	s := newTestServer(t)
	createTicket(t, s, "ICT")
	createTicket(t, s, "Welfare")

	status, body := s.do(t, http.MethodGet, "/api/v1/tickets", "src-ict", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets?status=pending,in_progress", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, _ = s.do(t, http.MethodGet, "/api/v1/tickets?status=done", "stu-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets?page=9223372036854775807&page_size=100", "stu-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets?page=10000", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["data"])

	status, body = s.do(t, http.MethodGet, "/api/v1/departments", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)
}

func TestHistoryFilterByType(t *testing.T) {
	s := newTestServer(t)
	id := createTicket(t, s, "ICT")

	status, _ := s.do(t, http.MethodPost, "/api/v1/tickets/"+id+"/claim", "src-ict", map[string]any{"action": "claim"})
	require.Equal(t, http.StatusOK, status)

	status, body := s.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history?type=claim_change", "stu-1", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["data"], 1)

	status, body = s.do(t, http.MethodGet, "/api/v1/tickets/"+id+"/history?type=bogus", "stu-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestUnknownRouteAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	s.do(t, http.MethodGet, "/health/live", "", nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "src_complaints_http_requests_total")
}
