package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/api/dto"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/service"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

const (
	maxPage     = 10_000
	maxPageSize = 100
)

// TicketsHandler exposes complaint routing endpoints.
type TicketsHandler struct {
	tickets     *service.TicketService
	claims      *service.ClaimService
	assignments *service.AssignmentService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, claims *service.ClaimService, assignments *service.AssignmentService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, claims: claims, assignments: assignments}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.CreateTicket(c.UserContext(), actor, service.TicketCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    domain.TicketCategory(req.Category),
		Priority:    domain.TicketPriority(req.Priority),
		Departments: []string(req.TargetDepartments),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	input, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListTickets(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	input := service.TicketDetailsInput{Title: req.Title, Description: req.Description}
	if req.Category != nil {
		category := domain.TicketCategory(*req.Category)
		input.Category = &category
	}
	ticket, err := h.tickets.UpdateDetails(c.UserContext(), actor, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// History GET /tickets/:id/history?type=STATUS_CHANGE,CLAIM_CHANGE.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var types []domain.TicketChangeType
	for _, raw := range splitList(c.Query("type")) {
		ct, err := domain.ParseChangeType(raw)
		if err != nil {
			return apperrors.NewValidationError("invalid change type", map[string]any{"type": raw})
		}
		types = append(types, ct)
	}
	entries, err := h.tickets.History(c.UserContext(), actor, c.Params("id"), types...)
	if err != nil {
		return err
	}
	items := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewTicketHistoryResponse(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Claim POST /tickets/:id/claim.
func (h *TicketsHandler) Claim(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ClaimRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	var ticket *domain.Ticket
	if req.Action == "unclaim" {
		ticket, err = h.claims.Unclaim(c.UserContext(), actor, c.Params("id"))
	} else {
		ticket, err = h.claims.Claim(c.UserContext(), actor, c.Params("id"))
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Assign POST /tickets/:id/assignment.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.assignments.Assign(c.UserContext(), actor, c.Params("id"), strings.TrimSpace(req.AssignedTo))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Unassign DELETE /tickets/:id/assignment.
func (h *TicketsHandler) Unassign(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	ticket, err := h.assignments.Unassign(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// EligibleAssignees GET /tickets/:id/assignees.
func (h *TicketsHandler) EligibleAssignees(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	profiles, err := h.assignments.EligibleAssignees(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.AssigneeResponse, 0, len(profiles))
	for _, profile := range profiles {
		items = append(items, dto.NewAssigneeResponse(profile))
	}
	return c.JSON(fiber.Map{"data": items})
}

// SetStatus PUT /tickets/:id/status.
func (h *TicketsHandler) SetStatus(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.StatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.SetStatus(c.UserContext(), actor, c.Params("id"), domain.TicketStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// SetPriority PUT /tickets/:id/priority.
func (h *TicketsHandler) SetPriority(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PriorityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.SetPriority(c.UserContext(), actor, c.Params("id"), domain.TicketPriority(req.Priority))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// SetResponse PUT /tickets/:id/response.
func (h *TicketsHandler) SetResponse(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.ResponseRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.tickets.SetResponse(c.UserContext(), actor, c.Params("id"), req.Response)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return dto.Validate(out)
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListInput, error) {
	input := service.TicketListInput{}
	for _, part := range splitList(c.Query("status")) {
		status, err := domain.ParseStatus(part)
		if err != nil {
			return input, apperrors.NewValidationError("invalid status filter", map[string]any{"status": part})
		}
		input.Statuses = append(input.Statuses, status)
	}
	for _, part := range splitList(c.Query("priority")) {
		priority, err := domain.ParsePriority(part)
		if err != nil {
			return input, apperrors.NewValidationError("invalid priority filter", map[string]any{"priority": part})
		}
		input.Priorities = append(input.Priorities, priority)
	}
	for _, part := range splitList(c.Query("category")) {
		category, err := domain.ParseCategory(part)
		if err != nil {
			return input, apperrors.NewValidationError("invalid category filter", map[string]any{"category": part})
		}
		input.Categories = append(input.Categories, category)
	}
	if dept := strings.TrimSpace(c.Query("department")); dept != "" {
		input.DepartmentID = &dept
	}
	if assignee := strings.TrimSpace(c.Query("assigned_to")); assignee != "" {
		input.AssignedTo = &assignee
	}
	if raw := c.Query("claimed"); raw != "" {
		claimed, err := strconv.ParseBool(raw)
		if err != nil {
			return input, apperrors.NewValidationError("invalid claimed filter", map[string]any{"claimed": raw})
		}
		input.Claimed = &claimed
	}
	input.Mine = c.QueryBool("mine", false)

	page := parseInt(c.Query("page"), 1)
	if page > maxPage {
		return input, apperrors.NewValidationError("page out of range", map[string]any{"page": fmt.Sprintf("must be at most %d", maxPage)})
	}
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	input.Offset = (page - 1) * pageSize
	input.Limit = pageSize
	return input, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
