package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxResponseLength    = 5000
	excerptLength        = 120
)

// TicketDependencies wires the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Targeting   *TargetingResolver
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// TicketService implements complaint submission and the caseworker updates
// that are not claim or assignment changes.
type TicketService struct {
	ticketWriter
	targeting *TargetingResolver
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		ticketWriter: newTicketWriter(deps.TicketRepo, deps.HistoryRepo, deps.Dispatcher, deps.Logger, deps.Clock),
		targeting:    deps.Targeting,
	}
}

// TicketCreateInput carries a new complaint.
type TicketCreateInput struct {
	Title       string
	Description string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
	Departments []string
}

// TicketDetailsInput carries the fields a student may edit before triage.
type TicketDetailsInput struct {
	Title       *string
	Description *string
	Category    *domain.TicketCategory
}

// TicketListInput narrows a listing. Role scoping is applied on top.
type TicketListInput struct {
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	Categories   []domain.TicketCategory
	DepartmentID *string
	AssignedTo   *string
	Claimed      *bool
	Mine         bool
	Limit        int
	Offset       int
}

// CreateTicket submits a complaint routed to the resolved departments.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	if actor.Role != domain.RoleStudent && !actor.IsAdmin() {
		return nil, apperrors.NewForbidden("only students can submit complaints")
	}
	title, description, err := validateDetails(input.Title, input.Description)
	if err != nil {
		return nil, err
	}
	if _, err := domain.ParseCategory(string(input.Category)); err != nil {
		return nil, apperrors.NewValidationError("invalid category", map[string]any{"category": input.Category})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if _, err := domain.ParsePriority(string(priority)); err != nil {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}
	departments, err := s.targeting.Resolve(ctx, input.Departments)
	if err != nil {
		return nil, err
	}

	ticket := &domain.Ticket{
		StudentID:           actor.ID,
		Title:               title,
		Description:         description,
		Category:            input.Category,
		Priority:            priority,
		Status:              domain.TicketStatusPending,
		DepartmentsSelected: departments,
		CreatedAt:           s.now(),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.logger.Error("create ticket failed", zap.Error(err))
		return nil, apperrors.MapError(err)
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypeCreated, nil, map[string]any{
		"status":               ticket.Status,
		"priority":             ticket.Priority,
		"category":             ticket.Category,
		"departments_selected": ticket.DepartmentsSelected,
	})
	s.publish(ctx, events.ChangeTicketCreated, ticket, actor, stringPreview(ticket.Title, excerptLength))
	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.Strings("departments", ticket.DepartmentsSelected))
	return ticket, nil
}

// GetTicket returns a ticket visible to the actor.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ticket) {
		return nil, apperrors.NewForbidden("ticket is not visible to you")
	}
	return ticket, nil
}

// ListTickets lists tickets scoped to what the actor may see. Students see
// their own complaints, caseworkers see their department's queue and admins
// see everything.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, input TicketListInput) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{
		Statuses:   input.Statuses,
		Priorities: input.Priorities,
		Categories: input.Categories,
		Claimed:    input.Claimed,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	filter.AssignedTo = input.AssignedTo
	if input.Mine {
		filter.AssignedTo = &actor.ID
	}
	switch actor.Role {
	case domain.RoleStudent:
		filter.StudentID = &actor.ID
	case domain.RoleSRC:
		home := actor.HomeDepartment()
		if home == "" {
			return nil, apperrors.NewForbidden("caseworker has no department")
		}
		filter.DepartmentID = &home
	case domain.RoleAdmin:
		filter.DepartmentID = input.DepartmentID
	default:
		return nil, apperrors.NewForbidden("unknown role")
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// UpdateDetails lets the submitting student edit a complaint nobody has
// picked up yet.
func (s *TicketService) UpdateDetails(ctx context.Context, actor domain.Actor, ticketID string, input TicketDetailsInput) (*domain.Ticket, error) {
	if input.Category != nil {
		if _, err := domain.ParseCategory(string(*input.Category)); err != nil {
			return nil, apperrors.NewValidationError("invalid category", map[string]any{"category": *input.Category})
		}
	}
	var oldValue, newValue map[string]any
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if t.StudentID != actor.ID && !actor.IsAdmin() {
			return apperrors.NewForbidden("only the submitter can edit this complaint")
		}
		if t.Status != domain.TicketStatusPending || t.IsClaimed || t.AssignedTo != nil {
			return apperrors.NewValidationError("complaint can no longer be edited", map[string]any{"status": t.Status})
		}
		title, description := t.Title, t.Description
		if input.Title != nil {
			title = *input.Title
		}
		if input.Description != nil {
			description = *input.Description
		}
		title, description, err := validateDetails(title, description)
		if err != nil {
			return err
		}
		oldValue = map[string]any{"title": t.Title, "description": t.Description, "category": t.Category}
		t.Title = title
		t.Description = description
		if input.Category != nil {
			t.Category = *input.Category
		}
		newValue = map[string]any{"title": t.Title, "description": t.Description, "category": t.Category}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeDetails, oldValue, newValue)
	s.publish(ctx, events.ChangeTicketDetails, ticket, actor, stringPreview(ticket.Title, excerptLength))
	return ticket, nil
}

// SetPriority changes the urgency of a ticket the actor manages.
func (s *TicketService) SetPriority(ctx context.Context, actor domain.Actor, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	if _, err := domain.ParsePriority(string(priority)); err != nil {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	var previous domain.TicketPriority
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if !canManage(actor, t) {
			return apperrors.NewForbidden("you do not manage this ticket")
		}
		previous = t.Priority
		t.Priority = priority
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, ticket.ID, domain.ChangeTypePriority,
		map[string]any{"priority": previous},
		map[string]any{"priority": ticket.Priority})
	s.publish(ctx, events.ChangeTicketPriority, ticket, actor, string(ticket.Priority))
	return ticket, nil
}

// SetResponse records the official response shown to the student.
func (s *TicketService) SetResponse(ctx context.Context, actor domain.Actor, ticketID, response string) (*domain.Ticket, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, apperrors.NewValidationError("response is required", nil)
	}
	if utf8.RuneCountInString(response) > maxResponseLength {
		return nil, apperrors.NewValidationError("response is too long", map[string]any{"max": maxResponseLength})
	}
	var previous any
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if !canManage(actor, t) {
			return apperrors.NewForbidden("you do not manage this ticket")
		}
		previous = derefString(t.Response)
		t.Response = &response
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeResponse,
		map[string]any{"response": previous},
		map[string]any{"response": response})
	s.publish(ctx, events.ChangeTicketResponse, ticket, actor, stringPreview(response, excerptLength))
	return ticket, nil
}

// SetStatus moves a ticket along the status state machine.
func (s *TicketService) SetStatus(ctx context.Context, actor domain.Actor, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	var previous domain.TicketStatus
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if !canManage(actor, t) {
			return apperrors.NewForbidden("you do not manage this ticket")
		}
		if !domain.CanTransition(t.Status, status) {
			return apperrors.NewValidationError("status transition not allowed", map[string]any{
				"from": t.Status,
				"to":   status,
			})
		}
		previous = t.Status
		t.SetStatus(status, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
		map[string]any{"status": previous},
		map[string]any{"status": ticket.Status})
	s.publish(ctx, events.ChangeTicketStatus, ticket, actor, string(ticket.Status))
	s.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(ticket.Status)))
	return ticket, nil
}

// History returns the audit trail of a ticket visible to the actor,
// optionally narrowed to some change types.
func (s *TicketService) History(ctx context.Context, actor domain.Actor, ticketID string, types ...domain.TicketChangeType) ([]domain.TicketHistory, error) {
	if _, err := s.GetTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.List(ctx, repository.HistoryFilter{TicketID: ticketID, ChangeTypes: types})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func validateDetails(title, description string) (string, string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	details := map[string]any{}
	switch {
	case title == "":
		details["title"] = "required"
	case utf8.RuneCountInString(title) > maxTitleLength:
		details["title"] = "too long"
	}
	switch {
	case description == "":
		details["description"] = "required"
	case utf8.RuneCountInString(description) > maxDescriptionLength:
		details["description"] = "too long"
	}
	if len(details) > 0 {
		return "", "", apperrors.NewValidationError("invalid complaint details", details)
	}
	return title, description, nil
}
