package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

// AssignmentDependencies wires the assignment service.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	ProfileRepo repository.ProfileRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// AssignmentService hands tickets to individual caseworkers.
type AssignmentService struct {
	ticketWriter
	profiles repository.ProfileRepository
}

// NewAssignmentService constructs the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		ticketWriter: newTicketWriter(deps.TicketRepo, deps.HistoryRepo, deps.Dispatcher, deps.Logger, deps.Clock),
		profiles:     deps.ProfileRepo,
	}
}

// Assign gives the ticket to a caseworker from one of its targeted
// departments and moves it to in_progress.
func (s *AssignmentService) Assign(ctx context.Context, actor domain.Actor, ticketID, assigneeID string) (*domain.Ticket, error) {
	if !actor.IsAdmin() && !actor.IsCaseworker() {
		return nil, apperrors.NewForbidden("only SRC members can assign complaints")
	}
	assignee, err := s.profiles.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("assignee", map[string]any{"assignee_id": assigneeID})
		}
		return nil, apperrors.MapError(err)
	}
	if assignee.Role != domain.RoleSRC {
		return nil, apperrors.NewValidationError("assignee is not an SRC member", map[string]any{"assignee_id": assigneeID})
	}
	if !assignee.Active {
		return nil, apperrors.NewValidationError("assignee is inactive", map[string]any{"assignee_id": assigneeID})
	}
	assigneeDept := assignee.Actor().HomeDepartment()

	var previousAssignee any
	var previousStatus domain.TicketStatus
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if !t.Targets(assigneeDept) {
			return apperrors.NewValidationError("assignee's department is not targeted by this complaint", map[string]any{
				"assignee_id":   assigneeID,
				"department_id": assigneeDept,
			})
		}
		previousAssignee = derefString(t.AssignedTo)
		previousStatus = t.Status
		t.AssignedTo = &assignee.ID
		if t.Status != domain.TicketStatusInProgress {
			t.SetStatus(domain.TicketStatusInProgress, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypeAssignee,
		map[string]any{"assigned_to": previousAssignee},
		map[string]any{"assigned_to": assignee.ID})
	if previousStatus != ticket.Status {
		s.record(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
			map[string]any{"status": previousStatus},
			map[string]any{"status": ticket.Status})
	}
	s.publish(ctx, events.ChangeTicketAssigned, ticket, actor, assignee.FullName)
	s.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.String("assignee_id", assignee.ID))
	return ticket, nil
}

// Unassign removes the individual assignee and returns the ticket to pending.
func (s *AssignmentService) Unassign(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	var previousAssignee any
	var previousStatus domain.TicketStatus
	ticket, err := s.mutate(ctx, ticketID, func(t *domain.Ticket) error {
		isAssignee := t.AssignedTo != nil && *t.AssignedTo == actor.ID
		if !actor.IsAdmin() && !isAssignee {
			return apperrors.NewForbidden("only the assignee or an admin can unassign")
		}
		if t.AssignedTo == nil {
			return apperrors.NewValidationError("complaint has no assignee", nil)
		}
		previousAssignee = *t.AssignedTo
		previousStatus = t.Status
		t.AssignedTo = nil
		t.SetStatus(domain.TicketStatusPending, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, ticket.ID, domain.ChangeTypeAssignee,
		map[string]any{"assigned_to": previousAssignee},
		map[string]any{"assigned_to": nil})
	if previousStatus != ticket.Status {
		s.record(ctx, actor, ticket.ID, domain.ChangeTypeStatus,
			map[string]any{"status": previousStatus},
			map[string]any{"status": ticket.Status})
	}
	s.publish(ctx, events.ChangeTicketUnassigned, ticket, actor, "")
	return ticket, nil
}

// EligibleAssignees lists active caseworkers from the ticket's targeted
// departments.
func (s *AssignmentService) EligibleAssignees(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.Profile, error) {
	if !actor.IsAdmin() && !actor.IsCaseworker() {
		return nil, apperrors.NewForbidden("only SRC members can assign complaints")
	}
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, ticket) {
		return nil, apperrors.NewForbidden("ticket is not visible to you")
	}
	role := domain.RoleSRC
	active := true
	profiles, err := s.profiles.List(ctx, repository.ProfileFilter{
		Role:          &role,
		DepartmentIDs: ticket.DepartmentsSelected,
		Active:        &active,
		Limit:         200,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return profiles, nil
}
