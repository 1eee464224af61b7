package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

// Claim outcomes reported to metrics.
const (
	claimOutcomeClaimed   = "claimed"
	claimOutcomeConflict  = "conflict"
	claimOutcomeForbidden = "forbidden"
	claimOutcomeReleased  = "released"
)

// ClaimDependencies wires the claim service.
type ClaimDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// ClaimService arbitrates which targeted department takes a complaint.
// The first caseworker to claim wins; everyone else gets a conflict.
type ClaimService struct {
	ticketWriter
	metrics *observability.Metrics
}

// NewClaimService constructs the service.
func NewClaimService(deps ClaimDependencies) *ClaimService {
	return &ClaimService{
		ticketWriter: newTicketWriter(deps.TicketRepo, deps.HistoryRepo, deps.Dispatcher, deps.Logger, deps.Clock),
		metrics:      deps.Metrics,
	}
}

// Claim locks the ticket to the caseworker's home department.
func (s *ClaimService) Claim(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	if !actor.IsCaseworker() {
		s.metrics.RecordClaim(claimOutcomeForbidden)
		return nil, apperrors.NewForbidden("only SRC members can claim complaints")
	}
	home := actor.HomeDepartment()
	if home == "" {
		s.metrics.RecordClaim(claimOutcomeForbidden)
		return nil, apperrors.NewForbidden("caseworker has no department")
	}
	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.claimable(current, home); err != nil {
		return nil, err
	}

	ticket, err := s.tickets.Claim(ctx, ticketID, actor.ID, home, s.now())
	if err != nil {
		if !errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperrors.MapError(err)
		}
		// Lost the race; classify against the winner's state.
		latest, loadErr := s.load(ctx, ticketID)
		if loadErr != nil {
			return nil, loadErr
		}
		s.logger.Info("claim race lost",
			zap.String("ticket_id", ticketID),
			zap.String("caseworker_id", actor.ID))
		if err := s.claimable(latest, home); err != nil {
			return nil, err
		}
		s.metrics.RecordClaim(claimOutcomeConflict)
		return nil, apperrors.NewConflict("complaint was claimed concurrently", map[string]any{"ticket_id": ticketID})
	}

	s.metrics.RecordClaim(claimOutcomeClaimed)
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeClaim,
		map[string]any{"is_claimed": false},
		map[string]any{"is_claimed": true, "claimed_by": actor.ID, "assigned_department": home})
	s.publish(ctx, events.ChangeTicketClaimed, ticket, actor, "")
	s.logger.Info("ticket claimed",
		zap.String("ticket_id", ticket.ID),
		zap.String("caseworker_id", actor.ID),
		zap.String("department_id", home))
	return ticket, nil
}

// Unclaim releases a claim held by the actor, reopening the ticket to every
// targeted department.
func (s *ClaimService) Unclaim(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !heldBy(current, actor.ID) {
		return nil, apperrors.NewForbidden("only the claiming caseworker can release the claim")
	}
	previousDept := derefString(current.AssignedDepartment)

	ticket, err := s.tickets.Unclaim(ctx, ticketID, actor.ID, s.now())
	if err != nil {
		if !errors.Is(err, repository.ErrConditionFailed) {
			return nil, apperrors.MapError(err)
		}
		if _, loadErr := s.load(ctx, ticketID); loadErr != nil {
			return nil, loadErr
		}
		return nil, apperrors.NewForbidden("only the claiming caseworker can release the claim")
	}

	s.metrics.RecordClaim(claimOutcomeReleased)
	s.record(ctx, actor, ticket.ID, domain.ChangeTypeClaim,
		map[string]any{"is_claimed": true, "claimed_by": actor.ID, "assigned_department": previousDept},
		map[string]any{"is_claimed": false})
	s.publish(ctx, events.ChangeTicketUnclaimed, ticket, actor, "")
	s.logger.Info("ticket unclaimed",
		zap.String("ticket_id", ticket.ID),
		zap.String("caseworker_id", actor.ID))
	return ticket, nil
}

func (s *ClaimService) claimable(ticket *domain.Ticket, home string) error {
	if !ticket.Targets(home) {
		s.metrics.RecordClaim(claimOutcomeForbidden)
		return apperrors.NewForbidden("complaint is not routed to your department")
	}
	if ticket.IsClaimed {
		s.metrics.RecordClaim(claimOutcomeConflict)
		return apperrors.NewConflict("complaint already claimed", map[string]any{
			"ticket_id":           ticket.ID,
			"assigned_department": derefString(ticket.AssignedDepartment),
		})
	}
	return nil
}

func heldBy(ticket *domain.Ticket, caseworkerID string) bool {
	return ticket.IsClaimed && ticket.ClaimedBy != nil && *ticket.ClaimedBy == caseworkerID
}
