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

// maxMutationAttempts bounds how often a read-validate-write cycle is retried
// after losing a version race.
const maxMutationAttempts = 3

// ticketWriter is the write path shared by the ticket, claim and assignment
// services: guarded persistence, audit entries and change events.
type ticketWriter struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func newTicketWriter(tickets repository.TicketRepository, history repository.TicketHistoryRepository, dispatcher events.Dispatcher, logger *zap.Logger, clock func() time.Time) ticketWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return ticketWriter{tickets: tickets, history: history, dispatcher: dispatcher, logger: logger, now: clock}
}

func (w *ticketWriter) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := w.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// mutate reads the ticket, lets apply validate and change it, then writes it
// back guarded by the version it read. apply must not have side effects
// beyond the ticket since it may run more than once.
func (w *ticketWriter) mutate(ctx context.Context, ticketID string, apply func(*domain.Ticket) error) (*domain.Ticket, error) {
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		ticket, err := w.load(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if err := apply(ticket); err != nil {
			return nil, err
		}
		err = w.tickets.Save(ctx, ticket, w.now())
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.MapError(err)
		}
		w.logger.Debug("ticket version race, retrying",
			zap.String("ticket_id", ticketID),
			zap.Int("attempt", attempt))
	}
	return nil, apperrors.NewConflict("ticket was modified concurrently, retry", map[string]any{"ticket_id": ticketID})
}

// record appends an audit entry. The ticket write has already happened, so a
// failure here is logged rather than returned.
func (w *ticketWriter) record(ctx context.Context, actor domain.Actor, ticketID string, change domain.TicketChangeType, oldValue, newValue map[string]any) {
	if w.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:    ticketID,
		ChangedBy:   actor.ID,
		ChangedRole: actor.Role,
		ChangeType:  change,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   w.now(),
	}
	if err := w.history.Append(ctx, entry); err != nil {
		w.logger.Warn("audit write failed",
			zap.String("ticket_id", ticketID),
			zap.String("change_type", string(change)),
			zap.Error(err))
	}
}

func (w *ticketWriter) publish(ctx context.Context, kind events.ChangeKind, ticket *domain.Ticket, actor domain.Actor, excerpt string) {
	if w.dispatcher == nil {
		return
	}
	event := events.TicketEvent(kind, ticket, actor, excerpt)
	event.Timestamp = w.now()
	if err := w.dispatcher.Publish(ctx, event); err != nil {
		w.logger.Warn("event dispatch failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("change_kind", string(kind)),
			zap.Error(err))
	}
}

func stringPreview(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func derefString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
