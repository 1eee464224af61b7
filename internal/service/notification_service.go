package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
)

// NotificationService logs who a ticket change concerns. Delivery to
// browsers goes through the change feed; this keeps a server-side trace.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.ChangeTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.ChangeTicketClaimed, n.notifyOwner)
	n.dispatcher.Subscribe(events.ChangeTicketStatus, n.notifyOwner)
	n.dispatcher.Subscribe(events.ChangeTicketResponse, n.notifyOwner)
	n.dispatcher.Subscribe(events.ChangeTicketAssigned, n.handleTicketAssigned)
}

func (n *NotificationService) handleTicketCreated(_ context.Context, event events.Event) error {
	n.logger.Info("notify departments of new complaint",
		zap.String("ticket_id", event.EntityID),
		zap.Strings("departments", event.Departments))
	return nil
}

func (n *NotificationService) handleTicketAssigned(_ context.Context, event events.Event) error {
	n.logger.Info("notify assignee",
		zap.String("ticket_id", event.EntityID),
		zap.String("assignee", event.Excerpt),
		zap.String("by", event.ActorID))
	return n.notifyOwner(context.Background(), event)
}

func (n *NotificationService) notifyOwner(_ context.Context, event events.Event) error {
	if event.OwnerID == "" || event.OwnerID == event.ActorID {
		return nil
	}
	n.logger.Info("notify student",
		zap.String("ticket_id", event.EntityID),
		zap.String("student_id", event.OwnerID),
		zap.String("change_kind", string(event.ChangeKind)))
	return nil
}
