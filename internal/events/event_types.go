package events

import (
	"time"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// EntityType names the kind of record a change refers to.
type EntityType string

const (
	EntityTicket  EntityType = "ticket"
	EntityMessage EntityType = "message"
)

// ChangeKind enumerates the mutations published on the change feed.
type ChangeKind string

const (
	ChangeTicketCreated    ChangeKind = "created"
	ChangeTicketClaimed    ChangeKind = "claimed"
	ChangeTicketUnclaimed  ChangeKind = "unclaimed"
	ChangeTicketAssigned   ChangeKind = "assigned"
	ChangeTicketUnassigned ChangeKind = "unassigned"
	ChangeTicketStatus     ChangeKind = "status_changed"
	ChangeTicketPriority   ChangeKind = "priority_changed"
	ChangeTicketResponse   ChangeKind = "response_set"
	ChangeTicketDetails    ChangeKind = "details_updated"
	ChangeMessageInserted  ChangeKind = "inserted"
)

// Event is one entry of the change feed. Message events are produced by the
// chat subsystem on the same channel; the core only emits ticket events.
type Event struct {
	ID             string     `json:"id"`
	EntityType     EntityType `json:"entity_type"`
	EntityID       string     `json:"entity_id"`
	ChangeKind     ChangeKind `json:"change_kind"`
	ActorID        string     `json:"actor_id"`
	ActorRole      string     `json:"actor_role,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	Departments    []string   `json:"departments,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Recipients     []string   `json:"recipients,omitempty"`
	Excerpt        string     `json:"excerpt,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// TicketEvent builds a ticket change event from the ticket's current state.
func TicketEvent(kind ChangeKind, ticket *domain.Ticket, actor domain.Actor, excerpt string) Event {
	return Event{
		EntityType:  EntityTicket,
		EntityID:    ticket.ID,
		ChangeKind:  kind,
		ActorID:     actor.ID,
		ActorRole:   string(actor.Role),
		OwnerID:     ticket.StudentID,
		Departments: append([]string(nil), ticket.DepartmentsSelected...),
		Excerpt:     excerpt,
	}
}
