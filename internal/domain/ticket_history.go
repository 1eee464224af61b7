package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated  TicketChangeType = "CREATED"
	ChangeTypeClaim    TicketChangeType = "CLAIM_CHANGE"
	ChangeTypeAssignee TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypeStatus   TicketChangeType = "STATUS_CHANGE"
	ChangeTypePriority TicketChangeType = "PRIORITY_CHANGE"
	ChangeTypeResponse TicketChangeType = "RESPONSE_CHANGE"
	ChangeTypeDetails  TicketChangeType = "DETAILS_CHANGE"
)

// ParseChangeType accepts a change type name in any case.
func ParseChangeType(raw string) (TicketChangeType, error) {
	ct := TicketChangeType(strings.ToUpper(strings.TrimSpace(raw)))
	switch ct {
	case ChangeTypeCreated, ChangeTypeClaim, ChangeTypeAssignee, ChangeTypeStatus,
		ChangeTypePriority, ChangeTypeResponse, ChangeTypeDetails:
		return ct, nil
	}
	return "", fmt.Errorf("unknown change type %q", raw)
}

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID          string
	TicketID    string
	ChangedBy   string
	ChangedRole Role
	ChangeType  TicketChangeType
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
