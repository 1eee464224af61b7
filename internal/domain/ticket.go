package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// TicketStatus enumerates lifecycle states for complaints.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusRejected   TicketStatus = "rejected"
)

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// TicketCategory enumerates complaint subjects.
type TicketCategory string

const (
	TicketCategoryAcademic   TicketCategory = "academic"
	TicketCategoryFacilities TicketCategory = "facilities"
	TicketCategorySecurity   TicketCategory = "security"
	TicketCategoryHealth     TicketCategory = "health"
	TicketCategoryTransport  TicketCategory = "transport"
	TicketCategoryOther      TicketCategory = "other"
)

// ParseStatus rejects unknown status strings.
func ParseStatus(raw string) (TicketStatus, error) {
	switch s := TicketStatus(raw); s {
	case TicketStatusPending, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed, TicketStatusRejected:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// ParsePriority rejects unknown priority strings.
func ParsePriority(raw string) (TicketPriority, error) {
	switch p := TicketPriority(raw); p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", raw)
}

// ParseCategory rejects unknown category strings.
func ParseCategory(raw string) (TicketCategory, error) {
	switch c := TicketCategory(raw); c {
	case TicketCategoryAcademic, TicketCategoryFacilities, TicketCategorySecurity,
		TicketCategoryHealth, TicketCategoryTransport, TicketCategoryOther:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// IsFinished reports whether the status carries a resolved_at timestamp.
func (s TicketStatus) IsFinished() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// Ticket is the complaint aggregate.
type Ticket struct {
	ID                  string
	StudentID           string
	Title               string
	Description         string
	Category            TicketCategory
	Priority            TicketPriority
	Status              TicketStatus
	DepartmentsSelected []string
	IsClaimed           bool
	ClaimedBy           *string
	ClaimedAt           *time.Time
	AssignedDepartment  *string
	AssignedTo          *string
	Response            *string
	ResolvedAt          *time.Time
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Targets reports whether departmentID is among the selected departments.
func (t *Ticket) Targets(departmentID string) bool {
	return departmentID != "" && slices.Contains(t.DepartmentsSelected, departmentID)
}

// SetStatus moves the ticket to status and keeps resolved_at in step with it.
// Re-entering a finished status refreshes the timestamp.
func (t *Ticket) SetStatus(status TicketStatus, now time.Time) {
	t.Status = status
	if status.IsFinished() {
		ts := now
		t.ResolvedAt = &ts
		return
	}
	t.ResolvedAt = nil
}

// Clone returns a deep copy safe to mutate.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.DepartmentsSelected = slices.Clone(t.DepartmentsSelected)
	cp.ClaimedBy = cloneString(t.ClaimedBy)
	cp.AssignedDepartment = cloneString(t.AssignedDepartment)
	cp.AssignedTo = cloneString(t.AssignedTo)
	cp.Response = cloneString(t.Response)
	cp.ClaimedAt = cloneTime(t.ClaimedAt)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	return &cp
}

// Validate checks the structural invariants of a stored ticket.
func (t *Ticket) Validate() error {
	if len(t.DepartmentsSelected) == 0 {
		return errors.New("departments_selected is empty")
	}
	claimedBySet := t.ClaimedBy != nil
	deptSet := t.AssignedDepartment != nil
	if t.IsClaimed != claimedBySet || t.IsClaimed != deptSet {
		return errors.New("claim fields out of step")
	}
	if deptSet && !t.Targets(*t.AssignedDepartment) {
		return fmt.Errorf("assigned department %s not targeted", *t.AssignedDepartment)
	}
	if t.Status.IsFinished() != (t.ResolvedAt != nil) {
		return fmt.Errorf("resolved_at inconsistent with status %s", t.Status)
	}
	return nil
}

var statusTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusPending:    {TicketStatusPending, TicketStatusInProgress, TicketStatusRejected},
	TicketStatusInProgress: {TicketStatusPending, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed, TicketStatusRejected},
	TicketStatusResolved:   {TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed},
	TicketStatusClosed:     {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusRejected:   {TicketStatusRejected},
}

// CanTransition reports whether a caller may move a ticket from current to next.
func CanTransition(current, next TicketStatus) bool {
	return slices.Contains(statusTransitions[current], next)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
