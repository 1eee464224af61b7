package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title             string   `json:"title" validate:"required,notblank,max=200"`
	Description       string   `json:"description" validate:"required,notblank,max=5000"`
	Category          string   `json:"category" validate:"required,oneof=academic facilities security health transport other"`
	Priority          string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	TargetDepartments DepartmentSelection `json:"target_departments" validate:"required,min=1,dive,notblank"`
}

// DepartmentSelection accepts either a list of department references or a
// single string such as "all".
type DepartmentSelection []string

// UnmarshalJSON decodes a string or an array of strings.
func (d *DepartmentSelection) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = DepartmentSelection{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("target_departments must be a string or a list of strings")
	}
	*d = list
	return nil
}

// UpdateTicketRequest carries the editable complaint fields.
type UpdateTicketRequest struct {
	Title       *string `json:"title" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,notblank,max=5000"`
	Category    *string `json:"category" validate:"omitempty,oneof=academic facilities security health transport other"`
}

// ClaimRequest toggles a department claim.
type ClaimRequest struct {
	Action string `json:"action" validate:"required,oneof=claim unclaim"`
}

// AssignRequest names the caseworker to assign.
type AssignRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required,notblank"`
}

// StatusRequest payload.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending in_progress resolved closed rejected"`
}

// PriorityRequest payload.
type PriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=low medium high urgent"`
}

// ResponseRequest carries the official response text.
type ResponseRequest struct {
	Response string `json:"response" validate:"required,notblank,max=5000"`
}

// TicketResponse is the wire form of a complaint.
type TicketResponse struct {
	ID                  string                `json:"id"`
	StudentID           string                `json:"student_id"`
	Title               string                `json:"title"`
	Description         string                `json:"description"`
	Category            domain.TicketCategory `json:"category"`
	Priority            domain.TicketPriority `json:"priority"`
	Status              domain.TicketStatus   `json:"status"`
	DepartmentsSelected []string              `json:"departments_selected"`
	IsClaimed           bool                  `json:"is_claimed"`
	ClaimedBy           *string               `json:"claimed_by"`
	ClaimedAt           *time.Time            `json:"claimed_at"`
	AssignedDepartment  *string               `json:"assigned_department"`
	AssignedTo          *string               `json:"assigned_to"`
	Response            *string               `json:"response"`
	ResolvedAt          *time.Time            `json:"resolved_at"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// TicketHistoryResponse represents an audit entry.
type TicketHistoryResponse struct {
	ID          string                  `json:"id"`
	ChangedBy   string                  `json:"changed_by"`
	ChangedRole domain.Role             `json:"changed_role"`
	ChangeType  domain.TicketChangeType `json:"change_type"`
	OldValue    map[string]any          `json:"old_value"`
	NewValue    map[string]any          `json:"new_value"`
	CreatedAt   time.Time               `json:"created_at"`
}

// DepartmentResponse is the wire form of a department.
type DepartmentResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	IsActive bool   `json:"is_active"`
}

// AssigneeResponse lists a caseworker eligible for assignment.
type AssigneeResponse struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	Email        string  `json:"email"`
	DepartmentID *string `json:"department_id"`
}

// NewTicketResponse maps the domain ticket.
func NewTicketResponse(ticket *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                  ticket.ID,
		StudentID:           ticket.StudentID,
		Title:               ticket.Title,
		Description:         ticket.Description,
		Category:            ticket.Category,
		Priority:            ticket.Priority,
		Status:              ticket.Status,
		DepartmentsSelected: ticket.DepartmentsSelected,
		IsClaimed:           ticket.IsClaimed,
		ClaimedBy:           ticket.ClaimedBy,
		ClaimedAt:           ticket.ClaimedAt,
		AssignedDepartment:  ticket.AssignedDepartment,
		AssignedTo:          ticket.AssignedTo,
		Response:            ticket.Response,
		ResolvedAt:          ticket.ResolvedAt,
		CreatedAt:           ticket.CreatedAt,
		UpdatedAt:           ticket.UpdatedAt,
	}
}

// NewTicketHistoryResponse maps an audit entry.
func NewTicketHistoryResponse(entry domain.TicketHistory) TicketHistoryResponse {
	return TicketHistoryResponse{
		ID:          entry.ID,
		ChangedBy:   entry.ChangedBy,
		ChangedRole: entry.ChangedRole,
		ChangeType:  entry.ChangeType,
		OldValue:    entry.OldValue,
		NewValue:    entry.NewValue,
		CreatedAt:   entry.CreatedAt,
	}
}

// NewDepartmentResponse maps a department.
func NewDepartmentResponse(dept domain.Department) DepartmentResponse {
	return DepartmentResponse{ID: dept.ID, Name: dept.Name, Color: dept.Color, IsActive: dept.IsActive}
}

// NewAssigneeResponse maps a caseworker profile.
func NewAssigneeResponse(profile domain.Profile) AssigneeResponse {
	return AssigneeResponse{
		ID:           profile.ID,
		FullName:     profile.FullName,
		Email:        profile.Email,
		DepartmentID: profile.DepartmentID,
	}
}
