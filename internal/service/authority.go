package service

import "github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"

// canManage is the ownership test shared by status, priority and response
// changes: admins, the individually assigned caseworker, or, when nobody is
// individually assigned, a caseworker from the claiming department.
func canManage(actor domain.Actor, ticket *domain.Ticket) bool {
	if actor.IsAdmin() {
		return true
	}
	if ticket.AssignedTo != nil {
		return *ticket.AssignedTo == actor.ID
	}
	if !actor.IsCaseworker() || !ticket.IsClaimed || ticket.AssignedDepartment == nil {
		return false
	}
	return actor.HomeDepartment() != "" && actor.HomeDepartment() == *ticket.AssignedDepartment
}

// canView decides read access to a ticket.
func canView(actor domain.Actor, ticket *domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleStudent:
		return ticket.StudentID == actor.ID
	case domain.RoleSRC:
		if ticket.AssignedTo != nil && *ticket.AssignedTo == actor.ID {
			return true
		}
		return ticket.Targets(actor.HomeDepartment())
	}
	return false
}
