package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/api/dto"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/service"
)

// DepartmentsHandler lists routing targets.
type DepartmentsHandler struct {
	directory *service.DirectoryService
}

// NewDepartmentsHandler constructs handler.
func NewDepartmentsHandler(directory *service.DirectoryService) *DepartmentsHandler {
	return &DepartmentsHandler{directory: directory}
}

// List GET /departments. Inactive departments are only listed for admins.
func (h *DepartmentsHandler) List(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	includeInactive := actor.IsAdmin() && c.QueryBool("include_inactive", false)
	departments, err := h.directory.List(c.UserContext(), includeInactive)
	if err != nil {
		return err
	}
	items := make([]dto.DepartmentResponse, 0, len(departments))
	for _, dept := range departments {
		items = append(items, dto.NewDepartmentResponse(dept))
	}
	return c.JSON(fiber.Map{"data": items})
}
