package domain

import "time"

// Department represents an organizational unit complaints are routed to.
type Department struct {
	ID        string
	Name      string
	Color     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
