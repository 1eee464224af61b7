package repository

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// The memory repositories back tests and DSN-less development runs. They honour
// the same guarded-write contract as the Postgres implementations: each
// mutation takes the lock once, checks its guard and writes.

// MemoryTicketRepository is an in-process TicketRepository.
type MemoryTicketRepository struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	now     func() time.Time
}

// NewMemoryTicketRepository builds an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*domain.Ticket), now: time.Now}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = r.now()
	}
	ticket.Version = 1
	ticket.UpdatedAt = ticket.CreatedAt
	r.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return stored.Clone(), nil
}

func (r *MemoryTicketRepository) Claim(_ context.Context, id, caseworkerID, departmentID string, at time.Time) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok || stored.IsClaimed || !stored.Targets(departmentID) {
		return nil, ErrConditionFailed
	}
	claimedAt := at
	stored.IsClaimed = true
	stored.ClaimedBy = &caseworkerID
	stored.ClaimedAt = &claimedAt
	stored.AssignedDepartment = &departmentID
	stored.Version++
	stored.UpdatedAt = at
	return stored.Clone(), nil
}

func (r *MemoryTicketRepository) Unclaim(_ context.Context, id, caseworkerID string, at time.Time) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[id]
	if !ok || !stored.IsClaimed || stored.ClaimedBy == nil || *stored.ClaimedBy != caseworkerID {
		return nil, ErrConditionFailed
	}
	stored.IsClaimed = false
	stored.ClaimedBy = nil
	stored.ClaimedAt = nil
	stored.AssignedDepartment = nil
	stored.Version++
	stored.UpdatedAt = at
	return stored.Clone(), nil
}

func (r *MemoryTicketRepository) Save(_ context.Context, ticket *domain.Ticket, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok || stored.Version != ticket.Version {
		return ErrVersionConflict
	}
	next := stored.Clone()
	next.Title = ticket.Title
	next.Description = ticket.Description
	next.Category = ticket.Category
	next.Priority = ticket.Priority
	next.Status = ticket.Status
	next.AssignedTo = cloneStr(ticket.AssignedTo)
	next.Response = cloneStr(ticket.Response)
	next.ResolvedAt = ticket.Clone().ResolvedAt
	next.Version++
	next.UpdatedAt = at
	r.tickets[ticket.ID] = next

	ticket.Version = next.Version
	ticket.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *MemoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	result := make([]domain.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		if matchesTicket(t, filter) {
			result = append(result, *t.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	limit, offset := pageBounds(filter.Limit, filter.Offset, 20)
	if offset >= len(result) {
		return []domain.Ticket{}, nil
	}
	end := min(offset+limit, len(result))
	return result[offset:end], nil
}

func matchesTicket(t *domain.Ticket, f TicketFilter) bool {
	if f.StudentID != nil && t.StudentID != *f.StudentID {
		return false
	}
	if f.DepartmentID != nil && !t.Targets(*f.DepartmentID) {
		return false
	}
	if f.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *f.AssignedTo) {
		return false
	}
	if f.ClaimedBy != nil && (t.ClaimedBy == nil || *t.ClaimedBy != *f.ClaimedBy) {
		return false
	}
	if f.Claimed != nil && t.IsClaimed != *f.Claimed {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, t.Category) {
		return false
	}
	return true
}

// MemoryDepartmentRepository is an in-process DepartmentRepository.
type MemoryDepartmentRepository struct {
	mu          sync.RWMutex
	departments map[string]domain.Department
}

// NewMemoryDepartmentRepository seeds the store with depts.
func NewMemoryDepartmentRepository(depts ...domain.Department) *MemoryDepartmentRepository {
	r := &MemoryDepartmentRepository{departments: make(map[string]domain.Department)}
	for _, d := range depts {
		r.Put(d)
	}
	return r
}

// Put inserts or replaces a department.
func (r *MemoryDepartmentRepository) Put(dept domain.Department) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	r.departments[dept.ID] = dept
}

// SetActive flips the soft-delete flag.
func (r *MemoryDepartmentRepository) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dept, ok := r.departments[id]; ok {
		dept.IsActive = active
		r.departments[id] = dept
	}
}

func (r *MemoryDepartmentRepository) GetByID(_ context.Context, id string) (*domain.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dept, ok := r.departments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &dept, nil
}

func (r *MemoryDepartmentRepository) GetByName(_ context.Context, name string) (*domain.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dept := range r.departments {
		if strings.EqualFold(dept.Name, name) {
			return &dept, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *MemoryDepartmentRepository) List(_ context.Context, includeInactive bool) ([]domain.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Department, 0, len(r.departments))
	for _, dept := range r.departments {
		if dept.IsActive || includeInactive {
			result = append(result, dept)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// MemoryProfileRepository is an in-process ProfileRepository.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

// NewMemoryProfileRepository seeds the store with profiles.
func NewMemoryProfileRepository(profiles ...domain.Profile) *MemoryProfileRepository {
	r := &MemoryProfileRepository{profiles: make(map[string]domain.Profile)}
	for _, p := range profiles {
		r.Put(p)
	}
	return r
}

// Put inserts or replaces a profile.
func (r *MemoryProfileRepository) Put(profile domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ID] = profile
}

func (r *MemoryProfileRepository) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &profile, nil
}

func (r *MemoryProfileRepository) List(_ context.Context, filter ProfileFilter) ([]domain.Profile, error) {
	r.mu.RLock()
	result := []domain.Profile{}
	for _, p := range r.profiles {
		if filter.Role != nil && p.Role != *filter.Role {
			continue
		}
		if len(filter.DepartmentIDs) > 0 && (p.DepartmentID == nil || !slices.Contains(filter.DepartmentIDs, *p.DepartmentID)) {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		result = append(result, p)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	limit, offset := pageBounds(filter.Limit, filter.Offset, 50)
	if offset >= len(result) {
		return []domain.Profile{}, nil
	}
	return result[offset:min(offset+limit, len(result))], nil
}

// MemoryTicketHistoryRepository is an in-process TicketHistoryRepository.
type MemoryTicketHistoryRepository struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

// NewMemoryTicketHistoryRepository builds an empty audit log.
func NewMemoryTicketHistoryRepository() *MemoryTicketHistoryRepository {
	return &MemoryTicketHistoryRepository{}
}

func (r *MemoryTicketHistoryRepository) Append(_ context.Context, entry *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryTicketHistoryRepository) List(_ context.Context, filter HistoryFilter) ([]domain.TicketHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := []domain.TicketHistory{}
	for _, entry := range r.entries {
		if filter.Matches(entry) {
			result = append(result, entry)
		}
	}
	return result, nil
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
