package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
)

const (
	deptICT     = "dept-ict"
	deptWelfare = "dept-welfare"
	deptSports  = "dept-sports"
)

type fixture struct {
	tickets     *repository.MemoryTicketRepository
	departments *repository.MemoryDepartmentRepository
	profiles    *repository.MemoryProfileRepository
	history     *repository.MemoryTicketHistoryRepository
	recorder    *eventRecorder

	directory   *DirectoryService
	ticketSvc   *TicketService
	claimSvc    *ClaimService
	assignSvc   *AssignmentService
	clock       *fakeClock
	student     domain.Actor
	ictWorker   domain.Actor
	ictWorker2  domain.Actor
	welfare     domain.Actor
	admin       domain.Actor
	otherPupil  domain.Actor
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) kinds() []events.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.ChangeKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.ChangeKind)
	}
	return kinds
}

func strPtr(v string) *string { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tickets: repository.NewMemoryTicketRepository(),
		departments: repository.NewMemoryDepartmentRepository(
			domain.Department{ID: deptICT, Name: "ICT", IsActive: true},
			domain.Department{ID: deptWelfare, Name: "Welfare", IsActive: true},
			domain.Department{ID: deptSports, Name: "Sports", IsActive: false},
		),
		profiles: repository.NewMemoryProfileRepository(
			domain.Profile{ID: "stu-1", FullName: "Ama Student", Role: domain.RoleStudent, Active: true},
			domain.Profile{ID: "stu-2", FullName: "Kofi Student", Role: domain.RoleStudent, Active: true},
			domain.Profile{ID: "src-ict-1", FullName: "Esi ICT", Role: domain.RoleSRC, DepartmentID: strPtr(deptICT), Active: true},
			domain.Profile{ID: "src-ict-2", FullName: "Yaw ICT", Role: domain.RoleSRC, DepartmentID: strPtr(deptICT), Active: true},
			domain.Profile{ID: "src-wel-1", FullName: "Akua Welfare", Role: domain.RoleSRC, DepartmentID: strPtr(deptWelfare), Active: true},
			domain.Profile{ID: "src-old", FullName: "Old Member", Role: domain.RoleSRC, DepartmentID: strPtr(deptICT), Active: false},
			domain.Profile{ID: "adm-1", FullName: "Admin", Role: domain.RoleAdmin, Active: true},
		),
		history:  repository.NewMemoryTicketHistoryRepository(),
		recorder: &eventRecorder{},
		clock:    &fakeClock{now: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
	f.student = domain.Actor{ID: "stu-1", Role: domain.RoleStudent}
	f.otherPupil = domain.Actor{ID: "stu-2", Role: domain.RoleStudent}
	f.ictWorker = domain.Actor{ID: "src-ict-1", Role: domain.RoleSRC, DepartmentID: strPtr(deptICT)}
	f.ictWorker2 = domain.Actor{ID: "src-ict-2", Role: domain.RoleSRC, DepartmentID: strPtr(deptICT)}
	f.welfare = domain.Actor{ID: "src-wel-1", Role: domain.RoleSRC, DepartmentID: strPtr(deptWelfare)}
	f.admin = domain.Actor{ID: "adm-1", Role: domain.RoleAdmin}

	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(f.recorder.handle)

	f.directory = NewDirectoryService(DirectoryDependencies{Departments: f.departments})
	f.ticketSvc = NewTicketService(TicketDependencies{
		TicketRepo:  f.tickets,
		HistoryRepo: f.history,
		Targeting:   NewTargetingResolver(f.directory),
		Dispatcher:  dispatcher,
		Clock:       f.clock.Now,
	})
	f.claimSvc = NewClaimService(ClaimDependencies{
		TicketRepo:  f.tickets,
		HistoryRepo: f.history,
		Dispatcher:  dispatcher,
		Clock:       f.clock.Now,
	})
	f.assignSvc = NewAssignmentService(AssignmentDependencies{
		TicketRepo:  f.tickets,
		HistoryRepo: f.history,
		ProfileRepo: f.profiles,
		Dispatcher:  dispatcher,
		Clock:       f.clock.Now,
	})
	return f
}

// submit files a complaint from the default student to the given departments.
func (f *fixture) submit(t *testing.T, departments ...string) *domain.Ticket {
	t.Helper()
	ticket, err := f.ticketSvc.CreateTicket(context.Background(), f.student, TicketCreateInput{
		Title:       "Wi-Fi down in hostel B",
		Description: "No connectivity since Monday evening.",
		Category:    domain.TicketCategoryFacilities,
		Departments: departments,
	})
	require.NoError(t, err)
	return ticket
}
