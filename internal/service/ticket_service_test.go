package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

func TestCreateTicketDefaults(t *testing.T) {
	f := newFixture(t)
	ticket := f.submit(t, "ICT", "welfare")

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, f.student.ID, ticket.StudentID)
	assert.Equal(t, domain.TicketStatusPending, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	assert.Equal(t, []string{deptICT, deptWelfare}, ticket.DepartmentsSelected)
	assert.False(t, ticket.IsClaimed)
	assert.Nil(t, ticket.AssignedTo)
	assert.Nil(t, ticket.ResolvedAt)
	assert.Equal(t, []events.ChangeKind{events.ChangeTicketCreated}, f.recorder.kinds())
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := TicketCreateInput{
		Title:       "Broken projector",
		Description: "Room 4 projector flickers.",
		Category:    domain.TicketCategoryAcademic,
		Departments: []string{deptICT},
	}

	tests := []struct {
		name   string
		actor  domain.Actor
		mutate func(*TicketCreateInput)
		code   string
	}{
		{name: "caseworker cannot submit", actor: f.ictWorker, mutate: func(*TicketCreateInput) {}, code: apperrors.CodeForbidden},
		{name: "blank title", actor: f.student, mutate: func(in *TicketCreateInput) { in.Title = "   " }, code: apperrors.CodeValidation},
		{name: "blank description", actor: f.student, mutate: func(in *TicketCreateInput) { in.Description = "" }, code: apperrors.CodeValidation},
		{name: "unknown category", actor: f.student, mutate: func(in *TicketCreateInput) { in.Category = "food" }, code: apperrors.CodeValidation},
		{name: "unknown priority", actor: f.student, mutate: func(in *TicketCreateInput) { in.Priority = "critical" }, code: apperrors.CodeValidation},
		{name: "no departments", actor: f.student, mutate: func(in *TicketCreateInput) { in.Departments = nil }, code: apperrors.CodeValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := valid
			tc.mutate(&input)
			_, err := f.ticketSvc.CreateTicket(ctx, tc.actor, input)
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
		})
	}

	all, err := f.tickets.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTicketVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT)

	for _, actor := range []domain.Actor{f.student, f.ictWorker, f.admin} {
		_, err := f.ticketSvc.GetTicket(ctx, actor, ticket.ID)
		assert.NoError(t, err, actor.ID)
	}
	for _, actor := range []domain.Actor{f.otherPupil, f.welfare} {
		_, err := f.ticketSvc.GetTicket(ctx, actor, ticket.ID)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err), actor.ID)
	}
	_, err := f.ticketSvc.GetTicket(ctx, f.admin, "missing")
	assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestListTicketsScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ictOnly := f.submit(t, deptICT)
	welfareOnly := f.submit(t, deptWelfare)
	_, err := f.ticketSvc.CreateTicket(ctx, f.otherPupil, TicketCreateInput{
		Title: "Bus late", Description: "Shuttle skipped stop.", Category: domain.TicketCategoryTransport,
		Departments: []string{deptWelfare},
	})
	require.NoError(t, err)

	mine, err := f.ticketSvc.ListTickets(ctx, f.student, TicketListInput{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	queue, err := f.ticketSvc.ListTickets(ctx, f.ictWorker, TicketListInput{})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, ictOnly.ID, queue[0].ID)

	everything, err := f.ticketSvc.ListTickets(ctx, f.admin, TicketListInput{})
	require.NoError(t, err)
	assert.Len(t, everything, 3)

	filtered, err := f.ticketSvc.ListTickets(ctx, f.admin, TicketListInput{DepartmentID: strPtr(deptWelfare)})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	_, err = f.assignSvc.Assign(ctx, f.admin, welfareOnly.ID, "src-wel-1")
	require.NoError(t, err)
	assigned, err := f.ticketSvc.ListTickets(ctx, f.welfare, TicketListInput{Mine: true})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, welfareOnly.ID, assigned[0].ID)
}

func TestSetStatusAuthorityAndTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT, deptWelfare)

	_, err := f.ticketSvc.SetStatus(ctx, f.ictWorker, ticket.ID, domain.TicketStatusInProgress)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err), "unclaimed ticket has no managing department")

	_, err = f.claimSvc.Claim(ctx, f.ictWorker, ticket.ID)
	require.NoError(t, err)

	_, err = f.ticketSvc.SetStatus(ctx, f.welfare, ticket.ID, domain.TicketStatusInProgress)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	_, err = f.ticketSvc.SetStatus(ctx, f.ictWorker2, ticket.ID, domain.TicketStatusResolved)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err), "pending cannot jump to resolved")

	progressed, err := f.ticketSvc.SetStatus(ctx, f.ictWorker2, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err, "any caseworker of the claiming department manages it")
	assert.Equal(t, domain.TicketStatusInProgress, progressed.Status)

	_, err = f.ticketSvc.SetStatus(ctx, f.ictWorker, ticket.ID, "done")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.assignSvc.Assign(ctx, f.admin, ticket.ID, "src-ict-1")
	require.NoError(t, err)
	_, err = f.ticketSvc.SetStatus(ctx, f.ictWorker2, ticket.ID, domain.TicketStatusResolved)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err), "individual assignee takes over")
}

func TestResolvedAtFollowsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT)
	_, err := f.assignSvc.Assign(ctx, f.admin, ticket.ID, "src-ict-1")
	require.NoError(t, err)

	first, err := f.ticketSvc.SetStatus(ctx, f.ictWorker, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)
	assert.Equal(t, f.clock.Now(), *first.ResolvedAt)

	f.clock.Advance(30 * time.Minute)
	second, err := f.ticketSvc.SetStatus(ctx, f.ictWorker, ticket.ID, domain.TicketStatusResolved)
	require.NoError(t, err)
	require.NotNil(t, second.ResolvedAt)
	assert.Equal(t, f.clock.Now(), *second.ResolvedAt, "re-resolving refreshes the timestamp")

	reopened, err := f.ticketSvc.SetStatus(ctx, f.ictWorker, ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)

	rejected, err := f.ticketSvc.SetStatus(ctx, f.admin, ticket.ID, domain.TicketStatusRejected)
	require.NoError(t, err)
	assert.Nil(t, rejected.ResolvedAt)
	_, err = f.ticketSvc.SetStatus(ctx, f.admin, ticket.ID, domain.TicketStatusInProgress)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err), "rejected is terminal")
}

func TestPriorityAndResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT)

	_, err := f.ticketSvc.SetPriority(ctx, f.student, ticket.ID, domain.TicketPriorityUrgent)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	_, err = f.claimSvc.Claim(ctx, f.ictWorker, ticket.ID)
	require.NoError(t, err)

	updated, err := f.ticketSvc.SetPriority(ctx, f.ictWorker, ticket.ID, domain.TicketPriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityUrgent, updated.Priority)

	_, err = f.ticketSvc.SetPriority(ctx, f.ictWorker, ticket.ID, "whenever")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = f.ticketSvc.SetResponse(ctx, f.ictWorker, ticket.ID, "   ")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	answered, err := f.ticketSvc.SetResponse(ctx, f.ictWorker, ticket.ID, " Router replaced. ")
	require.NoError(t, err)
	require.NotNil(t, answered.Response)
	assert.Equal(t, "Router replaced.", *answered.Response)

	history, err := f.ticketSvc.History(ctx, f.student, ticket.ID)
	require.NoError(t, err)
	var types []domain.TicketChangeType
	for _, e := range history {
		types = append(types, e.ChangeType)
	}
	assert.Equal(t, []domain.TicketChangeType{
		domain.ChangeTypeCreated,
		domain.ChangeTypeClaim,
		domain.ChangeTypePriority,
		domain.ChangeTypeResponse,
	}, types)

	narrowed, err := f.ticketSvc.History(ctx, f.student, ticket.ID, domain.ChangeTypeClaim, domain.ChangeTypeResponse)
	require.NoError(t, err)
	require.Len(t, narrowed, 2)
	assert.Equal(t, domain.ChangeTypeClaim, narrowed[0].ChangeType)
	assert.Equal(t, domain.ChangeTypeResponse, narrowed[1].ChangeType)
	assert.Equal(t, f.clock.Now(), narrowed[1].CreatedAt)

	_, err = f.ticketSvc.History(ctx, f.otherPupil, ticket.ID)
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
}

func TestUpdateDetailsOnlyBeforeTriage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT)
	title := "Wi-Fi down in hostel B and C"

	_, err := f.ticketSvc.UpdateDetails(ctx, f.otherPupil, ticket.ID, TicketDetailsInput{Title: &title})
	assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))

	edited, err := f.ticketSvc.UpdateDetails(ctx, f.student, ticket.ID, TicketDetailsInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, edited.Title)
	assert.Equal(t, ticket.Description, edited.Description)

	_, err = f.claimSvc.Claim(ctx, f.ictWorker, ticket.ID)
	require.NoError(t, err)
	_, err = f.ticketSvc.UpdateDetails(ctx, f.student, ticket.ID, TicketDetailsInput{Title: &title})
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

// racingRepo loses the version race a fixed number of times.
type racingRepo struct {
	repository.TicketRepository
	losses int
	saves  int
}

func (r *racingRepo) Save(ctx context.Context, ticket *domain.Ticket, at time.Time) error {
	r.saves++
	if r.losses > 0 {
		r.losses--
		return repository.ErrVersionConflict
	}
	return r.TicketRepository.Save(ctx, ticket, at)
}

func TestMutationRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.submit(t, deptICT)

	racing := &racingRepo{TicketRepository: f.tickets, losses: 2}
	svc := NewTicketService(TicketDependencies{TicketRepo: racing, Clock: f.clock.Now})
	updated, err := svc.SetPriority(ctx, f.admin, ticket.ID, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)
	assert.Equal(t, 3, racing.saves)

	racing = &racingRepo{TicketRepository: f.tickets, losses: maxMutationAttempts}
	svc = NewTicketService(TicketDependencies{TicketRepo: racing, Clock: f.clock.Now})
	_, err = svc.SetPriority(ctx, f.admin, ticket.ID, domain.TicketPriorityLow)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	assert.Equal(t, maxMutationAttempts, racing.saves)

	stored, err := f.tickets.GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, stored.Priority)
}

func TestAuthorityRules(t *testing.T) {
	f := newFixture(t)
	claimedByICT := &domain.Ticket{
		StudentID:           f.student.ID,
		DepartmentsSelected: []string{deptICT, deptWelfare},
		IsClaimed:           true,
		ClaimedBy:           strPtr(f.ictWorker.ID),
		AssignedDepartment:  strPtr(deptICT),
	}
	assert.True(t, canManage(f.admin, claimedByICT))
	assert.True(t, canManage(f.ictWorker2, claimedByICT))
	assert.False(t, canManage(f.welfare, claimedByICT))
	assert.False(t, canManage(f.student, claimedByICT))

	claimedByICT.AssignedTo = strPtr(f.welfare.ID)
	assert.True(t, canManage(f.welfare, claimedByICT))
	assert.False(t, canManage(f.ictWorker, claimedByICT))
	assert.True(t, canView(f.welfare, claimedByICT))
}

func TestListNewestFirstUsesServiceClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.clock.Now()

	older := f.submit(t, deptICT)
	assert.Equal(t, start, older.CreatedAt)

	f.clock.Advance(time.Minute)
	newer := f.submit(t, deptICT)

	f.clock.Advance(time.Minute)
	updated, err := f.ticketSvc.SetPriority(ctx, f.admin, older.ID, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), updated.UpdatedAt)
	assert.Equal(t, start, updated.CreatedAt)

	listed, err := f.ticketSvc.ListTickets(ctx, f.admin, TicketListInput{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.ID, listed[0].ID, "creation order, not last update")
	assert.Equal(t, older.ID, listed[1].ID)
}
