package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

var (
	// ErrConditionFailed is returned when a guarded update matched no row.
	ErrConditionFailed = errors.New("conditional update matched no rows")
	// ErrVersionConflict is returned by Save when the stored version moved on.
	ErrVersionConflict = errors.New("ticket modified concurrently")
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	StudentID    *string
	DepartmentID *string
	AssignedTo   *string
	ClaimedBy    *string
	Claimed      *bool
	Statuses     []domain.TicketStatus
	Priorities   []domain.TicketPriority
	Categories   []domain.TicketCategory
	Limit        int
	Offset       int
}

// TicketRepository encapsulates complaint persistence. Every mutating method
// is a single guarded write so concurrent callers serialize in storage.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// Claim succeeds only while the ticket is unclaimed and targets departmentID.
	Claim(ctx context.Context, id, caseworkerID, departmentID string, at time.Time) (*domain.Ticket, error)
	// Unclaim succeeds only while caseworkerID holds the claim.
	Unclaim(ctx context.Context, id, caseworkerID string, at time.Time) (*domain.Ticket, error)
	// Save persists mutable fields if ticket.Version still matches storage,
	// then bumps ticket.Version and stamps updated_at with at.
	Save(ctx context.Context, ticket *domain.Ticket, at time.Time) error
}

const ticketColumns = `id, student_id, title, description, category, priority, status, departments_selected,
        is_claimed, claimed_by, claimed_at, assigned_department, assigned_to, response, resolved_at,
        version, created_at, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO complaints (student_id, title, description, category, priority, status, departments_selected,
            created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()),COALESCE($8, NOW()))
        RETURNING id, version, created_at, updated_at`
	var createdAt *time.Time
	if !ticket.CreatedAt.IsZero() {
		createdAt = &ticket.CreatedAt
	}
	return r.pool.QueryRow(ctx, query,
		ticket.StudentID,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.DepartmentsSelected,
		createdAt,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM complaints WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) Claim(ctx context.Context, id, caseworkerID, departmentID string, at time.Time) (*domain.Ticket, error) {
	query := `
        UPDATE complaints
        SET is_claimed=TRUE, claimed_by=$2, claimed_at=$4, assigned_department=$3,
            version=version+1, updated_at=$4
        WHERE id=$1 AND is_claimed=FALSE AND $3 = ANY(departments_selected)
        RETURNING ` + ticketColumns
	return guarded(scanTicket(r.pool.QueryRow(ctx, query, id, caseworkerID, departmentID, at)))
}

func (r *ticketRepository) Unclaim(ctx context.Context, id, caseworkerID string, at time.Time) (*domain.Ticket, error) {
	query := `
        UPDATE complaints
        SET is_claimed=FALSE, claimed_by=NULL, claimed_at=NULL, assigned_department=NULL,
            version=version+1, updated_at=$3
        WHERE id=$1 AND is_claimed=TRUE AND claimed_by=$2
        RETURNING ` + ticketColumns
	return guarded(scanTicket(r.pool.QueryRow(ctx, query, id, caseworkerID, at)))
}

func (r *ticketRepository) Save(ctx context.Context, ticket *domain.Ticket, at time.Time) error {
	const query = `
        UPDATE complaints SET title=$1, description=$2, category=$3, priority=$4, status=$5,
            assigned_to=$6, response=$7, resolved_at=$8, version=version+1, updated_at=$11
        WHERE id=$9 AND version=$10
        RETURNING version, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Priority,
		ticket.Status,
		ticket.AssignedTo,
		ticket.Response,
		ticket.ResolvedAt,
		ticket.ID,
		ticket.Version,
		at,
	).Scan(&ticket.Version, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id=$%d", len(args)))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(departments_selected)", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if filter.ClaimedBy != nil {
		args = append(args, *filter.ClaimedBy)
		clauses = append(clauses, fmt.Sprintf("claimed_by=$%d", len(args)))
	}
	if filter.Claimed != nil {
		args = append(args, *filter.Claimed)
		clauses = append(clauses, fmt.Sprintf("is_claimed=$%d", len(args)))
	}
	clauses = appendIn(clauses, &args, "status", filter.Statuses)
	clauses = appendIn(clauses, &args, "priority", filter.Priorities)
	clauses = appendIn(clauses, &args, "category", filter.Categories)

	limit, offset := pageBounds(filter.Limit, filter.Offset, 20)
	query := fmt.Sprintf(`SELECT %s FROM complaints WHERE %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func appendIn[T ~string](clauses []string, args *[]any, column string, values []T) []string {
	if len(values) == 0 {
		return clauses
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, string(v))
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	return append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")))
}

func pageBounds(limit, offset, def int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.StudentID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Status,
		&ticket.DepartmentsSelected,
		&ticket.IsClaimed,
		&ticket.ClaimedBy,
		&ticket.ClaimedAt,
		&ticket.AssignedDepartment,
		&ticket.AssignedTo,
		&ticket.Response,
		&ticket.ResolvedAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func guarded(ticket *domain.Ticket, err error) (*domain.Ticket, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return ticket, err
}
