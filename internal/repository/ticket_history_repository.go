package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// HistoryFilter selects audit entries of one complaint. An empty
// ChangeTypes returns the full trail.
type HistoryFilter struct {
	TicketID    string
	ChangeTypes []domain.TicketChangeType
}

// Matches reports whether entry passes the filter.
func (f HistoryFilter) Matches(entry domain.TicketHistory) bool {
	if entry.TicketID != f.TicketID {
		return false
	}
	if len(f.ChangeTypes) == 0 {
		return true
	}
	for _, ct := range f.ChangeTypes {
		if entry.ChangeType == ct {
			return true
		}
	}
	return false
}

// TicketHistoryRepository is the append-only audit log. Entries come back
// oldest first.
type TicketHistoryRepository interface {
	Append(ctx context.Context, entry *domain.TicketHistory) error
	List(ctx context.Context, filter HistoryFilter) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds the Postgres audit log.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

// Append stores entry, stamping it with entry.CreatedAt when set.
func (r *ticketHistoryRepository) Append(ctx context.Context, entry *domain.TicketHistory) error {
	const query = `
        INSERT INTO complaint_history (complaint_id, changed_by, changed_role, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
        RETURNING id, created_at`
	var at *time.Time
	if !entry.CreatedAt.IsZero() {
		at = &entry.CreatedAt
	}
	return r.pool.QueryRow(ctx, query,
		entry.TicketID, entry.ChangedBy, entry.ChangedRole, entry.ChangeType,
		entry.OldValue, entry.NewValue, at,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *ticketHistoryRepository) List(ctx context.Context, filter HistoryFilter) ([]domain.TicketHistory, error) {
	args := []any{filter.TicketID}
	where := "complaint_id=$1"
	if len(filter.ChangeTypes) > 0 {
		types := make([]string, len(filter.ChangeTypes))
		for i, ct := range filter.ChangeTypes {
			types[i] = string(ct)
		}
		args = append(args, types)
		where += fmt.Sprintf(" AND change_type = ANY($%d)", len(args))
	}
	query := strings.Join([]string{
		"SELECT id, complaint_id, changed_by, changed_role, change_type, old_value, new_value, created_at",
		"FROM complaint_history WHERE " + where,
		"ORDER BY created_at, id",
	}, " ")

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TicketHistory, error) {
		var entry domain.TicketHistory
		err := row.Scan(&entry.ID, &entry.TicketID, &entry.ChangedBy, &entry.ChangedRole,
			&entry.ChangeType, &entry.OldValue, &entry.NewValue, &entry.CreatedAt)
		return entry, err
	})
}
