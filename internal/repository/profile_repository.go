package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// ProfileRepository reads member profiles owned by the identity provider.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	List(ctx context.Context, filter ProfileFilter) ([]domain.Profile, error)
}

// ProfileFilter defines query params for profile listing.
type ProfileFilter struct {
	Role          *domain.Role
	DepartmentIDs []string
	Active        *bool
	Limit         int
	Offset        int
}

type profileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository instantiates the repository.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{pool: pool}
}

func (r *profileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	const query = `
        SELECT id, full_name, email, role, department_id, is_active
        FROM profiles WHERE id=$1`
	return scanProfile(r.pool.QueryRow(ctx, query, id))
}

func (r *profileRepository) List(ctx context.Context, filter ProfileFilter) ([]domain.Profile, error) {
	query := `
        SELECT id, full_name, email, role, department_id, is_active
        FROM profiles`
	args := []any{}
	clauses := []string{}

	if filter.Role != nil {
		args = append(args, string(*filter.Role))
		clauses = append(clauses, fmt.Sprintf("role=$%d", len(args)))
	}
	if len(filter.DepartmentIDs) > 0 {
		args = append(args, filter.DepartmentIDs)
		clauses = append(clauses, fmt.Sprintf("department_id = ANY($%d)", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("is_active=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset, 50)
	query += fmt.Sprintf(" ORDER BY full_name LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *profile)
	}
	return result, rows.Err()
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var profile domain.Profile
	if err := row.Scan(
		&profile.ID,
		&profile.FullName,
		&profile.Email,
		&profile.Role,
		&profile.DepartmentID,
		&profile.Active,
	); err != nil {
		return nil, err
	}
	return &profile, nil
}
