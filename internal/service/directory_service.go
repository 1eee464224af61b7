package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

// ActiveDepartmentsCacheKey holds the JSON encoded active department list.
const ActiveDepartmentsCacheKey = "departments:active"

// DepartmentCache is the subset of the redis client used for caching.
type DepartmentCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// DirectoryDependencies wires the department directory.
type DirectoryDependencies struct {
	Departments repository.DepartmentRepository
	Cache       DepartmentCache
	CacheTTL    time.Duration
	Logger      *zap.Logger
}

// DirectoryService answers department lookups for routing.
type DirectoryService struct {
	repo     repository.DepartmentRepository
	cache    DepartmentCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewDirectoryService constructs the directory.
func NewDirectoryService(deps DirectoryDependencies) *DirectoryService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{
		repo:     deps.Departments,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		logger:   logger,
	}
}

// List returns departments ordered by name.
func (s *DirectoryService) List(ctx context.Context, includeInactive bool) ([]domain.Department, error) {
	if !includeInactive {
		return s.Active(ctx)
	}
	departments, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return departments, nil
}

// Resolve finds a department by id, falling back to a case-insensitive
// name match.
func (s *DirectoryService) Resolve(ctx context.Context, ref string) (*domain.Department, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.NewValidationError("department reference is empty", nil)
	}
	dept, err := s.repo.GetByID(ctx, ref)
	if err == nil {
		return dept, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}
	dept, err = s.repo.GetByName(ctx, ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("department", map[string]any{"department": ref})
		}
		return nil, apperrors.MapError(err)
	}
	return dept, nil
}

// Active returns the active departments for listings, served from cache
// when possible. Routing decisions use ActiveIDs, which never reads the cache.
func (s *DirectoryService) Active(ctx context.Context) ([]domain.Department, error) {
	if cached, ok := s.readCache(ctx); ok {
		return cached, nil
	}
	departments, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.writeCache(ctx, departments)
	return departments, nil
}

// ActiveIDs returns the ids of the departments active right now.
func (s *DirectoryService) ActiveIDs(ctx context.Context) ([]string, error) {
	departments, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ids := make([]string, 0, len(departments))
	for _, dept := range departments {
		ids = append(ids, dept.ID)
	}
	return ids, nil
}

func (s *DirectoryService) readCache(ctx context.Context) ([]domain.Department, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, ActiveDepartmentsCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("department cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var departments []domain.Department
	if err := json.Unmarshal(raw, &departments); err != nil {
		s.logger.Warn("department cache entry unreadable", zap.Error(err))
		return nil, false
	}
	return departments, true
}

func (s *DirectoryService) writeCache(ctx context.Context, departments []domain.Department) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(departments)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, ActiveDepartmentsCacheKey, payload, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("department cache write failed", zap.Error(err))
	}
}
