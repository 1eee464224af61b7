package service

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/dwusrc/dwu-src-web-application-sub001/pkg/util/errorutil"
)

// TargetAll selects every active department.
const TargetAll = "all"

// TargetingResolver turns a student's department selection into the
// concrete, deduplicated set of active department ids.
type TargetingResolver struct {
	directory *DirectoryService
}

// NewTargetingResolver builds a resolver over the directory.
func NewTargetingResolver(directory *DirectoryService) *TargetingResolver {
	return &TargetingResolver{directory: directory}
}

// Resolve expands "all", resolves ids or names and drops inactive
// departments. Unknown references and empty results are validation errors.
func (r *TargetingResolver) Resolve(ctx context.Context, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, apperrors.NewValidationError("select at least one department", nil)
	}
	selected := make(map[string]struct{})
	for _, raw := range refs {
		ref := strings.TrimSpace(raw)
		if ref == "" {
			continue
		}
		if strings.EqualFold(ref, TargetAll) {
			ids, err := r.directory.ActiveIDs(ctx)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				selected[id] = struct{}{}
			}
			continue
		}
		dept, err := r.directory.Resolve(ctx, ref)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeNotFound {
				return nil, apperrors.NewValidationError("unknown department", map[string]any{"department": ref})
			}
			return nil, err
		}
		if !dept.IsActive {
			continue
		}
		selected[dept.ID] = struct{}{}
	}
	if len(selected) == 0 {
		return nil, apperrors.NewValidationError("no active department selected", nil)
	}
	ids := make([]string, 0, len(selected))
	for id := range selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
