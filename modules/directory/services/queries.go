package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orgstack/directory/modules/directory/domain/department"
)

func (s *DirectoryService) GetDepartmentByID(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	if id == uuid.Nil {
		return nil, invalidBody("id is required", nil)
	}
	dept, err := s.departments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("department not found", err)
		}
		return nil, mapPgErrorToServiceError(err)
	}
	return dept, nil
}

// GetSubtree returns the active subtree rooted at the given department,
// root included, ordered by path. Results are served from the in-memory
// cache until a mutation touches any contained department.
func (s *DirectoryService) GetSubtree(ctx context.Context, rootID uuid.UUID) ([]*department.Department, error) {
	if rootID == uuid.Nil {
		return nil, invalidBody("id is required", nil)
	}

	if nodes, ok := s.cache.Get(rootID); ok {
		recordCacheRequest(true)
		return nodes, nil
	}
	recordCacheRequest(false)

	root, err := s.GetDepartmentByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if !root.IsActive {
		return nil, notFound("department is deleted", nil)
	}

	nodes, err := s.departments.ListSubtree(ctx, root.Path)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	s.cache.Set(rootID, nodes)
	return nodes, nil
}

// GetAncestors returns the active ancestors of a department ordered from
// root to immediate parent. Soft-deleted ancestors are absent: their stored
// path no longer matches the descendant's prefix.
func (s *DirectoryService) GetAncestors(ctx context.Context, id uuid.UUID) ([]*department.Department, error) {
	dept, err := s.GetDepartmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ancestors, err := s.departments.ListAncestorsOf(ctx, dept.Path)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return ancestors, nil
}

func (s *DirectoryService) GetRoots(ctx context.Context) ([]*department.Department, error) {
	roots, err := s.departments.ListRoots(ctx)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return roots, nil
}

const (
	defaultPageSize     = 20
	maxPageSize         = 100
	topDepartmentsLimit = 5
)

type ChildrenPageInput struct {
	ParentID uuid.UUID
	Page     int
	PageSize int
}

// GetChildrenPage returns one page of a department's direct active children,
// oldest first, each flagged with whether it has children of its own. Callers
// expand the tree level by level instead of fetching whole subtrees.
func (s *DirectoryService) GetChildrenPage(ctx context.Context, in ChildrenPageInput) ([]department.ChildNode, error) {
	if in.ParentID == uuid.Nil {
		return nil, invalidBody("parent_id is required", nil)
	}
	if in.Page == 0 {
		in.Page = 1
	}
	if in.PageSize == 0 {
		in.PageSize = defaultPageSize
	}
	if in.Page < 1 || in.PageSize < 1 || in.PageSize > maxPageSize {
		return nil, invalidBody("page must be positive and page size between 1 and 100", nil)
	}

	if _, err := s.GetDepartmentByID(ctx, in.ParentID); err != nil {
		return nil, err
	}
	children, err := s.departments.ListChildren(ctx, in.ParentID, in.PageSize, (in.Page-1)*in.PageSize)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return children, nil
}

// GetDepartmentsTopByPositions returns the five departments with the most
// linked positions, busiest first.
func (s *DirectoryService) GetDepartmentsTopByPositions(ctx context.Context) ([]department.PositionCount, error) {
	top, err := s.departments.ListTopByPositions(ctx, topDepartmentsLimit)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return top, nil
}

func (s *DirectoryService) GetDepartmentsByLocation(ctx context.Context, locationID uuid.UUID) ([]*department.Department, error) {
	if locationID == uuid.Nil {
		return nil, invalidBody("location_id is required", nil)
	}
	if _, err := s.locations.GetByID(ctx, locationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("location not found", err)
		}
		return nil, mapPgErrorToServiceError(err)
	}
	depts, err := s.departments.ListByLocation(ctx, locationID)
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return depts, nil
}
