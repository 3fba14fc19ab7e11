package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/modules/directory/domain/department"
	"github.com/orgstack/directory/modules/directory/domain/events"
	"github.com/orgstack/directory/modules/directory/domain/location"
	"github.com/orgstack/directory/modules/directory/domain/position"
	"github.com/orgstack/directory/modules/directory/domain/treepath"
	"github.com/orgstack/directory/pkg/composables"
	"github.com/orgstack/directory/pkg/eventbus"
)

type DepartmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*department.Department, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*department.Department, error)
	LockDescendants(ctx context.Context, prefix treepath.Path) error
	Insert(ctx context.Context, dept *department.Department) error
	Update(ctx context.Context, dept *department.Department) error
	RewriteDescendantPaths(ctx context.Context, oldPrefix, newPrefix treepath.Path, excludeID uuid.UUID, depthDelta int16) ([]uuid.UUID, error)

	ListSubtree(ctx context.Context, prefix treepath.Path) ([]*department.Department, error)
	ListAncestorsOf(ctx context.Context, path treepath.Path) ([]*department.Department, error)
	ListRoots(ctx context.Context) ([]*department.Department, error)
	ListByLocation(ctx context.Context, locationID uuid.UUID) ([]*department.Department, error)
	ListChildren(ctx context.Context, parentID uuid.UUID, limit, offset int) ([]department.ChildNode, error)
	ListTopByPositions(ctx context.Context, limit int) ([]department.PositionCount, error)

	InsertLocationLinks(ctx context.Context, links []department.LocationLink) error
	DeleteLocationLinks(ctx context.Context, departmentID uuid.UUID) error
	InsertPositionLinks(ctx context.Context, links []department.PositionLink) error

	SelectSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*department.Department, error)
	// SpliceOutDeleted removes the department's path segment from every
	// descendant and reparents its direct children onto its own parent,
	// so the row can be hard-deleted afterwards. Returns the ids of the
	// rewritten descendants.
	SpliceOutDeleted(ctx context.Context, dept *department.Department) ([]uuid.UUID, error)
	DeleteLinksForDepartments(ctx context.Context, ids []uuid.UUID) error
	DeleteHard(ctx context.Context, ids []uuid.UUID) error
}

type LocationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*location.Location, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*location.Location, error)
	Insert(ctx context.Context, loc *location.Location) error
	Search(ctx context.Context, f location.Filter) ([]*location.Location, error)
	// FindSoleLinkedTo returns ids of active locations whose only active
	// department link is the given department, locked FOR UPDATE.
	FindSoleLinkedTo(ctx context.Context, departmentID uuid.UUID) ([]uuid.UUID, error)
	SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) error
	DeleteHardUnlinkedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PositionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*position.Position, error)
	Insert(ctx context.Context, pos *position.Position) error
	FindSoleLinkedTo(ctx context.Context, departmentID uuid.UUID) ([]uuid.UUID, error)
	SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) error
	DeleteHardUnlinkedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DirectoryService struct {
	departments DepartmentRepository
	locations   LocationRepository
	positions   PositionRepository
	bus         eventbus.EventBus
	cache       *subtreeCache
	validate    *validator.Validate
	log         *logrus.Logger
}

func NewDirectoryService(
	departments DepartmentRepository,
	locations LocationRepository,
	positions PositionRepository,
	bus eventbus.EventBus,
	log *logrus.Logger,
) *DirectoryService {
	s := &DirectoryService{
		departments: departments,
		locations:   locations,
		positions:   positions,
		bus:         bus,
		cache:       newSubtreeCache(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log,
	}
	if bus != nil {
		// Compaction runs outside this service; evict its victims too.
		bus.Subscribe(func(ev events.DirectoryEventV1) {
			if ev.ChangeType == events.ChangeDepartmentCompacted {
				s.cache.Invalidate(ev.ChangeType, ev.AffectedIDs...)
			}
		})
	}
	return s
}

func (s *DirectoryService) publish(changeType string, entityID uuid.UUID, affected ...uuid.UUID) {
	s.cache.Invalidate(changeType, append(affected, entityID)...)
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewDirectoryEventV1(changeType, entityID, affected...))
}

type CreateDepartmentInput struct {
	Name        string      `validate:"required"`
	Identifier  string      `validate:"required"`
	ParentID    *uuid.UUID  `validate:"omitempty"`
	LocationIDs []uuid.UUID `validate:"required,min=1,unique"`
}

func (s *DirectoryService) CreateDepartment(ctx context.Context, in CreateDepartmentInput) (*department.Department, error) {
	if err := s.validate.Struct(in); err != nil {
		if len(in.LocationIDs) == 0 {
			return nil, newServiceError(http.StatusBadRequest, CodeLocationRequired, "at least one location is required", err)
		}
		return nil, invalidBody("invalid department payload", err)
	}

	name, err := department.NewName(in.Name)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}
	identifier, err := department.NewIdentifier(in.Identifier)
	if err != nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidPath, err.Error(), err)
	}

	created, err := composables.InTxResult(ctx, func(txCtx context.Context) (*department.Department, error) {
		if err := s.requireActiveLocations(txCtx, in.LocationIDs); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		var dept *department.Department
		if in.ParentID == nil {
			root, err := department.NewRoot(name, identifier, now)
			if err != nil {
				return nil, newServiceError(http.StatusBadRequest, CodeInvalidPath, err.Error(), err)
			}
			dept = root
		} else {
			// Lock the parent so a concurrent reparent cannot invalidate
			// the computed child path between read and insert.
			parent, err := s.departments.GetByIDForUpdate(txCtx, *in.ParentID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "parent department not found", err)
				}
				return nil, mapPgErrorToServiceError(err)
			}
			if !parent.IsActive {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "parent department is deleted", nil)
			}
			child, err := department.NewChild(name, identifier, parent, now)
			if err != nil {
				return nil, newServiceError(http.StatusBadRequest, CodeInvalidPath, err.Error(), err)
			}
			dept = child
		}

		links := make([]department.LocationLink, 0, len(in.LocationIDs))
		for _, locationID := range in.LocationIDs {
			links = append(links, department.NewLocationLink(dept.ID, locationID))
		}
		dept.Locations = links

		if err := s.departments.Insert(txCtx, dept); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		if err := s.departments.InsertLocationLinks(txCtx, links); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		return dept, nil
	})
	if err != nil {
		return nil, err
	}

	affected := make([]uuid.UUID, 0, 1)
	if created.ParentID != nil {
		affected = append(affected, *created.ParentID)
	}
	s.publish(events.ChangeDepartmentCreated, created.ID, affected...)
	s.log.WithFields(logrus.Fields{
		"department_id": created.ID,
		"path":          created.Path.String(),
	}).Info("department created")
	return created, nil
}

func (s *DirectoryService) requireActiveLocations(ctx context.Context, ids []uuid.UUID) error {
	locs, err := s.locations.GetByIDs(ctx, ids)
	if err != nil {
		return mapPgErrorToServiceError(err)
	}
	found := make(map[uuid.UUID]bool, len(locs))
	for _, loc := range locs {
		found[loc.ID] = loc.IsActive
	}
	for _, id := range ids {
		if !found[id] {
			return notFound("location not found: "+id.String(), nil)
		}
	}
	return nil
}

type MoveDepartmentInput struct {
	NodeID      uuid.UUID `validate:"required"`
	NewParentID uuid.UUID `validate:"required"`
}

type MoveDepartmentResult struct {
	Node        *department.Department
	OldPath     treepath.Path
	OldParentID *uuid.UUID
	AffectedIDs []uuid.UUID
}

func (s *DirectoryService) MoveDepartment(ctx context.Context, in MoveDepartmentInput) (*MoveDepartmentResult, error) {
	if in.NodeID == uuid.Nil || in.NewParentID == uuid.Nil {
		return nil, invalidBody("node_id and new_parent_id are required", nil)
	}
	if in.NodeID == in.NewParentID {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeSelfParent, "department cannot be its own parent", nil)
	}

	moved, err := composables.InTxResult(ctx, func(txCtx context.Context) (*MoveDepartmentResult, error) {
		node, parent, err := s.lockPair(txCtx, in.NodeID, in.NewParentID)
		if err != nil {
			return nil, err
		}
		if !node.IsActive {
			return nil, conflict(CodeAlreadyDeleted, "department is deleted", nil)
		}
		if !parent.IsActive {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "new parent is deleted", nil)
		}

		// Lock both subtrees before looking at any path. A concurrent move
		// may have changed either side between our row locks and here, and
		// the cycle check below must run against settled paths.
		if err := s.departments.LockDescendants(txCtx, parent.Path); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		if err := s.departments.LockDescendants(txCtx, node.Path); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}

		if parent.Path.IsDescendantOf(node.Path) {
			return nil, conflict(CodeCycleDetected, "cannot move a department under its own descendant", nil)
		}

		oldPath := node.Path
		oldDepth := node.Depth
		oldParentID := node.ParentID
		newPath, err := parent.Path.Child(node.Identifier.String())
		if err != nil {
			return nil, newServiceError(http.StatusBadRequest, CodeInvalidPath, err.Error(), err)
		}

		parentID := parent.ID
		node.Path = newPath
		node.ParentID = &parentID
		node.Depth = parent.Depth + 1
		node.UpdatedAt = time.Now().UTC()
		if err := s.departments.Update(txCtx, node); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}

		// Descendants keep their relative position: the old prefix is
		// swapped for the new one and depth shifts by the same delta as
		// the moved node.
		depthDelta := oldDepth - node.Depth
		affected, err := s.departments.RewriteDescendantPaths(txCtx, oldPath, newPath, node.ID, depthDelta)
		if err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		return &MoveDepartmentResult{Node: node, OldPath: oldPath, OldParentID: oldParentID, AffectedIDs: affected}, nil
	})
	if err != nil {
		return nil, err
	}

	affected := append([]uuid.UUID{in.NewParentID}, moved.AffectedIDs...)
	if moved.OldParentID != nil {
		affected = append(affected, *moved.OldParentID)
	}
	s.publish(events.ChangeDepartmentMoved, moved.Node.ID, affected...)
	s.log.WithFields(logrus.Fields{
		"department_id": moved.Node.ID,
		"old_path":      moved.OldPath.String(),
		"new_path":      moved.Node.Path.String(),
		"descendants":   len(moved.AffectedIDs),
	}).Info("department moved")
	return moved, nil
}

// lockPair locks two department rows in ascending id order so concurrent
// moves touching the same pair cannot deadlock.
func (s *DirectoryService) lockPair(ctx context.Context, nodeID, parentID uuid.UUID) (*department.Department, *department.Department, error) {
	first, second := nodeID, parentID
	if second.String() < first.String() {
		first, second = second, first
	}

	locked := make(map[uuid.UUID]*department.Department, 2)
	for _, id := range []uuid.UUID{first, second} {
		dept, err := s.departments.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if id == parentID {
					return nil, nil, newServiceError(http.StatusUnprocessableEntity, CodeParentNotFound, "new parent not found", err)
				}
				return nil, nil, notFound("department not found", err)
			}
			return nil, nil, mapPgErrorToServiceError(err)
		}
		locked[id] = dept
	}
	return locked[nodeID], locked[parentID], nil
}

type SoftDeleteResult struct {
	Node                *department.Department
	OrphanedLocationIDs []uuid.UUID
	OrphanedPositionIDs []uuid.UUID
}

// SoftDeleteDepartment deactivates one department and tombstones its own
// path segment. Descendants stay active and keep their paths; compaction
// removes the dead segment later. Linked locations and positions whose only
// remaining active department was this one are soft-deleted alongside.
func (s *DirectoryService) SoftDeleteDepartment(ctx context.Context, id uuid.UUID) (*SoftDeleteResult, error) {
	if id == uuid.Nil {
		return nil, invalidBody("id is required", nil)
	}

	result, err := composables.InTxResult(ctx, func(txCtx context.Context) (*SoftDeleteResult, error) {
		node, err := s.departments.GetByIDForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, notFound("department not found", err)
			}
			return nil, mapPgErrorToServiceError(err)
		}
		if !node.IsActive {
			return nil, conflict(CodeAlreadyDeleted, "department is already deleted", nil)
		}

		orphanLocations, err := s.locations.FindSoleLinkedTo(txCtx, node.ID)
		if err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		orphanPositions, err := s.positions.FindSoleLinkedTo(txCtx, node.ID)
		if err != nil {
			return nil, mapPgErrorToServiceError(err)
		}

		now := time.Now().UTC()
		node.SoftDelete(now)
		if err := s.departments.Update(txCtx, node); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		if err := s.locations.SoftDeleteByIDs(txCtx, orphanLocations, now); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		if err := s.positions.SoftDeleteByIDs(txCtx, orphanPositions, now); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}

		return &SoftDeleteResult{
			Node:                node,
			OrphanedLocationIDs: orphanLocations,
			OrphanedPositionIDs: orphanPositions,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.ChangeDepartmentDeleted, result.Node.ID)
	s.log.WithFields(logrus.Fields{
		"department_id":      result.Node.ID,
		"orphaned_locations": len(result.OrphanedLocationIDs),
		"orphaned_positions": len(result.OrphanedPositionIDs),
	}).Info("department soft-deleted")
	return result, nil
}

type UpdateLocationsInput struct {
	DepartmentID uuid.UUID   `validate:"required"`
	LocationIDs  []uuid.UUID `validate:"required,min=1,unique"`
}

// UpdateDepartmentLocations replaces the full set of location links of one
// department.
func (s *DirectoryService) UpdateDepartmentLocations(ctx context.Context, in UpdateLocationsInput) (*department.Department, error) {
	if err := s.validate.Struct(in); err != nil {
		if len(in.LocationIDs) == 0 {
			return nil, newServiceError(http.StatusBadRequest, CodeLocationRequired, "at least one location is required", err)
		}
		return nil, invalidBody("invalid locations payload", err)
	}

	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*department.Department, error) {
		node, err := s.departments.GetByIDForUpdate(txCtx, in.DepartmentID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, notFound("department not found", err)
			}
			return nil, mapPgErrorToServiceError(err)
		}
		if !node.IsActive {
			return nil, conflict(CodeAlreadyDeleted, "department is deleted", nil)
		}
		if err := s.requireActiveLocations(txCtx, in.LocationIDs); err != nil {
			return nil, err
		}

		if err := s.departments.DeleteLocationLinks(txCtx, node.ID); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		links := make([]department.LocationLink, 0, len(in.LocationIDs))
		for _, locationID := range in.LocationIDs {
			links = append(links, department.NewLocationLink(node.ID, locationID))
		}
		if err := s.departments.InsertLocationLinks(txCtx, links); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		node.Locations = links
		node.UpdatedAt = time.Now().UTC()
		if err := s.departments.Update(txCtx, node); err != nil {
			return nil, mapPgErrorToServiceError(err)
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.ChangeDepartmentRelinked, updated.ID)
	return updated, nil
}
