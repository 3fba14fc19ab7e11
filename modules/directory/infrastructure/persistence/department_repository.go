package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/orgstack/directory/modules/directory/domain/department"
	"github.com/orgstack/directory/modules/directory/domain/treepath"
	"github.com/orgstack/directory/pkg/composables"
)

const (
	departmentColumns          = `id, name, identifier, path::text, parent_id, depth, is_active, created_at, updated_at, deleted_at`
	qualifiedDepartmentColumns = `d.id, d.name, d.identifier, d.path::text, d.parent_id, d.depth, d.is_active, d.created_at, d.updated_at, d.deleted_at`
)

type DepartmentRepository struct{}

func NewDepartmentRepository() *DepartmentRepository {
	return &DepartmentRepository{}
}

func scanDepartment(row pgx.Row) (*department.Department, error) {
	var (
		id        uuid.UUID
		name      string
		ident     string
		rawPath   string
		parentID  *uuid.UUID
		depth     int16
		isActive  bool
		createdAt time.Time
		updatedAt time.Time
		deletedAt *time.Time
	)
	if err := row.Scan(&id, &name, &ident, &rawPath, &parentID, &depth, &isActive, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	return rehydrateDepartment(id, name, ident, rawPath, parentID, depth, isActive, createdAt, updatedAt, deletedAt)
}

func rehydrateDepartment(
	id uuid.UUID,
	name, ident, rawPath string,
	parentID *uuid.UUID,
	depth int16,
	isActive bool,
	createdAt, updatedAt time.Time,
	deletedAt *time.Time,
) (*department.Department, error) {
	deptName, err := department.NewName(name)
	if err != nil {
		return nil, err
	}
	identifier, err := department.NewIdentifier(ident)
	if err != nil {
		return nil, err
	}
	path, err := treepath.Parse(rawPath)
	if err != nil {
		return nil, err
	}

	return &department.Department{
		ID:         id,
		Name:       deptName,
		Identifier: identifier,
		Path:       path,
		ParentID:   parentID,
		Depth:      depth,
		IsActive:   isActive,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		DeletedAt:  deletedAt,
	}, nil
}

func collectDepartments(rows pgx.Rows) ([]*department.Department, error) {
	defer rows.Close()
	var out []*department.Department
	for rows.Next() {
		dept, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dept)
	}
	return out, rows.Err()
}

func (r *DepartmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	dept, err := scanDepartment(tx.QueryRow(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE id = $1
`, pgUUID(id)))
	if err != nil {
		return nil, err
	}
	if err := r.loadLinks(ctx, dept); err != nil {
		return nil, err
	}
	return dept, nil
}

func (r *DepartmentRepository) loadLinks(ctx context.Context, dept *department.Department) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	locRows, err := tx.Query(ctx, `
SELECT id, department_id, location_id
FROM department_locations
WHERE department_id = $1
ORDER BY id
`, pgUUID(dept.ID))
	if err != nil {
		return err
	}
	defer locRows.Close()
	for locRows.Next() {
		var link department.LocationLink
		if err := locRows.Scan(&link.ID, &link.DepartmentID, &link.LocationID); err != nil {
			return err
		}
		dept.Locations = append(dept.Locations, link)
	}
	if err := locRows.Err(); err != nil {
		return err
	}

	posRows, err := tx.Query(ctx, `
SELECT id, department_id, position_id
FROM department_positions
WHERE department_id = $1
ORDER BY id
`, pgUUID(dept.ID))
	if err != nil {
		return err
	}
	defer posRows.Close()
	for posRows.Next() {
		var link department.PositionLink
		if err := posRows.Scan(&link.ID, &link.DepartmentID, &link.PositionID); err != nil {
			return err
		}
		dept.Positions = append(dept.Positions, link)
	}
	return posRows.Err()
}

func (r *DepartmentRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDepartment(tx.QueryRow(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE id = $1
FOR UPDATE
`, pgUUID(id)))
}

// LockDescendants takes row locks on the whole subtree below prefix, the
// prefix row excluded. Callers lock the root separately by id.
func (r *DepartmentRepository) LockDescendants(ctx context.Context, prefix treepath.Path) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
SELECT id
FROM departments
WHERE path <@ $1::ltree AND path != $1::ltree
ORDER BY id
FOR UPDATE
`, prefix.String())
	return err
}

func (r *DepartmentRepository) Insert(ctx context.Context, dept *department.Department) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO departments (id, name, identifier, path, parent_id, depth, is_active, created_at, updated_at, deleted_at)
VALUES ($1, $2, $3, $4::ltree, $5, $6, $7, $8, $9, $10)
`,
		pgUUID(dept.ID),
		dept.Name.String(),
		dept.Identifier.String(),
		dept.Path.String(),
		pgNullableUUID(dept.ParentID),
		dept.Depth,
		dept.IsActive,
		dept.CreatedAt,
		dept.UpdatedAt,
		dept.DeletedAt,
	)
	return err
}

func (r *DepartmentRepository) Update(ctx context.Context, dept *department.Department) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE departments
SET name = $2,
    identifier = $3,
    path = $4::ltree,
    parent_id = $5,
    depth = $6,
    is_active = $7,
    updated_at = $8,
    deleted_at = $9
WHERE id = $1
`,
		pgUUID(dept.ID),
		dept.Name.String(),
		dept.Identifier.String(),
		dept.Path.String(),
		pgNullableUUID(dept.ParentID),
		dept.Depth,
		dept.IsActive,
		dept.UpdatedAt,
		dept.DeletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RewriteDescendantPaths swaps oldPrefix for newPrefix on every row below
// oldPrefix and shifts depth by -depthDelta. The moved node itself is
// excluded; its row was already rewritten with its new parent.
func (r *DepartmentRepository) RewriteDescendantPaths(ctx context.Context, oldPrefix, newPrefix treepath.Path, excludeID uuid.UUID, depthDelta int16) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
UPDATE departments
SET path = $2::ltree || subpath(path, nlevel($1::ltree)),
    depth = depth - $4,
    updated_at = now()
WHERE path <@ $1::ltree AND path != $1::ltree AND id != $3
RETURNING id
`, oldPrefix.String(), newPrefix.String(), pgUUID(excludeID), depthDelta)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DepartmentRepository) ListSubtree(ctx context.Context, prefix treepath.Path) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE path <@ $1::ltree AND is_active = true
ORDER BY path
`, prefix.String())
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (r *DepartmentRepository) ListAncestorsOf(ctx context.Context, path treepath.Path) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE path @> $1::ltree AND path != $1::ltree AND is_active = true
ORDER BY depth
`, path.String())
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (r *DepartmentRepository) ListRoots(ctx context.Context) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE depth = 0 AND is_active = true
ORDER BY path
`)
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (r *DepartmentRepository) ListByLocation(ctx context.Context, locationID uuid.UUID) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+qualifiedDepartmentColumns+`
FROM departments d
JOIN department_locations dl ON dl.department_id = d.id
WHERE dl.location_id = $1 AND d.is_active = true
ORDER BY d.path
`, pgUUID(locationID))
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (r *DepartmentRepository) ListChildren(ctx context.Context, parentID uuid.UUID, limit, offset int) ([]department.ChildNode, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+qualifiedDepartmentColumns+`,
       EXISTS (SELECT 1 FROM departments c WHERE c.parent_id = d.id AND c.is_active = true) AS has_children
FROM departments d
WHERE d.parent_id = $1 AND d.is_active = true
ORDER BY d.created_at
LIMIT $2 OFFSET $3
`, pgUUID(parentID), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []department.ChildNode
	for rows.Next() {
		node, err := scanChildNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func scanChildNode(row pgx.Row) (department.ChildNode, error) {
	var (
		id          uuid.UUID
		name        string
		ident       string
		rawPath     string
		parentID    *uuid.UUID
		depth       int16
		isActive    bool
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   *time.Time
		hasChildren bool
	)
	if err := row.Scan(&id, &name, &ident, &rawPath, &parentID, &depth, &isActive, &createdAt, &updatedAt, &deletedAt, &hasChildren); err != nil {
		return department.ChildNode{}, err
	}
	dept, err := rehydrateDepartment(id, name, ident, rawPath, parentID, depth, isActive, createdAt, updatedAt, deletedAt)
	if err != nil {
		return department.ChildNode{}, err
	}
	return department.ChildNode{Department: dept, HasChildren: hasChildren}, nil
}

func (r *DepartmentRepository) ListTopByPositions(ctx context.Context, limit int) ([]department.PositionCount, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+qualifiedDepartmentColumns+`, COUNT(dp.position_id) AS positions
FROM departments d
JOIN department_positions dp ON dp.department_id = d.id
WHERE d.is_active = true
GROUP BY `+qualifiedDepartmentColumns+`
ORDER BY positions DESC, d.path
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []department.PositionCount
	for rows.Next() {
		var (
			id        uuid.UUID
			name      string
			ident     string
			rawPath   string
			parentID  *uuid.UUID
			depth     int16
			isActive  bool
			createdAt time.Time
			updatedAt time.Time
			deletedAt *time.Time
			positions int64
		)
		if err := rows.Scan(&id, &name, &ident, &rawPath, &parentID, &depth, &isActive, &createdAt, &updatedAt, &deletedAt, &positions); err != nil {
			return nil, err
		}
		dept, err := rehydrateDepartment(id, name, ident, rawPath, parentID, depth, isActive, createdAt, updatedAt, deletedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, department.PositionCount{Department: dept, Positions: positions})
	}
	return out, rows.Err()
}

func (r *DepartmentRepository) InsertLocationLinks(ctx context.Context, links []department.LocationLink) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, link := range links {
		if _, err := tx.Exec(ctx, `
INSERT INTO department_locations (id, department_id, location_id)
VALUES ($1, $2, $3)
`, pgUUID(link.ID), pgUUID(link.DepartmentID), pgUUID(link.LocationID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *DepartmentRepository) DeleteLocationLinks(ctx context.Context, departmentID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM department_locations WHERE department_id = $1`, pgUUID(departmentID))
	return err
}

func (r *DepartmentRepository) InsertPositionLinks(ctx context.Context, links []department.PositionLink) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, link := range links {
		if _, err := tx.Exec(ctx, `
INSERT INTO department_positions (id, department_id, position_id)
VALUES ($1, $2, $3)
`, pgUUID(link.ID), pgUUID(link.DepartmentID), pgUUID(link.PositionID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *DepartmentRepository) SelectSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+departmentColumns+`
FROM departments
WHERE is_active = false AND deleted_at < $1
ORDER BY id
LIMIT $2
FOR UPDATE
`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

// SpliceOutDeleted drops the department's own segment from every surviving
// descendant path and reparents direct children onto the department's
// parent. The tombstone marker is stripped before matching: descendants
// still carry the original segment.
func (r *DepartmentRepository) SpliceOutDeleted(ctx context.Context, dept *department.Department) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE departments
SET parent_id = $2, updated_at = now()
WHERE parent_id = $1
`, pgUUID(dept.ID), pgNullableUUID(dept.ParentID)); err != nil {
		return nil, err
	}

	live := dept.Path.StripTombstone()
	segmentIndex := len(live.Segments()) - 1
	rows, err := tx.Query(ctx, `
UPDATE departments
SET path = CASE WHEN $2::int = 0 THEN subpath(path, 1)
                ELSE subpath(path, 0, $2::int) || subpath(path, $2::int + 1)
           END,
    depth = depth - 1,
    updated_at = now()
WHERE path <@ $1::ltree AND path != $1::ltree AND id != $3
RETURNING id
`, live.String(), segmentIndex, pgUUID(dept.ID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DepartmentRepository) DeleteLinksForDepartments(ctx context.Context, ids []uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM department_locations WHERE department_id = ANY($1)`, pgUUIDArray(ids)); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM department_positions WHERE department_id = ANY($1)`, pgUUIDArray(ids))
	return err
}

func (r *DepartmentRepository) DeleteHard(ctx context.Context, ids []uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `DELETE FROM departments WHERE id = ANY($1)`, pgUUIDArray(ids))
	return err
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullableUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func pgUUIDArray(ids []uuid.UUID) pgtype.FlatArray[uuid.UUID] {
	return pgtype.FlatArray[uuid.UUID](ids)
}
