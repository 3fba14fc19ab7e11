package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orgstack/directory/modules/directory/domain/location"
	"github.com/orgstack/directory/pkg/composables"
)

const locationColumns = `id, name, country, city, street, timezone, is_active, created_at, updated_at, deleted_at`

type LocationRepository struct{}

func NewLocationRepository() *LocationRepository {
	return &LocationRepository{}
}

func scanLocation(row pgx.Row) (*location.Location, error) {
	var (
		id        uuid.UUID
		name      string
		country   string
		city      string
		street    string
		timezone  string
		isActive  bool
		createdAt time.Time
		updatedAt time.Time
		deletedAt *time.Time
	)
	if err := row.Scan(&id, &name, &country, &city, &street, &timezone, &isActive, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	locName, err := location.NewName(name)
	if err != nil {
		return nil, err
	}
	address, err := location.NewAddress(country, city, street)
	if err != nil {
		return nil, err
	}
	tz, err := location.NewTimezone(timezone)
	if err != nil {
		return nil, err
	}

	return &location.Location{
		ID:        id,
		Name:      locName,
		Address:   address,
		Timezone:  tz,
		IsActive:  isActive,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		DeletedAt: deletedAt,
	}, nil
}

func (r *LocationRepository) GetByID(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanLocation(tx.QueryRow(ctx, `
SELECT `+locationColumns+`
FROM locations
WHERE id = $1
`, pgUUID(id)))
}

func (r *LocationRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*location.Location, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+locationColumns+`
FROM locations
WHERE id = ANY($1)
ORDER BY name
`, pgUUIDArray(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*location.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (r *LocationRepository) Insert(ctx context.Context, loc *location.Location) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO locations (id, name, country, city, street, timezone, is_active, created_at, updated_at, deleted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		pgUUID(loc.ID),
		loc.Name.String(),
		loc.Address.Country,
		loc.Address.City,
		loc.Address.Street,
		loc.Timezone.String(),
		loc.IsActive,
		loc.CreatedAt,
		loc.UpdatedAt,
		loc.DeletedAt,
	)
	return err
}

// Search lists locations narrowed by the filter, active rows first, then by
// name. The department filter matches locations linked to any of the given
// departments.
func (r *LocationRepository) Search(ctx context.Context, f location.Filter) ([]*location.Location, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	if f.Search != "" {
		args = append(args, f.Search)
		conditions = append(conditions, fmt.Sprintf("l.name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conditions = append(conditions, fmt.Sprintf("l.is_active = $%d", len(args)))
	}
	if len(f.DepartmentIDs) > 0 {
		args = append(args, pgUUIDArray(f.DepartmentIDs))
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM department_locations dl WHERE dl.location_id = l.id AND dl.department_id = ANY($%d))",
			len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
SELECT l.id, l.name, l.country, l.city, l.street, l.timezone, l.is_active, l.created_at, l.updated_at, l.deleted_at
FROM locations l
%s
ORDER BY l.is_active DESC, l.name
LIMIT $%d OFFSET $%d
`, where, len(args)-1, len(args))

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*location.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// FindSoleLinkedTo returns active locations whose only link to an active
// department is the given one. Rows are locked so a concurrent soft delete
// of a sibling department cannot orphan the same location twice.
func (r *LocationRepository) FindSoleLinkedTo(ctx context.Context, departmentID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT l.id
FROM locations l
JOIN department_locations dl ON dl.location_id = l.id
WHERE dl.department_id = $1
  AND l.is_active = true
  AND NOT EXISTS (
	SELECT 1
	FROM department_locations other
	JOIN departments d ON d.id = other.department_id
	WHERE other.location_id = l.id
	  AND other.department_id != $1
	  AND d.is_active = true
  )
ORDER BY l.id
FOR UPDATE OF l
`, pgUUID(departmentID))
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

func (r *LocationRepository) SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE locations
SET is_active = false, deleted_at = $2, updated_at = $2
WHERE id = ANY($1)
`, pgUUIDArray(ids), now)
	return err
}

func (r *LocationRepository) DeleteHardUnlinkedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `
DELETE FROM locations l
WHERE l.is_active = false
  AND l.deleted_at < $1
  AND NOT EXISTS (SELECT 1 FROM department_locations dl WHERE dl.location_id = l.id)
`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
