package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orgstack/directory/modules/directory/domain/position"
	"github.com/orgstack/directory/pkg/composables"
)

const positionColumns = `id, name, description, is_active, created_at, updated_at, deleted_at`

type PositionRepository struct{}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{}
}

func scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		id          uuid.UUID
		name        string
		description string
		isActive    bool
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   *time.Time
	)
	if err := row.Scan(&id, &name, &description, &isActive, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	posName, err := position.NewName(name)
	if err != nil {
		return nil, err
	}
	desc, err := position.NewDescription(description)
	if err != nil {
		return nil, err
	}

	return &position.Position{
		ID:          id,
		Name:        posName,
		Description: desc,
		IsActive:    isActive,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   deletedAt,
	}, nil
}

func (r *PositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*position.Position, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanPosition(tx.QueryRow(ctx, `
SELECT `+positionColumns+`
FROM positions
WHERE id = $1
`, pgUUID(id)))
}

func (r *PositionRepository) Insert(ctx context.Context, pos *position.Position) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO positions (id, name, description, is_active, created_at, updated_at, deleted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`,
		pgUUID(pos.ID),
		pos.Name.String(),
		pos.Description.String(),
		pos.IsActive,
		pos.CreatedAt,
		pos.UpdatedAt,
		pos.DeletedAt,
	)
	return err
}

func (r *PositionRepository) FindSoleLinkedTo(ctx context.Context, departmentID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT p.id
FROM positions p
JOIN department_positions dp ON dp.position_id = p.id
WHERE dp.department_id = $1
  AND p.is_active = true
  AND NOT EXISTS (
	SELECT 1
	FROM department_positions other
	JOIN departments d ON d.id = other.department_id
	WHERE other.position_id = p.id
	  AND other.department_id != $1
	  AND d.is_active = true
  )
ORDER BY p.id
FOR UPDATE OF p
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

func (r *PositionRepository) SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE positions
SET is_active = false, deleted_at = $2, updated_at = $2
WHERE id = ANY($1)
`, pgUUIDArray(ids), now)
	return err
}

func (r *PositionRepository) DeleteHardUnlinkedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `
DELETE FROM positions p
WHERE p.is_active = false
  AND p.deleted_at < $1
  AND NOT EXISTS (SELECT 1 FROM department_positions dp WHERE dp.position_id = p.id)
`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
