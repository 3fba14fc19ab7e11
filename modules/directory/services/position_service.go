package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/modules/directory/domain/department"
	"github.com/orgstack/directory/modules/directory/domain/events"
	"github.com/orgstack/directory/modules/directory/domain/position"
	"github.com/orgstack/directory/pkg/composables"
	"github.com/orgstack/directory/pkg/eventbus"
)

type PositionService struct {
	positions   PositionRepository
	departments DepartmentRepository
	bus         eventbus.EventBus
	validate    *validator.Validate
	log         *logrus.Logger
}

func NewPositionService(positions PositionRepository, departments DepartmentRepository, bus eventbus.EventBus, log *logrus.Logger) *PositionService {
	return &PositionService{
		positions:   positions,
		departments: departments,
		bus:         bus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log,
	}
}

type CreatePositionInput struct {
	Name          string      `validate:"required"`
	Description   string      `validate:"omitempty"`
	DepartmentIDs []uuid.UUID `validate:"required,min=1,unique"`
}

func (s *PositionService) CreatePosition(ctx context.Context, in CreatePositionInput) (*position.Position, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, invalidBody("invalid position payload", err)
	}

	name, err := position.NewName(in.Name)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}
	description, err := position.NewDescription(in.Description)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}

	pos := position.New(name, description, time.Now().UTC())
	affected := make([]uuid.UUID, 0, len(in.DepartmentIDs))
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		links := make([]department.PositionLink, 0, len(in.DepartmentIDs))
		for _, departmentID := range in.DepartmentIDs {
			dept, err := s.departments.GetByID(txCtx, departmentID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return notFound("department not found: "+departmentID.String(), err)
				}
				return mapPgErrorToServiceError(err)
			}
			if !dept.IsActive {
				return notFound("department is deleted: "+departmentID.String(), nil)
			}
			links = append(links, department.NewPositionLink(departmentID, pos.ID))
			affected = append(affected, departmentID)
		}
		if err := s.positions.Insert(txCtx, pos); err != nil {
			return mapPgErrorToServiceError(err)
		}
		if err := s.departments.InsertPositionLinks(txCtx, links); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewDirectoryEventV1(events.ChangePositionCreated, pos.ID, affected...))
	}
	s.log.WithField("position_id", pos.ID).Info("position created")
	return pos, nil
}

func (s *PositionService) GetPositionByID(ctx context.Context, id uuid.UUID) (*position.Position, error) {
	if id == uuid.Nil {
		return nil, invalidBody("id is required", nil)
	}
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("position not found", err)
		}
		return nil, mapPgErrorToServiceError(err)
	}
	return pos, nil
}
