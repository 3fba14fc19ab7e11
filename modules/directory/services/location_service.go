package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/orgstack/directory/modules/directory/domain/events"
	"github.com/orgstack/directory/modules/directory/domain/location"
	"github.com/orgstack/directory/pkg/composables"
	"github.com/orgstack/directory/pkg/eventbus"
)

type LocationService struct {
	locations LocationRepository
	bus       eventbus.EventBus
	validate  *validator.Validate
	log       *logrus.Logger
}

func NewLocationService(locations LocationRepository, bus eventbus.EventBus, log *logrus.Logger) *LocationService {
	return &LocationService{
		locations: locations,
		bus:       bus,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}
}

type CreateLocationInput struct {
	Name     string `validate:"required"`
	Country  string `validate:"required"`
	City     string `validate:"required"`
	Street   string `validate:"required"`
	Timezone string `validate:"required"`
}

func (s *LocationService) CreateLocation(ctx context.Context, in CreateLocationInput) (*location.Location, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, invalidBody("invalid location payload", err)
	}

	name, err := location.NewName(in.Name)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}
	address, err := location.NewAddress(in.Country, in.City, in.Street)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}
	timezone, err := location.NewTimezone(in.Timezone)
	if err != nil {
		return nil, invalidBody(err.Error(), err)
	}

	loc := location.New(name, address, timezone, time.Now().UTC())
	err = composables.InTx(ctx, func(txCtx context.Context) error {
		if err := s.locations.Insert(txCtx, loc); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Publish(events.NewDirectoryEventV1(events.ChangeLocationCreated, loc.ID))
	}
	s.log.WithField("location_id", loc.ID).Info("location created")
	return loc, nil
}

type FindLocationsInput struct {
	Search        string
	IsActive      *bool
	DepartmentIDs []uuid.UUID
	Page          int
	PageSize      int
}

// FindLocations lists locations filtered by name substring, active flag and
// linked departments, active first then by name. Passing department ids
// answers "which locations does this department operate from".
func (s *LocationService) FindLocations(ctx context.Context, in FindLocationsInput) ([]*location.Location, error) {
	if in.Page == 0 {
		in.Page = 1
	}
	if in.PageSize == 0 {
		in.PageSize = defaultPageSize
	}
	if in.Page < 1 || in.PageSize < 1 || in.PageSize > maxPageSize {
		return nil, invalidBody("page must be positive and page size between 1 and 100", nil)
	}

	locations, err := s.locations.Search(ctx, location.Filter{
		Search:        in.Search,
		IsActive:      in.IsActive,
		DepartmentIDs: in.DepartmentIDs,
		Limit:         in.PageSize,
		Offset:        (in.Page - 1) * in.PageSize,
	})
	if err != nil {
		return nil, mapPgErrorToServiceError(err)
	}
	return locations, nil
}

func (s *LocationService) GetLocationByID(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	if id == uuid.Nil {
		return nil, invalidBody("id is required", nil)
	}
	loc, err := s.locations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("location not found", err)
		}
		return nil, mapPgErrorToServiceError(err)
	}
	return loc, nil
}
