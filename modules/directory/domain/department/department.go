package department

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orgstack/directory/modules/directory/domain/treepath"
)

var ErrInvalidName = errors.New("department name is invalid")

const (
	minNameLength = 3
	maxNameLength = 150
)

// Name is the display name; free-form, length-bounded.
type Name struct {
	value string
}

func NewName(raw string) (Name, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Name{}, fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(trimmed) < minNameLength || len(trimmed) > maxNameLength {
		return Name{}, fmt.Errorf("%w: name must be between %d and %d characters",
			ErrInvalidName, minNameLength, maxNameLength)
	}
	return Name{value: trimmed}, nil
}

func (n Name) String() string { return n.value }

// Identifier is the slug used as the department's path segment. Validation is
// delegated to the path codec so the charset stays in one place.
type Identifier struct {
	value string
}

func NewIdentifier(raw string) (Identifier, error) {
	// A root path is a single validated segment.
	p, err := treepath.NewRoot(raw)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{value: p.String()}, nil
}

func (i Identifier) String() string { return i.value }

// Department is a node of the organizational tree. Path is derived state: it
// must always reproduce the parent chain and is rewritten transactionally on
// every move.
type Department struct {
	ID         uuid.UUID
	Name       Name
	Identifier Identifier
	Path       treepath.Path
	ParentID   *uuid.UUID
	Depth      int16
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time

	Locations []LocationLink
	Positions []PositionLink
}

// NewRoot creates a depth-0 department whose path is its own identifier.
func NewRoot(name Name, identifier Identifier, now time.Time) (*Department, error) {
	path, err := treepath.NewRoot(identifier.String())
	if err != nil {
		return nil, err
	}
	return &Department{
		ID:         uuid.New(),
		Name:       name,
		Identifier: identifier,
		Path:       path,
		Depth:      0,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewChild creates a department one level below parent.
func NewChild(name Name, identifier Identifier, parent *Department, now time.Time) (*Department, error) {
	path, err := parent.Path.Child(identifier.String())
	if err != nil {
		return nil, err
	}
	parentID := parent.ID
	return &Department{
		ID:         uuid.New(),
		Name:       name,
		Identifier: identifier,
		Path:       path,
		ParentID:   &parentID,
		Depth:      parent.Depth + 1,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// SoftDelete flags the department inactive and tombstones its own path
// segment. Descendant paths are left untouched; compaction relies on them
// still carrying the unmarked segment.
func (d *Department) SoftDelete(now time.Time) {
	d.IsActive = false
	d.DeletedAt = &now
	d.UpdatedAt = now
	d.Path = d.Path.Tombstone()
}

// LocationLink is a department-location association row.
type LocationLink struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	LocationID   uuid.UUID
}

func NewLocationLink(departmentID, locationID uuid.UUID) LocationLink {
	return LocationLink{ID: uuid.New(), DepartmentID: departmentID, LocationID: locationID}
}

// PositionLink is a department-position association row.
type PositionLink struct {
	ID           uuid.UUID
	DepartmentID uuid.UUID
	PositionID   uuid.UUID
}

func NewPositionLink(departmentID, positionID uuid.UUID) PositionLink {
	return PositionLink{ID: uuid.New(), DepartmentID: departmentID, PositionID: positionID}
}

// ChildNode is one entry of a paginated children listing. HasChildren tells
// the caller whether the node can be expanded further.
type ChildNode struct {
	Department  *Department
	HasChildren bool
}

// PositionCount pairs a department with the number of positions linked to it.
type PositionCount struct {
	Department *Department
	Positions  int64
}
