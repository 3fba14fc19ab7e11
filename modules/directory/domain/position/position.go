package position

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPosition = errors.New("position is invalid")

const (
	minNameLength        = 3
	maxNameLength        = 100
	maxDescriptionLength = 1000
)

type Name struct {
	value string
}

func NewName(raw string) (Name, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Name{}, fmt.Errorf("%w: name is required", ErrInvalidPosition)
	}
	if len(trimmed) < minNameLength || len(trimmed) > maxNameLength {
		return Name{}, fmt.Errorf("%w: name must be between %d and %d characters",
			ErrInvalidPosition, minNameLength, maxNameLength)
	}
	return Name{value: trimmed}, nil
}

func (n Name) String() string { return n.value }

type Description struct {
	value string
}

// NewDescription accepts the empty string; a position does not have to be
// described.
func NewDescription(raw string) (Description, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxDescriptionLength {
		return Description{}, fmt.Errorf("%w: description cannot be more than %d characters",
			ErrInvalidPosition, maxDescriptionLength)
	}
	return Description{value: trimmed}, nil
}

func (d Description) String() string { return d.value }

type Position struct {
	ID          uuid.UUID
	Name        Name
	Description Description
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

func New(name Name, description Description, now time.Time) *Position {
	return &Position{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (p *Position) SoftDelete(now time.Time) {
	p.IsActive = false
	p.DeletedAt = &now
	p.UpdatedAt = now
}
