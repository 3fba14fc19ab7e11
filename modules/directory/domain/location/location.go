package location

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidLocation = errors.New("location is invalid")

const (
	minNameLength     = 3
	maxNameLength     = 120
	maxAddressPartLen = 150
)

var timezoneRegex = regexp.MustCompile(`^[A-Za-z_]+/[A-Za-z_]+$`)

type Name struct {
	value string
}

func NewName(raw string) (Name, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Name{}, fmt.Errorf("%w: name is required", ErrInvalidLocation)
	}
	if len(trimmed) < minNameLength || len(trimmed) > maxNameLength {
		return Name{}, fmt.Errorf("%w: name must be between %d and %d characters",
			ErrInvalidLocation, minNameLength, maxNameLength)
	}
	return Name{value: trimmed}, nil
}

func (n Name) String() string { return n.value }

// Address identifies a physical site; uniqueness is enforced at the storage
// layer over the full triple.
type Address struct {
	Country string
	City    string
	Street  string
}

func NewAddress(country, city, street string) (Address, error) {
	for _, part := range []struct{ field, value string }{
		{"country", country},
		{"city", city},
		{"street", street},
	} {
		v := strings.TrimSpace(part.value)
		if v == "" {
			return Address{}, fmt.Errorf("%w: %s is required", ErrInvalidLocation, part.field)
		}
		if len(v) > maxAddressPartLen {
			return Address{}, fmt.Errorf("%w: %s cannot be more than %d characters",
				ErrInvalidLocation, part.field, maxAddressPartLen)
		}
	}
	return Address{
		Country: strings.TrimSpace(country),
		City:    strings.TrimSpace(city),
		Street:  strings.TrimSpace(street),
	}, nil
}

// Timezone is an IANA-style zone token, e.g. "Europe/Berlin".
type Timezone struct {
	value string
}

func NewTimezone(raw string) (Timezone, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Timezone{}, fmt.Errorf("%w: timezone is required", ErrInvalidLocation)
	}
	if !timezoneRegex.MatchString(trimmed) {
		return Timezone{}, fmt.Errorf("%w: timezone %q is not an Area/Location token", ErrInvalidLocation, trimmed)
	}
	return Timezone{value: trimmed}, nil
}

func (tz Timezone) String() string { return tz.value }

type Location struct {
	ID        uuid.UUID
	Name      Name
	Address   Address
	Timezone  Timezone
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func New(name Name, address Address, timezone Timezone, now time.Time) *Location {
	return &Location{
		ID:        uuid.New(),
		Name:      name,
		Address:   address,
		Timezone:  timezone,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SoftDelete marks the location inactive. Locations are never resurrected
// automatically.
func (l *Location) SoftDelete(now time.Time) {
	l.IsActive = false
	l.DeletedAt = &now
	l.UpdatedAt = now
}

// Filter narrows location listings. Zero-valued fields are ignored; Limit
// and Offset are always applied.
type Filter struct {
	Search        string
	IsActive      *bool
	DepartmentIDs []uuid.UUID
	Limit         int
	Offset        int
}
