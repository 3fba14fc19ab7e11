package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicDirectoryChangedV1 = "directory.changed.v1"
	EventVersionV1          = 1
)

// Change types carried by DirectoryEventV1.
const (
	ChangeDepartmentCreated   = "department.created"
	ChangeDepartmentMoved     = "department.moved"
	ChangeDepartmentDeleted   = "department.deleted"
	ChangeDepartmentCompacted = "department.compacted"
	ChangeDepartmentRelinked  = "department.relinked"
	ChangeLocationCreated     = "location.created"
	ChangeLocationDeleted     = "location.deleted"
	ChangePositionCreated     = "position.created"
	ChangePositionDeleted     = "position.deleted"
)

// DirectoryEventV1 notifies subscribers of a committed mutation. AffectedIDs
// lists every department whose cached reads are now stale, so callers can
// invalidate precisely.
type DirectoryEventV1 struct {
	EventID         uuid.UUID   `json:"event_id"`
	EventVersion    int         `json:"event_version"`
	TransactionTime time.Time   `json:"transaction_time"`
	ChangeType      string      `json:"change_type"`
	EntityID        uuid.UUID   `json:"entity_id"`
	AffectedIDs     []uuid.UUID `json:"affected_ids"`
}

func NewDirectoryEventV1(changeType string, entityID uuid.UUID, affected ...uuid.UUID) DirectoryEventV1 {
	return DirectoryEventV1{
		EventID:         uuid.New(),
		EventVersion:    EventVersionV1,
		TransactionTime: time.Now().UTC(),
		ChangeType:      changeType,
		EntityID:        entityID,
		AffectedIDs:     affected,
	}
}
