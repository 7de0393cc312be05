package progress

import "github.com/google/uuid"

// TaskID is the unique identity minted for one unit of work. It is a plain
// comparable value, so it can be used as a map key and copied freely; only
// the Coordinator mints them. The zero value is never a valid task.
type TaskID uuid.UUID

// newTaskID mints a fresh id. UUIDv7 keeps ids time-sortable, which makes
// interleaved progress logs easier to correlate.
func newTaskID() TaskID {
	return TaskID(uuid.Must(uuid.NewV7()))
}

// IsZero reports whether the id is the unminted zero value.
func (id TaskID) IsZero() bool {
	return id == TaskID(uuid.Nil)
}

// String returns the canonical UUID form.
func (id TaskID) String() string {
	return uuid.UUID(id).String()
}
