package domain

import (
	"strings"

	"github.com/google/uuid"
)

type RoomID string

// NewRoomID generates a short shareable room identifier
// (first segment of a uuid, e.g. "9f3c21aa").
func NewRoomID() RoomID {
	id := uuid.NewString()
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	return RoomID(id)
}
