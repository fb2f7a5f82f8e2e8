package utils

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrNilID is returned when an id parses to the zero uuid.
var ErrNilID = errors.New("id must not be the nil uuid")

var newUUIDv7 = uuid.NewV7

// GenerateUUIDv7 generates a time-ordered id for new rows
func GenerateUUIDv7() uuid.UUID {
	id, err := newUUIDv7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// ParseID parses a path or CLI supplied id, rejecting the nil uuid
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrNilID
	}
	return id, nil
}
