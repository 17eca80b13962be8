package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used as a run's external transaction id.
func NewID() string {
	return ulid.Make().String()
}
