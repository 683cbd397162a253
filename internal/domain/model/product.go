package model

import "time"

// Product is a catalog entry. Resolution between code and id is owned by the
// catalog collaborator; the licensing core treats both as opaque.
type Product struct {
	ID        string
	Code      string
	Name      string
	Active    bool
	CreatedAt time.Time
}
