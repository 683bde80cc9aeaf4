package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Medicine maps to the medicine table (drug catalog entry).
type Medicine struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	Code                 string    `db:"code" json:"code"`
	Name                 string    `db:"name" json:"name"`
	GenericName          *string   `db:"generic_name" json:"generic_name,omitempty"`
	Unit                 string    `db:"unit" json:"unit"`
	Manufacturer         *string   `db:"manufacturer" json:"manufacturer,omitempty"`
	Status               string    `db:"status" json:"status"`
	MinStock             int64     `db:"min_stock" json:"min_stock"`
	MaxStock             int64     `db:"max_stock" json:"max_stock"`
	SafetyStock          int64     `db:"safety_stock" json:"safety_stock"`
	RequiresPrescription bool      `db:"requires_prescription" json:"requires_prescription"`
	IsControlled         bool      `db:"is_controlled" json:"is_controlled"`
	IsSpecial            bool      `db:"is_special" json:"is_special"`
	Description          *string   `db:"description" json:"description,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Capability identifies special handling a medicine requires.
type Capability string

const (
	CapRequiresPrescription Capability = "requires-prescription"
	CapControlled           Capability = "controlled"
	CapSpecial              Capability = "special"
)

// Capabilities returns the capability set for the medicine. The validation
// pipeline consults this set instead of the individual flags.
func (m *Medicine) Capabilities() []Capability {
	var caps []Capability
	if m.RequiresPrescription {
		caps = append(caps, CapRequiresPrescription)
	}
	if m.IsControlled {
		caps = append(caps, CapControlled)
	}
	if m.IsSpecial {
		caps = append(caps, CapSpecial)
	}
	return caps
}

// NeedsReviewOnDispense reports whether dispensing this medicine always
// warrants pharmacist review regardless of other checks.
func (m *Medicine) NeedsReviewOnDispense() bool {
	return m.IsControlled || m.IsSpecial
}
