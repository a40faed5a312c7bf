package models

import (
	"time"

	id "vaultline/pkg/domain"
)

// Record is one consent event. Records are never updated: a withdrawal is a
// new record with Granted=false, and the current state of a category is the
// latest record for it.
type Record struct {
	ID            id.ConsentID
	IdentityID    id.IdentityID
	LookupHash    string
	Category      id.ConsentCategory
	Granted       bool
	PolicyVersion string
	Channel       string
	IP            string
	UserAgent     string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	Metadata      map[string]string
}

// IsActive returns true when the record grants consent that has not expired.
func (r Record) IsActive(now time.Time) bool {
	if !r.Granted {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// Latest returns the most recent record for category, or nil. Records are
// expected in ledger order (oldest first); ties on CreatedAt resolve to the
// later position.
func Latest(records []Record, category id.ConsentCategory) *Record {
	var latest *Record
	for i := range records {
		r := &records[i]
		if r.Category != category {
			continue
		}
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// Status summarizes one category for admin views.
type Status struct {
	Category      id.ConsentCategory `json:"category"`
	Active        bool               `json:"active"`
	PolicyVersion string             `json:"policy_version"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
