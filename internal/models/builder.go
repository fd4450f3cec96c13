// -----------------------------------------------------------------------
// Builder - Builder profile record
// -----------------------------------------------------------------------

package models

import "time"

// Builder represents a home builder profile.
//
// Identity fields (Name, Website) are conflict-checked on update.
// ServiceAreas is an additive collection.
type Builder struct {
	ID           string     `json:"id" badgerhold:"key"`
	Name         string     `json:"name"`
	Website      string     `json:"website,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	Description  string     `json:"description,omitempty"`
	YearFounded  int        `json:"year_founded,omitempty"`
	ServiceAreas []string   `json:"service_areas,omitempty"`
	SourceURL    string     `json:"source_url,omitempty"`
	Fingerprint  string     `json:"fingerprint" badgerhold:"index"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the builder has been soft-deleted
func (b *Builder) IsDeleted() bool {
	return b.DeletedAt != nil
}
