// -----------------------------------------------------------------------
// Property - Individual home listing record
// -----------------------------------------------------------------------

package models

import "time"

// Property represents a single home listing inside a community.
//
// Identity fields (Address1, PostalCode) plus Price are conflict-checked
// on update. Images is an additive collection.
type Property struct {
	ID          string         `json:"id" badgerhold:"key"`
	CommunityID string         `json:"community_id,omitempty" badgerhold:"index"`
	BuilderID   string         `json:"builder_id,omitempty" badgerhold:"index"`
	Address1    string         `json:"address1"`
	Address2    string         `json:"address2,omitempty"`
	City        string         `json:"city,omitempty"`
	State       string         `json:"state,omitempty"`
	PostalCode  string         `json:"postal_code"`
	Price       int64          `json:"price,omitempty"` // Whole dollars
	Beds        float64        `json:"beds,omitempty"`
	Baths       float64        `json:"baths,omitempty"`
	SquareFeet  int            `json:"square_feet,omitempty"`
	LotSize     float64        `json:"lot_size,omitempty"` // Acres
	Status      PropertyStatus `json:"status"`
	PlanName    string         `json:"plan_name,omitempty"`
	Images      []string       `json:"images,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	Fingerprint string         `json:"fingerprint" badgerhold:"index"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the property has been soft-deleted
func (p *Property) IsDeleted() bool {
	return p.DeletedAt != nil
}
