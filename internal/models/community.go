// -----------------------------------------------------------------------
// Community - Master-planned community record and its child collections
// -----------------------------------------------------------------------

package models

import "time"

// Community represents a residential community or subdivision.
//
// Identity fields (Name, City, State) participate in the duplicate
// fingerprint and are conflict-checked on update: an approved change
// that disagrees with the stored value is rejected as stale rather
// than silently overwriting a concurrent edit.
//
// Amenities, Schools and BuilderCards are additive collections: update
// changes merge new members into the stored set instead of replacing it.
type Community struct {
	ID          string          `json:"id" badgerhold:"key"`
	Name        string          `json:"name"`
	City        string          `json:"city"`
	State       string          `json:"state"`
	PostalCode  string          `json:"postal_code,omitempty"`
	Address     string          `json:"address,omitempty"`
	Latitude    float64         `json:"latitude,omitempty"`
	Longitude   float64         `json:"longitude,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      CommunityStatus `json:"status"`
	PriceMin    int64           `json:"price_min,omitempty"` // Whole dollars
	PriceMax    int64           `json:"price_max,omitempty"` // Whole dollars
	HOAFees     int64           `json:"hoa_fees,omitempty"`  // Whole dollars per month
	Amenities   []string        `json:"amenities,omitempty"`
	Schools     []School        `json:"schools,omitempty"`

	// BuilderCards are the builders advertised on the community page.
	// Cards start unlinked; the cascade resolver fills BuilderProfileID
	// once a matching builder profile exists.
	BuilderCards []BuilderCard `json:"builder_cards,omitempty"`

	SourceURL   string     `json:"source_url,omitempty"`
	Market      string     `json:"market,omitempty" badgerhold:"index"`
	Fingerprint string     `json:"fingerprint" badgerhold:"index"`
	Version     int        `json:"version"` // Bumped on every applied update
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// BuilderCard is a builder reference as it appears on a community page
type BuilderCard struct {
	CardID           string `json:"card_id"`
	Name             string `json:"name"`
	Website          string `json:"website,omitempty"`
	Phone            string `json:"phone,omitempty"`
	BuilderProfileID string `json:"builder_profile_id,omitempty"` // Set by cascade resolution
}

// School is a school zoned to a community
type School struct {
	Name     string  `json:"name"`
	District string  `json:"district,omitempty"`
	Level    string  `json:"level,omitempty"` // elementary, middle, high
	Rating   float64 `json:"rating,omitempty"`
}

// IsDeleted reports whether the community has been soft-deleted
func (c *Community) IsDeleted() bool {
	return c.DeletedAt != nil
}

// UnlinkedBuilderCards returns cards that have no builder profile yet
func (c *Community) UnlinkedBuilderCards() []BuilderCard {
	var unlinked []BuilderCard
	for _, card := range c.BuilderCards {
		if card.BuilderProfileID == "" {
			unlinked = append(unlinked, card)
		}
	}
	return unlinked
}
