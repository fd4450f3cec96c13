package models

// EntityType identifies which catalog table a record or change targets
type EntityType string

const (
	EntityTypeCommunity EntityType = "community"
	EntityTypeBuilder   EntityType = "builder"
	EntityTypeProperty  EntityType = "property"
)

// ValidEntityType reports whether t names a collectable entity
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeCommunity, EntityTypeBuilder, EntityTypeProperty:
		return true
	}
	return false
}

// CommunityStatus values for the sales lifecycle of a community
type CommunityStatus string

const (
	CommunityStatusActive     CommunityStatus = "active"
	CommunityStatusComingSoon CommunityStatus = "coming_soon"
	CommunityStatusSoldOut    CommunityStatus = "sold_out"
)

// PropertyStatus values for the listing lifecycle of a property
type PropertyStatus string

const (
	PropertyStatusForSale   PropertyStatus = "for_sale"
	PropertyStatusPending   PropertyStatus = "pending"
	PropertyStatusSold      PropertyStatus = "sold"
	PropertyStatusOffMarket PropertyStatus = "off_market"
)
