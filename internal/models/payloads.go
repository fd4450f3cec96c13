// -----------------------------------------------------------------------
// Collection Payloads - Validated shapes the LLM must return
// -----------------------------------------------------------------------

package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New()

// CollectionPayload is the envelope every collection prompt asks for.
// Exactly one of the entity fields is populated depending on job type:
// discovery fills the plural slice, detail fills the singular record,
// inventory fills Properties.
type CollectionPayload struct {
	Communities []CommunityPayload `json:"communities,omitempty" validate:"omitempty,dive"`
	Builders    []BuilderPayload   `json:"builders,omitempty" validate:"omitempty,dive"`
	Properties  []PropertyPayload  `json:"properties,omitempty" validate:"omitempty,dive"`
	Community   *CommunityPayload  `json:"community,omitempty"`
	Builder     *BuilderPayload    `json:"builder,omitempty"`
	Property    *PropertyPayload   `json:"property,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// Validate checks the envelope against the shape the job type demands
func (p *CollectionPayload) Validate(jobType JobType) error {
	if err := payloadValidator.Struct(p); err != nil {
		return fmt.Errorf("payload field validation: %w", err)
	}

	switch jobType {
	case JobTypeCommunityDiscovery:
		if len(p.Communities) == 0 {
			return fmt.Errorf("%s payload must contain a communities array", jobType)
		}
	case JobTypeCommunityDetail:
		if p.Community == nil {
			return fmt.Errorf("%s payload must contain a community record", jobType)
		}
		if err := payloadValidator.Struct(p.Community); err != nil {
			return fmt.Errorf("community record validation: %w", err)
		}
	case JobTypeCommunityInventory:
		if len(p.Properties) == 0 {
			return fmt.Errorf("%s payload must contain a properties array", jobType)
		}
	case JobTypeBuilderDiscovery:
		if len(p.Builders) == 0 {
			return fmt.Errorf("%s payload must contain a builders array", jobType)
		}
	case JobTypeBuilderDetail:
		if p.Builder == nil {
			return fmt.Errorf("%s payload must contain a builder record", jobType)
		}
		if err := payloadValidator.Struct(p.Builder); err != nil {
			return fmt.Errorf("builder record validation: %w", err)
		}
	case JobTypePropertyUpdate:
		if p.Property == nil {
			return fmt.Errorf("%s payload must contain a property record", jobType)
		}
		if err := payloadValidator.Struct(p.Property); err != nil {
			return fmt.Errorf("property record validation: %w", err)
		}
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
	return nil
}

// CommunityPayload is one collected community candidate
type CommunityPayload struct {
	Name        string               `json:"name" validate:"required,min=2"`
	City        string               `json:"city" validate:"required"`
	State       string               `json:"state" validate:"required,len=2"`
	PostalCode  string               `json:"postal_code,omitempty"`
	Address     string               `json:"address,omitempty"`
	Latitude    float64              `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude   float64              `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Description string               `json:"description,omitempty"`
	Status      string               `json:"status,omitempty" validate:"omitempty,oneof=active coming_soon sold_out"`
	PriceMin    int64                `json:"price_min,omitempty" validate:"omitempty,gte=0"`
	PriceMax    int64                `json:"price_max,omitempty" validate:"omitempty,gte=0"`
	HOAFees     int64                `json:"hoa_fees,omitempty" validate:"omitempty,gte=0"`
	Amenities   []string             `json:"amenities,omitempty"`
	Schools     []SchoolPayload      `json:"schools,omitempty" validate:"omitempty,dive"`
	Builders    []BuilderCardPayload `json:"builders,omitempty" validate:"omitempty,dive"`
	SourceURL   string               `json:"source_url,omitempty" validate:"omitempty,url"`
	Confidence  float64              `json:"confidence" validate:"gte=0,lte=1"`
}

// SchoolPayload is one school attribution on a community
type SchoolPayload struct {
	Name     string  `json:"name" validate:"required"`
	District string  `json:"district,omitempty"`
	Level    string  `json:"level,omitempty" validate:"omitempty,oneof=elementary middle high"`
	Rating   float64 `json:"rating,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// BuilderCardPayload is a builder reference found on a community page
type BuilderCardPayload struct {
	Name    string `json:"name" validate:"required,min=2"`
	Website string `json:"website,omitempty" validate:"omitempty,url"`
	Phone   string `json:"phone,omitempty"`
}

// BuilderPayload is one collected builder candidate
type BuilderPayload struct {
	Name         string   `json:"name" validate:"required,min=2"`
	Website      string   `json:"website,omitempty" validate:"omitempty,url"`
	Phone        string   `json:"phone,omitempty"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty" validate:"omitempty,len=2"`
	Description  string   `json:"description,omitempty"`
	YearFounded  int      `json:"year_founded,omitempty" validate:"omitempty,gte=1800,lte=2100"`
	ServiceAreas []string `json:"service_areas,omitempty"`
	SourceURL    string   `json:"source_url,omitempty" validate:"omitempty,url"`
	Confidence   float64  `json:"confidence" validate:"gte=0,lte=1"`
}

// PropertyPayload is one collected property candidate
type PropertyPayload struct {
	Address1   string   `json:"address1" validate:"required,min=3"`
	Address2   string   `json:"address2,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty" validate:"omitempty,len=2"`
	PostalCode string   `json:"postal_code" validate:"required,min=3"`
	Price      int64    `json:"price,omitempty" validate:"omitempty,gte=0"`
	Beds       float64  `json:"beds,omitempty" validate:"omitempty,gte=0,lte=20"`
	Baths      float64  `json:"baths,omitempty" validate:"omitempty,gte=0,lte=20"`
	SquareFeet int      `json:"square_feet,omitempty" validate:"omitempty,gte=0"`
	LotSize    float64  `json:"lot_size,omitempty" validate:"omitempty,gte=0"`
	Status     string   `json:"status,omitempty" validate:"omitempty,oneof=for_sale pending sold off_market"`
	PlanName   string   `json:"plan_name,omitempty"`
	Images     []string `json:"images,omitempty" validate:"omitempty,dive,url"`
	SourceURL  string   `json:"source_url,omitempty" validate:"omitempty,url"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
}

// ToCommunity converts the payload into a Community candidate.
// The ID and Fingerprint are left empty for the store to assign, and an
// uncollected status stays empty so diffs can tell "not collected" from
// a real value; apply defaults it on insert.
func (p *CommunityPayload) ToCommunity() *Community {
	community := &Community{
		Name:        p.Name,
		City:        p.City,
		State:       p.State,
		PostalCode:  p.PostalCode,
		Address:     p.Address,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Description: p.Description,
		Status:      CommunityStatus(p.Status),
		PriceMin:    p.PriceMin,
		PriceMax:    p.PriceMax,
		HOAFees:     p.HOAFees,
		Amenities:   p.Amenities,
		SourceURL:   p.SourceURL,
	}
	for _, s := range p.Schools {
		community.Schools = append(community.Schools, School{
			Name:     s.Name,
			District: s.District,
			Level:    s.Level,
			Rating:   s.Rating,
		})
	}
	for _, b := range p.Builders {
		community.BuilderCards = append(community.BuilderCards, BuilderCard{
			Name:    b.Name,
			Website: b.Website,
			Phone:   b.Phone,
		})
	}
	return community
}

// ToBuilder converts the payload into a Builder candidate
func (p *BuilderPayload) ToBuilder() *Builder {
	return &Builder{
		Name:         p.Name,
		Website:      p.Website,
		Phone:        p.Phone,
		City:         p.City,
		State:        p.State,
		Description:  p.Description,
		YearFounded:  p.YearFounded,
		ServiceAreas: p.ServiceAreas,
		SourceURL:    p.SourceURL,
	}
}

// ToProperty converts the payload into a Property candidate
func (p *PropertyPayload) ToProperty() *Property {
	return &Property{
		Address1:   p.Address1,
		Address2:   p.Address2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Price:      p.Price,
		Beds:       p.Beds,
		Baths:      p.Baths,
		SquareFeet: p.SquareFeet,
		LotSize:    p.LotSize,
		Status:     PropertyStatus(p.Status),
		PlanName:   p.PlanName,
		Images:     p.Images,
		SourceURL:  p.SourceURL,
	}
}

