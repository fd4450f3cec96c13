// -----------------------------------------------------------------------
// Field Diffs - Compute, apply, and conflict-check proposed changes
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Diff computation treats a zero value on the candidate as "not
// collected": it never produces a diff that erases a stored value.
// Scalar fields carry stringified old/new pairs; additive collection
// fields (amenities, schools, builder_cards, service_areas, images)
// carry the current membership in Old and only the ADDED members in
// New, JSON-encoded, so apply can merge set-wise against whatever the
// entity holds at apply time.

// DiffCommunity returns the field transitions candidate proposes over existing
func DiffCommunity(existing, candidate *Community) []FieldDiff {
	var diff []FieldDiff
	diffString(&diff, "name", existing.Name, candidate.Name)
	diffString(&diff, "city", existing.City, candidate.City)
	diffString(&diff, "state", existing.State, candidate.State)
	diffString(&diff, "postal_code", existing.PostalCode, candidate.PostalCode)
	diffString(&diff, "address", existing.Address, candidate.Address)
	diffFloat(&diff, "latitude", existing.Latitude, candidate.Latitude)
	diffFloat(&diff, "longitude", existing.Longitude, candidate.Longitude)
	diffString(&diff, "description", existing.Description, candidate.Description)
	diffString(&diff, "status", string(existing.Status), string(candidate.Status))
	diffInt64(&diff, "price_min", existing.PriceMin, candidate.PriceMin)
	diffInt64(&diff, "price_max", existing.PriceMax, candidate.PriceMax)
	diffInt64(&diff, "hoa_fees", existing.HOAFees, candidate.HOAFees)
	diffString(&diff, "market", existing.Market, candidate.Market)
	diffString(&diff, "source_url", existing.SourceURL, candidate.SourceURL)

	if added := missingStrings(existing.Amenities, candidate.Amenities); len(added) > 0 {
		diff = append(diff, FieldDiff{Field: "amenities", Old: jsonValue(existing.Amenities), New: jsonValue(added)})
	}
	if added := missingSchools(existing.Schools, candidate.Schools); len(added) > 0 {
		diff = append(diff, FieldDiff{Field: "schools", Old: jsonValue(existing.Schools), New: jsonValue(added)})
	}
	if added := missingCards(existing.BuilderCards, candidate.BuilderCards); len(added) > 0 {
		diff = append(diff, FieldDiff{Field: "builder_cards", Old: jsonValue(existing.BuilderCards), New: jsonValue(added)})
	}
	return diff
}

// DiffBuilder returns the field transitions candidate proposes over existing
func DiffBuilder(existing, candidate *Builder) []FieldDiff {
	var diff []FieldDiff
	diffString(&diff, "name", existing.Name, candidate.Name)
	diffString(&diff, "website", existing.Website, candidate.Website)
	diffString(&diff, "phone", existing.Phone, candidate.Phone)
	diffString(&diff, "city", existing.City, candidate.City)
	diffString(&diff, "state", existing.State, candidate.State)
	diffString(&diff, "description", existing.Description, candidate.Description)
	diffInt(&diff, "year_founded", existing.YearFounded, candidate.YearFounded)
	diffString(&diff, "source_url", existing.SourceURL, candidate.SourceURL)

	if added := missingStrings(existing.ServiceAreas, candidate.ServiceAreas); len(added) > 0 {
		diff = append(diff, FieldDiff{Field: "service_areas", Old: jsonValue(existing.ServiceAreas), New: jsonValue(added)})
	}
	return diff
}

// DiffProperty returns the field transitions candidate proposes over existing
func DiffProperty(existing, candidate *Property) []FieldDiff {
	var diff []FieldDiff
	diffString(&diff, "address1", existing.Address1, candidate.Address1)
	diffString(&diff, "address2", existing.Address2, candidate.Address2)
	diffString(&diff, "city", existing.City, candidate.City)
	diffString(&diff, "state", existing.State, candidate.State)
	diffString(&diff, "postal_code", existing.PostalCode, candidate.PostalCode)
	diffInt64(&diff, "price", existing.Price, candidate.Price)
	diffFloat(&diff, "beds", existing.Beds, candidate.Beds)
	diffFloat(&diff, "baths", existing.Baths, candidate.Baths)
	diffInt(&diff, "square_feet", existing.SquareFeet, candidate.SquareFeet)
	diffFloat(&diff, "lot_size", existing.LotSize, candidate.LotSize)
	diffString(&diff, "status", string(existing.Status), string(candidate.Status))
	diffString(&diff, "plan_name", existing.PlanName, candidate.PlanName)
	diffString(&diff, "source_url", existing.SourceURL, candidate.SourceURL)

	if added := missingStrings(existing.Images, candidate.Images); len(added) > 0 {
		diff = append(diff, FieldDiff{Field: "images", Old: jsonValue(existing.Images), New: jsonValue(added)})
	}
	return diff
}

// ApplyCommunityDiff mutates c per an approved diff. Collection entries
// merge their New members into the current set; scalars assign.
func ApplyCommunityDiff(c *Community, diff []FieldDiff) error {
	for _, d := range diff {
		switch d.Field {
		case "name":
			c.Name = d.New
		case "city":
			c.City = d.New
		case "state":
			c.State = d.New
		case "postal_code":
			c.PostalCode = d.New
		case "address":
			c.Address = d.New
		case "latitude":
			v, err := parseFloat(d)
			if err != nil {
				return err
			}
			c.Latitude = v
		case "longitude":
			v, err := parseFloat(d)
			if err != nil {
				return err
			}
			c.Longitude = v
		case "description":
			c.Description = d.New
		case "status":
			c.Status = CommunityStatus(d.New)
		case "price_min":
			v, err := parseInt64(d)
			if err != nil {
				return err
			}
			c.PriceMin = v
		case "price_max":
			v, err := parseInt64(d)
			if err != nil {
				return err
			}
			c.PriceMax = v
		case "hoa_fees":
			v, err := parseInt64(d)
			if err != nil {
				return err
			}
			c.HOAFees = v
		case "market":
			c.Market = d.New
		case "source_url":
			c.SourceURL = d.New
		case "amenities":
			var add []string
			if err := parseList(d, &add); err != nil {
				return err
			}
			c.Amenities = MergeStringSet(c.Amenities, add)
		case "schools":
			var add []School
			if err := parseList(d, &add); err != nil {
				return err
			}
			c.Schools = MergeSchools(c.Schools, add)
		case "builder_cards":
			var add []BuilderCard
			if err := parseList(d, &add); err != nil {
				return err
			}
			c.BuilderCards = MergeBuilderCards(c.BuilderCards, add)
		default:
			return fmt.Errorf("%w: community has no diffable field %q", ErrIntegrity, d.Field)
		}
	}
	return nil
}

// ApplyBuilderDiff mutates b per an approved diff
func ApplyBuilderDiff(b *Builder, diff []FieldDiff) error {
	for _, d := range diff {
		switch d.Field {
		case "name":
			b.Name = d.New
		case "website":
			b.Website = d.New
		case "phone":
			b.Phone = d.New
		case "city":
			b.City = d.New
		case "state":
			b.State = d.New
		case "description":
			b.Description = d.New
		case "year_founded":
			v, err := parseInt(d)
			if err != nil {
				return err
			}
			b.YearFounded = v
		case "source_url":
			b.SourceURL = d.New
		case "service_areas":
			var add []string
			if err := parseList(d, &add); err != nil {
				return err
			}
			b.ServiceAreas = MergeStringSet(b.ServiceAreas, add)
		default:
			return fmt.Errorf("%w: builder has no diffable field %q", ErrIntegrity, d.Field)
		}
	}
	return nil
}

// ApplyPropertyDiff mutates p per an approved diff. community_id and
// builder_id are linkage fields filled when an inventory run discovers
// where an orphaned property belongs.
func ApplyPropertyDiff(p *Property, diff []FieldDiff) error {
	for _, d := range diff {
		switch d.Field {
		case "community_id":
			p.CommunityID = d.New
		case "builder_id":
			p.BuilderID = d.New
		case "address1":
			p.Address1 = d.New
		case "address2":
			p.Address2 = d.New
		case "city":
			p.City = d.New
		case "state":
			p.State = d.New
		case "postal_code":
			p.PostalCode = d.New
		case "price":
			v, err := parseInt64(d)
			if err != nil {
				return err
			}
			p.Price = v
		case "beds":
			v, err := parseFloat(d)
			if err != nil {
				return err
			}
			p.Beds = v
		case "baths":
			v, err := parseFloat(d)
			if err != nil {
				return err
			}
			p.Baths = v
		case "square_feet":
			v, err := parseInt(d)
			if err != nil {
				return err
			}
			p.SquareFeet = v
		case "lot_size":
			v, err := parseFloat(d)
			if err != nil {
				return err
			}
			p.LotSize = v
		case "status":
			p.Status = PropertyStatus(d.New)
		case "plan_name":
			p.PlanName = d.New
		case "source_url":
			p.SourceURL = d.New
		case "images":
			var add []string
			if err := parseList(d, &add); err != nil {
				return err
			}
			p.Images = MergeStringSet(p.Images, add)
		default:
			return fmt.Errorf("%w: property has no diffable field %q", ErrIntegrity, d.Field)
		}
	}
	return nil
}

// Conflict fields guard identity (and price, for properties) against
// concurrent edits between diff time and apply time. A diff whose Old no
// longer matches the stored value on one of these fields is stale.

var (
	communityConflictFields = map[string]bool{"name": true, "city": true, "state": true}
	builderConflictFields   = map[string]bool{"name": true, "website": true}
	propertyConflictFields  = map[string]bool{"address1": true, "postal_code": true, "price": true}
)

// CommunityConflicts returns diffed identity fields whose stored value
// moved since the diff was computed
func CommunityConflicts(current *Community, diff []FieldDiff) []string {
	var conflicts []string
	for _, d := range diff {
		if !communityConflictFields[d.Field] {
			continue
		}
		var value string
		switch d.Field {
		case "name":
			value = current.Name
		case "city":
			value = current.City
		case "state":
			value = current.State
		}
		if value != d.Old {
			conflicts = append(conflicts, d.Field)
		}
	}
	return conflicts
}

// BuilderConflicts returns diffed identity fields whose stored value moved
func BuilderConflicts(current *Builder, diff []FieldDiff) []string {
	var conflicts []string
	for _, d := range diff {
		if !builderConflictFields[d.Field] {
			continue
		}
		var value string
		switch d.Field {
		case "name":
			value = current.Name
		case "website":
			value = current.Website
		}
		if value != d.Old {
			conflicts = append(conflicts, d.Field)
		}
	}
	return conflicts
}

// PropertyConflicts returns diffed identity/price fields whose stored
// value moved
func PropertyConflicts(current *Property, diff []FieldDiff) []string {
	var conflicts []string
	for _, d := range diff {
		if !propertyConflictFields[d.Field] {
			continue
		}
		var value string
		switch d.Field {
		case "address1":
			value = current.Address1
		case "postal_code":
			value = current.PostalCode
		case "price":
			value = int64Value(current.Price)
		}
		if value != d.Old {
			conflicts = append(conflicts, d.Field)
		}
	}
	return conflicts
}

// MergeStringSet unions add into current, keeping current order and
// appending unseen members in their incoming order. Matching is
// case-insensitive on the trimmed value.
func MergeStringSet(current, add []string) []string {
	seen := make(map[string]bool, len(current))
	for _, v := range current {
		seen[setKey(v)] = true
	}
	merged := current
	for _, v := range add {
		k := setKey(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, v)
	}
	return merged
}

// MergeSchools unions add into current, deduplicating by school name
func MergeSchools(current, add []School) []School {
	seen := make(map[string]bool, len(current))
	for _, s := range current {
		seen[setKey(s.Name)] = true
	}
	merged := current
	for _, s := range add {
		k := setKey(s.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, s)
	}
	return merged
}

// MergeBuilderCards unions add into current, deduplicating by card name.
// Incoming cards without an ID get one; existing cards keep their
// BuilderProfileID links untouched.
func MergeBuilderCards(current, add []BuilderCard) []BuilderCard {
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[setKey(c.Name)] = true
	}
	merged := current
	for _, c := range add {
		k := setKey(c.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		if c.CardID == "" {
			c.CardID = uuid.New().String()
		}
		merged = append(merged, c)
	}
	return merged
}

func setKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func missingStrings(current, candidate []string) []string {
	seen := make(map[string]bool, len(current))
	for _, v := range current {
		seen[setKey(v)] = true
	}
	var missing []string
	for _, v := range candidate {
		k := setKey(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		missing = append(missing, v)
	}
	return missing
}

func missingSchools(current, candidate []School) []School {
	seen := make(map[string]bool, len(current))
	for _, s := range current {
		seen[setKey(s.Name)] = true
	}
	var missing []School
	for _, s := range candidate {
		k := setKey(s.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		missing = append(missing, s)
	}
	return missing
}

func missingCards(current, candidate []BuilderCard) []BuilderCard {
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[setKey(c.Name)] = true
	}
	var missing []BuilderCard
	for _, c := range candidate {
		k := setKey(c.Name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		missing = append(missing, c)
	}
	return missing
}

func diffString(diff *[]FieldDiff, field, old, new string) {
	if new == "" || new == old {
		return
	}
	*diff = append(*diff, FieldDiff{Field: field, Old: old, New: new})
}

func diffInt64(diff *[]FieldDiff, field string, old, new int64) {
	if new == 0 || new == old {
		return
	}
	*diff = append(*diff, FieldDiff{Field: field, Old: int64Value(old), New: int64Value(new)})
}

func diffInt(diff *[]FieldDiff, field string, old, new int) {
	if new == 0 || new == old {
		return
	}
	*diff = append(*diff, FieldDiff{Field: field, Old: intValue(old), New: intValue(new)})
}

func diffFloat(diff *[]FieldDiff, field string, old, new float64) {
	if new == 0 || new == old {
		return
	}
	*diff = append(*diff, FieldDiff{Field: field, Old: floatValue(old), New: floatValue(new)})
}

// Zero values stringify to "" so an unset field reads as absent in the
// diff and round-trips through the conflict check.

func int64Value(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func intValue(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func floatValue(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func jsonValue(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func parseInt64(d FieldDiff) (int64, error) {
	if d.New == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(d.New, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s value %q is not an integer", ErrIntegrity, d.Field, d.New)
	}
	return v, nil
}

func parseInt(d FieldDiff) (int, error) {
	v, err := parseInt64(d)
	return int(v), err
}

func parseFloat(d FieldDiff) (float64, error) {
	if d.New == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(d.New, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %s value %q is not a number", ErrIntegrity, d.Field, d.New)
	}
	return v, nil
}

func parseList(d FieldDiff, out interface{}) error {
	if d.New == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(d.New), out); err != nil {
		return fmt.Errorf("%w: field %s value is not a valid list: %v", ErrIntegrity, d.Field, err)
	}
	return nil
}
