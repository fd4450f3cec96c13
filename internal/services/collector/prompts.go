// -----------------------------------------------------------------------
// Collection Prompts - Per-job-type prompt templates and response cleanup
// -----------------------------------------------------------------------

package collector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/praedium/internal/models"
)

// defaultMaxResults bounds discovery runs when the spec does not set one
const defaultMaxResults = 20

// renderPrompt builds the collection prompt for one job. Anchored jobs
// carry their entity's identifying fields in the spec; see enrichSpec.
func renderPrompt(jobType models.JobType, spec *models.JobSpec) (string, error) {
	switch jobType {
	case models.JobTypeCommunityDiscovery:
		return communityDiscoveryPrompt(spec), nil
	case models.JobTypeCommunityDetail:
		return communityDetailPrompt(spec), nil
	case models.JobTypeCommunityInventory:
		return communityInventoryPrompt(spec), nil
	case models.JobTypeBuilderDiscovery:
		return builderDiscoveryPrompt(spec), nil
	case models.JobTypeBuilderDetail:
		return builderDetailPrompt(spec), nil
	case models.JobTypePropertyUpdate:
		return propertyUpdatePrompt(spec), nil
	default:
		return "", fmt.Errorf("no prompt template for job type %q", jobType)
	}
}

const responseRules = `Rules:
- Respond with a single JSON document and nothing else: no prose, no markdown fences.
- Prices are whole US dollars; hoa_fees is dollars per month.
- Omit or null any field you cannot verify. Never invent values.
- Set confidence between 0.0 and 1.0 on each record based on source quality.`

const communityFields = `    "name": "<community name>",
    "city": "<city>",
    "state": "<2-letter state code>",
    "postal_code": "<zip, omit if unknown>",
    "address": "<sales office street address, omit if unknown>",
    "latitude": 0.0,
    "longitude": 0.0,
    "description": "<one paragraph summary>",
    "status": "<active | coming_soon | sold_out>",
    "price_min": 0,
    "price_max": 0,
    "hoa_fees": 0,
    "amenities": ["<amenity>"],
    "schools": [{"name": "", "district": "", "level": "<elementary | middle | high>", "rating": 0.0}],
    "builders": [{"name": "", "website": "", "phone": ""}],
    "source_url": "<page the data came from>",
    "confidence": 0.0`

const builderFields = `    "name": "<builder name>",
    "website": "<company website>",
    "phone": "<sales phone, omit if unknown>",
    "city": "<headquarters city>",
    "state": "<2-letter state code>",
    "description": "<one paragraph summary>",
    "year_founded": 0,
    "service_areas": ["<metro area>"],
    "source_url": "<page the data came from>",
    "confidence": 0.0`

const propertyFields = `    "address1": "<street address>",
    "address2": "<unit, omit if none>",
    "city": "<city>",
    "state": "<2-letter state code>",
    "postal_code": "<zip>",
    "price": 0,
    "beds": 0.0,
    "baths": 0.0,
    "square_feet": 0,
    "lot_size": 0.0,
    "status": "<for_sale | pending | sold | off_market>",
    "plan_name": "<floor plan name, omit if unknown>",
    "images": ["<image url>"],
    "source_url": "<listing url>",
    "confidence": 0.0`

func communityDiscoveryPrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`Find up to %d new-home or master-planned communities matching this search:

%s

Respond with JSON in exactly this shape:
{
  "communities": [{
%s
  }]
}

%s`, maxResults(spec), describeScope(spec), communityFields, responseRules)
}

func communityDetailPrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`Collect the complete profile of one residential community:

%s

Fill every field you can verify, including all amenities, zoned schools,
and every builder selling in the community.

Respond with JSON in exactly this shape:
{
  "community": {
%s
  }
}

%s`, describeScope(spec), communityFields, responseRules)
}

func communityInventoryPrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`List the homes currently offered for sale inside this community:

%s

Include quick move-in homes and to-be-built listings with a concrete address.

Respond with JSON in exactly this shape:
{
  "properties": [{
%s
  }]
}

%s`, describeScope(spec), propertyFields, responseRules)
}

func builderDiscoveryPrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`Find up to %d home builders matching this search:

%s

Respond with JSON in exactly this shape:
{
  "builders": [{
%s
  }]
}

%s`, maxResults(spec), describeScope(spec), builderFields, responseRules)
}

func builderDetailPrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`Collect the complete company profile of one home builder:

%s

Respond with JSON in exactly this shape:
{
  "builder": {
%s
  }
}

%s`, describeScope(spec), builderFields, responseRules)
}

func propertyUpdatePrompt(spec *models.JobSpec) string {
	return fmt.Sprintf(`Refresh the listing status and price of one home:

%s

Report the current asking price and sale status along with any other
field that changed.

Respond with JSON in exactly this shape:
{
  "property": {
%s
  }
}

%s`, describeTarget(spec), propertyFields, responseRules)
}

// describeScope renders the search constraints as prompt bullet lines
func describeScope(spec *models.JobSpec) string {
	f := spec.SearchFilters
	var lines []string
	if f.CommunityName != "" {
		lines = append(lines, "- Community: "+f.CommunityName)
	}
	if f.BuilderName != "" {
		lines = append(lines, "- Builder: "+f.BuilderName)
	}
	if f.City != "" {
		lines = append(lines, "- City: "+f.City)
	}
	if f.State != "" {
		lines = append(lines, "- State: "+f.State)
	}
	if f.Market != "" {
		lines = append(lines, "- Market: "+f.Market)
	}
	if f.Query != "" {
		lines = append(lines, "- Context: "+f.Query)
	}
	if spec.TargetURL != "" {
		lines = append(lines, "- Source page: "+spec.TargetURL)
	}
	if len(lines) == 0 {
		return "- No scope restrictions"
	}
	return strings.Join(lines, "\n")
}

// describeTarget renders the anchored property's identifying fields,
// which enrichSpec copies into the spec params
func describeTarget(spec *models.JobSpec) string {
	var lines []string
	for _, key := range []string{"address1", "address2", "city", "state", "postal_code", "plan_name"} {
		if v := spec.Params[key]; v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", strings.ReplaceAll(key, "_", " "), v))
		}
	}
	if spec.TargetURL != "" {
		lines = append(lines, "- Listing page: "+spec.TargetURL)
	}
	if len(lines) == 0 {
		return "- No identifying details available"
	}
	return strings.Join(lines, "\n")
}

func maxResults(spec *models.JobSpec) int {
	if n := spec.SearchFilters.MaxResults; n > 0 {
		return n
	}
	return defaultMaxResults
}

// Models wrap JSON in markdown fences despite instructions often enough
// that cleanup has to handle both fenced and bare responses.
var fencePattern = regexp.MustCompile("(?s)^\\s*```(?:json|JSON)?\\s*\\n?(.*?)\\n?\\s*```\\s*$")

// cleanResponse strips markdown code fences and surrounding whitespace
func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
