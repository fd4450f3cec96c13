// -----------------------------------------------------------------------
// Market Catalog - Seed list of markets the pipeline should cover
// -----------------------------------------------------------------------

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// Market is one catalog entry. Name is the market key entities carry
// (e.g. "austin-tx"); City/State seed discovery filters.
type Market struct {
	Name     string `yaml:"name" json:"name"`
	City     string `yaml:"city" json:"city"`
	State    string `yaml:"state" json:"state"`
	Priority int    `yaml:"priority" json:"priority"`
}

// marketFile is the YAML document shape: a single top-level markets list
type marketFile struct {
	Markets []Market `yaml:"markets"`
}

// Catalog holds the merged market list from every catalog file.
// Lookups are case-insensitive on the market name; later files override
// earlier ones the way layered config files do.
type Catalog struct {
	markets []Market
	byName  map[string]Market
}

// Load reads every .yaml/.yml file under dir. A missing directory yields
// an empty catalog, not an error; unparseable files and invalid entries
// are skipped with a warning so one bad seed file never blocks startup.
func Load(dir string, logger arbor.ILogger) (*Catalog, error) {
	if logger == nil {
		logger = common.GetLogger()
	}
	cat := &Catalog{byName: make(map[string]Market)}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug().Str("dir", dir).Msg("Catalog directory does not exist, starting empty")
		return cat, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read catalog directory %s: %w", dir, err)
	}

	loaded := 0
	skipped := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to read catalog file")
			skipped++
			continue
		}

		var file marketFile
		if err := yaml.Unmarshal(content, &file); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Failed to parse catalog file")
			skipped++
			continue
		}

		for _, market := range file.Markets {
			market.Name = strings.TrimSpace(market.Name)
			market.State = strings.ToUpper(strings.TrimSpace(market.State))
			if market.Name == "" {
				logger.Warn().Str("file", name).Msg("Skipping catalog market without a name")
				skipped++
				continue
			}
			if len(market.State) != 2 {
				logger.Warn().
					Str("file", name).
					Str("market", market.Name).
					Str("state", market.State).
					Msg("Skipping catalog market: state must be a two-letter code")
				skipped++
				continue
			}
			if market.Priority < models.PriorityMin || market.Priority > models.PriorityMax {
				market.Priority = 0 // Enqueue default applies
			}
			cat.put(market)
			loaded++
		}
	}

	// Priority-first iteration keeps coverage reports and backfill sweeps
	// deterministic.
	sort.SliceStable(cat.markets, func(i, j int) bool {
		if cat.markets[i].Priority != cat.markets[j].Priority {
			return cat.markets[i].Priority > cat.markets[j].Priority
		}
		return cat.markets[i].Name < cat.markets[j].Name
	})

	logger.Info().
		Str("dir", dir).
		Int("markets", len(cat.markets)).
		Int("entries", loaded).
		Int("skipped", skipped).
		Msg("Market catalog loaded")
	return cat, nil
}

func (c *Catalog) put(market Market) {
	key := marketKey(market.Name)
	if _, exists := c.byName[key]; exists {
		for i := range c.markets {
			if marketKey(c.markets[i].Name) == key {
				c.markets[i] = market
				break
			}
		}
	} else {
		c.markets = append(c.markets, market)
	}
	c.byName[key] = market
}

// Markets returns the catalog entries, highest priority first
func (c *Catalog) Markets() []Market {
	out := make([]Market, len(c.markets))
	copy(out, c.markets)
	return out
}

// Get looks up a market by name, case-insensitively
func (c *Catalog) Get(name string) (Market, bool) {
	market, ok := c.byName[marketKey(name)]
	return market, ok
}

// Len returns the number of cataloged markets
func (c *Catalog) Len() int {
	return len(c.markets)
}

func marketKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
