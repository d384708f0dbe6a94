package subscription

import (
	"encoding/json"
	"io/ioutil"

	"github.com/zllovesuki/bmc/account"

	extErrors "github.com/pkg/errors"
)

// CatalogEntry maps one Stripe Price to a plan tier
type CatalogEntry struct {
	PriceID string       `json:"priceId"`
	Plan    account.Plan `json:"plan"`
}

// Catalog resolves Stripe Price IDs into plan tiers. The mapping is
// injected at construction so tests can substitute fixtures.
type Catalog struct {
	entries    []CatalogEntry
	priceIndex map[string]int
}

// NewCatalog returns a Catalog from the given entries
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	index := make(map[string]int)
	for k, e := range entries {
		if len(e.PriceID) == 0 {
			return nil, extErrors.Errorf("catalog entry %d has an empty priceId", k)
		}
		if !e.Plan.Valid() {
			return nil, extErrors.Errorf("catalog entry %d has invalid plan %q", k, e.Plan)
		}
		index[e.PriceID] = k + 1
	}
	return &Catalog{
		entries:    entries,
		priceIndex: index,
	}, nil
}

// LoadCatalogFromFile will read the price to plan mapping from a JSON file
func LoadCatalogFromFile(filename string) (*Catalog, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open catalog JSON file")
	}
	entries := make([]CatalogEntry, 0, 2)
	if err := json.Unmarshal(jsonBytes, &entries); err != nil {
		return nil, extErrors.Wrap(err, "Invalid catalog JSON file")
	}
	return NewCatalog(entries)
}

// TierForPrice returns the plan tier for a Stripe Price ID. An
// unrecognized price maps to the lowest tier instead of failing.
func (c *Catalog) TierForPrice(priceID string) account.Plan {
	index := c.priceIndex[priceID]
	if index == 0 {
		return account.PlanFree
	}
	return c.entries[index-1].Plan
}

// Entries returns the defined catalog entries
func (c *Catalog) Entries() []CatalogEntry {
	return c.entries
}
