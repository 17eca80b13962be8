// Package catalog enumerates the external providers queried for each run.
package catalog

import (
	"fmt"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// Catalog produces the ordered set of provider profiles for a fixed count.
type Catalog struct {
	count int
}

// New creates a catalog of count providers. A non-positive count yields an
// empty catalog.
func New(count int) *Catalog {
	return &Catalog{count: max(count, 0)}
}

// Size returns the number of providers in the catalog.
func (c *Catalog) Size() int {
	return c.count
}

// All returns every provider profile in catalog order. Profiles are numbered
// from 1 and their codes are zero-padded to two digits.
func (c *Catalog) All() []model.ProviderProfile {
	profiles := make([]model.ProviderProfile, 0, c.count)
	for n := 1; n <= c.count; n++ {
		profiles = append(profiles, Profile(n))
	}
	return profiles
}

// Profile returns the profile of provider number n.
func Profile(n int) model.ProviderProfile {
	return model.ProviderProfile{
		Code: fmt.Sprintf("LENDER-%02d", n),
		Host: fmt.Sprintf("api.lender-%02d.mock.finance.local", n),
		URL:  fmt.Sprintf("/v%d/loan-limit/check/%02d", n%5+1, n),
	}
}
