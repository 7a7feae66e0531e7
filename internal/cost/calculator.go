// Package cost estimates spend for external API usage.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Google GoogleRate `yaml:"google" mapstructure:"google"`
}

// GoogleRate holds Google Geocoding API pricing (USD per request).
type GoogleRate struct {
	PerRequest float64 `yaml:"per_request" mapstructure:"per_request"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Geocode returns the cost of n geocoding requests.
func (c *Calculator) Geocode(n int64) float64 {
	return float64(n) * c.rates.Google.PerRequest
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		// Google's list price: $5 per 1000 geocoding requests.
		Google: GoogleRate{PerRequest: 0.005},
	}
}
