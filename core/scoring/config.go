package scoring

// Config holds the scoring weights and normalization constants. The defaults
// mirror the production tuning; tests override them per scenario.
type Config struct {
	// MaxDistanceM normalizes the distance score: a carrier at this distance
	// scores zero on the distance component.
	MaxDistanceM float64 `json:"max_distance_m"`
	// MaxPriceNorm normalizes the price score. It is a flat constant
	// independent of market price ranges.
	MaxPriceNorm float64 `json:"max_price_norm"`
	// DefaultWeightKg substitutes for a missing estimated weight in price
	// estimation.
	DefaultWeightKg float64 `json:"default_weight_kg"`

	DistanceWeight    float64 `json:"distance_weight"`
	PriceWeight       float64 `json:"price_weight"`
	ReliabilityWeight float64 `json:"reliability_weight"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDistanceM:      50000,
		MaxPriceNorm:      100000,
		DefaultWeightKg:   1000,
		DistanceWeight:    0.3,
		PriceWeight:       0.4,
		ReliabilityWeight: 0.3,
	}
}

// SetDefaults fills zero fields with the production defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.MaxDistanceM <= 0 {
		c.MaxDistanceM = d.MaxDistanceM
	}
	if c.MaxPriceNorm <= 0 {
		c.MaxPriceNorm = d.MaxPriceNorm
	}
	if c.DefaultWeightKg <= 0 {
		c.DefaultWeightKg = d.DefaultWeightKg
	}
	if c.DistanceWeight == 0 && c.PriceWeight == 0 && c.ReliabilityWeight == 0 {
		c.DistanceWeight = d.DistanceWeight
		c.PriceWeight = d.PriceWeight
		c.ReliabilityWeight = d.ReliabilityWeight
	}
}
