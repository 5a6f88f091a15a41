package parser

import (
	"fmt"
	"math"

	"github.com/jhendriks/go-price-tracker/models"
)

// Bounds is the plausibility envelope for validated prices. Max <= 0
// disables the upper bound.
type Bounds struct {
	Min float64
	Max float64
}

// Normalize scales a candidate price by the site divisor, rounds to
// currency precision, and applies the plausibility envelope. The returned
// reason is empty for an accepted price; a non-empty reason means the
// value was rejected and must be treated like an extraction failure.
func Normalize(cand models.Candidate, divisor float64, bounds Bounds) (float64, string) {
	if divisor <= 0 {
		divisor = 1
	}
	price := math.Round(cand.Price/divisor*100) / 100

	if price <= 0 {
		return price, fmt.Sprintf("non-positive price %.2f", price)
	}
	if price < bounds.Min {
		return price, fmt.Sprintf("below minimum plausible price (%.2f < %.2f)", price, bounds.Min)
	}
	if bounds.Max > 0 && price > bounds.Max {
		return price, fmt.Sprintf("above maximum plausible price (%.2f > %.2f)", price, bounds.Max)
	}
	return price, ""
}
