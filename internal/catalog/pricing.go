package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultCost is charged when a model declares no usable pricing rule.
const DefaultCost int64 = 10

// Pricing is a model's price table. Standard applies when present, Pro otherwise.
type Pricing struct {
	Standard   *PriceTier `json:"standard,omitempty" yaml:"standard,omitempty"`
	Pro        *PriceTier `json:"pro,omitempty" yaml:"pro,omitempty"`
	MinCredits int64      `json:"min_credits,omitempty" yaml:"min_credits,omitempty"`
}

// PriceTier holds at most one meaningful rule; the first non-zero field in
// declaration order wins.
type PriceTier struct {
	Flat                int64 `json:"credits,omitempty" yaml:"credits,omitempty"`
	CreditsPerImage     int64 `json:"credits_per_image,omitempty" yaml:"credits_per_image,omitempty"`
	CreditsPerSecond    int64 `json:"credits_per_second,omitempty" yaml:"credits_per_second,omitempty"`
	CreditsPer1000Chars int64 `json:"credits_per_1000_chars,omitempty" yaml:"credits_per_1000_chars,omitempty"`
}

var (
	imageCountKeys = []string{"num_images", "n", "num_outputs"}
	durationKeys   = []string{"duration"}
	textKeys       = []string{"text", "prompt", "input"}
)

// MaxUnits bounds any per-unit count read from request parameters.
const MaxUnits = 1_000_000

// ErrInvalidUnits is returned when a unit count cannot be priced: not a
// finite number, above MaxUnits, or a product that overflows.
var ErrInvalidUnits = errors.New("invalid unit count")

// Cost prices a request. params should already carry defaults so the price
// matches what is dispatched.
func (m *ModelDescriptor) Cost(params map[string]any) (int64, error) {
	p := m.Pricing
	if p == nil {
		return DefaultCost, nil
	}
	tier := p.Standard
	if tier == nil {
		tier = p.Pro
	}

	cost := DefaultCost
	if tier != nil {
		var (
			price, units int64
			err          error
		)
		switch {
		case tier.Flat > 0:
			price, units = tier.Flat, 1
		case tier.CreditsPerImage > 0:
			price = tier.CreditsPerImage
			units, err = unitCount(params, imageCountKeys)
		case tier.CreditsPerSecond > 0:
			price = tier.CreditsPerSecond
			units, err = unitCount(params, durationKeys)
		case tier.CreditsPer1000Chars > 0:
			price, units = tier.CreditsPer1000Chars, charUnits(params)
		}
		if err != nil {
			return 0, err
		}
		if price > 0 {
			if units > math.MaxInt64/price {
				return 0, fmt.Errorf("%w: %d units at %d credits", ErrInvalidUnits, units, price)
			}
			cost = price * units
		}
	}

	if cost < p.MinCredits {
		cost = p.MinCredits
	}
	return cost, nil
}

// unitCount reads the first positive numeric value among keys, rounding
// fractions up. It defaults to 1.
func unitCount(params map[string]any, keys []string) (int64, error) {
	for _, k := range keys {
		n, ok := toNumber(params[k])
		if !ok {
			continue
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%w: %s is not a finite number", ErrInvalidUnits, k)
		}
		if n <= 0 {
			continue
		}
		if n > MaxUnits {
			return 0, fmt.Errorf("%w: %s exceeds %d", ErrInvalidUnits, k, MaxUnits)
		}
		return int64(math.Ceil(n)), nil
	}
	return 1, nil
}

// charUnits counts started blocks of 1000 characters in the first text field.
func charUnits(params map[string]any) int64 {
	for _, k := range textKeys {
		s, ok := params[k].(string)
		if !ok || s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		return int64((n + 999) / 1000)
	}
	return 1
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		// Durations arrive as "5" or "10s" from some clients.
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "s"), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
