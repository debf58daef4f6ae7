package postproc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"

	"github.com/vk/sweepgridgo/internal/param"
)

const kindRounding = "rounding"

// RoundingRule rounds parameters whose names match Pattern to Digits decimals.
type RoundingRule struct {
	Pattern string
	Digits  int

	re *regexp.Regexp
}

// Rounding rounds numeric values half-up. Zero digits yields an integer
// string; with ForcePrecision a fixed-width decimal string is produced,
// otherwise the rounded number is kept as a float.
type Rounding struct {
	stateless
	rules          []RoundingRule
	forcePrecision bool
}

// NewRounding creates a Rounding stage.
func NewRounding(forcePrecision bool, rules ...RoundingRule) (*Rounding, error) {
	for i := range rules {
		if rules[i].Digits < 0 {
			return nil, fmt.Errorf("negative decimal digits for %q", rules[i].Pattern)
		}
		re, err := compileMatch(rules[i].Pattern)
		if err != nil {
			return nil, err
		}
		rules[i].re = re
	}
	return &Rounding{rules: rules, forcePrecision: forcePrecision}, nil
}

func parseRounding(raw json.RawMessage) (Postprocessor, error) {
	var doc struct {
		Round          json.RawMessage `json:"round"`
		Match          string          `json:"match"`
		DecimalDigits  *int            `json:"decimal_digits"`
		ForcePrecision bool            `json:"force_precision"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	if len(doc.Round) == 0 {
		if doc.DecimalDigits == nil {
			return nil, errors.New(`either "round" or "match"/"decimal_digits" is required`)
		}
		return NewRounding(doc.ForcePrecision, RoundingRule{Pattern: doc.Match, Digits: *doc.DecimalDigits})
	}
	rules, err := roundingRules(doc.Round)
	if err != nil {
		return nil, err
	}
	return NewRounding(doc.ForcePrecision, rules...)
}

func roundingRules(raw json.RawMessage) ([]RoundingRule, error) {
	entries, err := decodeOrdered(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid round map: %w", err)
	}
	rules := make([]RoundingRule, 0, len(entries))
	for _, e := range entries {
		var digits float64
		if err := json.Unmarshal(e.Value, &digits); err != nil {
			return nil, fmt.Errorf("invalid decimal digits for %q: %w", e.Key, err)
		}
		rules = append(rules, RoundingRule{Pattern: e.Key, Digits: int(digits)})
	}
	return rules, nil
}

func (r *Rounding) Kind() string { return kindRounding }

func (r *Rounding) Process(params param.List) param.List {
	out := params.Clone()
	for i := range out {
		for _, rule := range r.rules {
			if rule.re.MatchString(out[i].Name) {
				out[i] = r.round(out[i], rule.Digits)
			}
		}
	}
	return out
}

// round leaves intervals, flags and non-numeric values untouched.
func (r *Rounding) round(p param.Parameter, digits int) param.Parameter {
	if p.IsInterval() || p.Value == nil {
		return p
	}
	v, ok := param.Float(p.Value)
	if !ok {
		return p
	}

	rounded := RoundHalfUp(v, digits)
	switch {
	case digits == 0:
		p.Value = strconv.FormatFloat(rounded, 'f', 0, 64)
	case r.forcePrecision:
		p.Value = strconv.FormatFloat(rounded, 'f', digits, 64)
	default:
		p.Value = rounded
	}
	return p
}

// RoundHalfUp rounds v to digits decimals, ties away from negative infinity.
// The arithmetic is exact on the shortest decimal representation of v, so
// 2.345 rounds to 2.35 even though its binary value is slightly lower.
func RoundHalfUp(v float64, digits int) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'g', -1, 64))
	if !ok {
		p := math.Pow10(digits)
		return math.Floor(v*p+0.5) / p
	}
	r.Mul(r, new(big.Rat).SetInt(scale))
	r.Add(r, big.NewRat(1, 2))

	// Div is Euclidean and the denominator is positive, so this is floor.
	q := new(big.Int).Div(r.Num(), r.Denom())
	f, _ := new(big.Rat).SetFrac(q, scale).Float64()
	return f
}

func (r *Rounding) MarshalJSON() ([]byte, error) {
	obj := make(orderedObject, 0, len(r.rules))
	for _, rule := range r.rules {
		obj = append(obj, entry{Key: rule.Pattern, Value: json.RawMessage(strconv.Itoa(rule.Digits))})
	}
	return json.Marshal(struct {
		Type           string        `json:"type"`
		ForcePrecision bool          `json:"force_precision"`
		Round          orderedObject `json:"round"`
	}{kindRounding, r.forcePrecision, obj})
}
