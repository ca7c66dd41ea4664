// Package premium splits an enrollment premium across a principal's
// dependents according to a percentage expression such as "1:50,2:30,REST:10".
package premium

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// RestKey is the catch-all label, matched case-insensitively.
const RestKey = "REST"

// Expression is a parsed percentage map. Percentages are independent per
// ordinal and are not normalized to 100.
type Expression struct {
	Ordinals map[int]float64
	Rest     *float64
}

// PercentFor returns the share for a 1-based ordinal.
func (e Expression) PercentFor(ordinal int) float64 {
	if p, ok := e.Ordinals[ordinal]; ok {
		return p
	}
	if e.Rest != nil {
		return *e.Rest
	}
	return 0
}

// ParseExpression reads comma-separated key:percent pairs. Well-formed pairs
// are always returned; malformed ones are reported together in the error.
func ParseExpression(s string) (Expression, error) {
	expr := Expression{Ordinals: make(map[int]float64)}

	var errs []error
	for _, raw := range strings.Split(s, ",") {
		pair := strings.TrimSpace(raw)
		if pair == "" {
			continue
		}

		key, value, found := strings.Cut(pair, ":")
		if !found {
			errs = append(errs, fmt.Errorf("pair %q: missing ':'", pair))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSuffix(strings.TrimSpace(value), "%")

		percent, err := strconv.ParseFloat(value, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("pair %q: invalid percent", pair))
			continue
		}

		if strings.EqualFold(key, RestKey) {
			p := percent
			expr.Rest = &p
			continue
		}

		ordinal, err := strconv.Atoi(key)
		if err != nil || ordinal < 1 {
			errs = append(errs, fmt.Errorf("pair %q: key must be a positive ordinal or %s", pair, RestKey))
			continue
		}
		expr.Ordinals[ordinal] = percent
	}

	return expr, errors.Join(errs...)
}

// Member is one dependent as seen by the calculator.
type Member struct {
	Name     string
	Relation string
	Skipping bool
}

type Row struct {
	Ordinal  int
	Name     string
	Relation string
	Percent  float64
	Amount   float64
}

type Breakdown struct {
	Rows    []Row
	Annual  float64
	Monthly float64
}

// Compute assigns contiguous ordinals to non-skipping members in input order
// and prices each one as base * percent / 100.
func Compute(members []Member, base float64, expr Expression) Breakdown {
	b := Breakdown{Rows: make([]Row, 0, len(members))}

	ordinal := 0
	for _, m := range members {
		if m.Skipping {
			continue
		}
		ordinal++
		percent := expr.PercentFor(ordinal)
		amount := base * percent / 100

		b.Rows = append(b.Rows, Row{
			Ordinal:  ordinal,
			Name:     m.Name,
			Relation: m.Relation,
			Percent:  percent,
			Amount:   amount,
		})
		b.Annual += amount
	}
	b.Monthly = b.Annual / 12
	return b
}

// ComputeString parses expression and computes. A parse error is returned
// alongside the breakdown built from the pairs that did parse.
func ComputeString(members []Member, base float64, expression string) (Breakdown, error) {
	expr, err := ParseExpression(expression)
	return Compute(members, base, expr), err
}

// FormatAmount renders a currency amount with grouping and two decimals.
func FormatAmount(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// FormatPercent drops a trailing ".00".
func FormatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
