// Package aggregate groups cost events into totals. Every function is pure:
// rows in, groups out.
package aggregate

import (
	"cmp"
	"slices"

	"github.com/zhaobenny/gasometer/internal/model"
)

// WindowTotal is the cost of one summary window
type WindowTotal struct {
	TotalUSD float64 `json:"total_usd"`
	Sessions int     `json:"sessions"`
}

// DailyCost is the cost of one role on one UTC day
type DailyCost struct {
	Date         string  `json:"date"`
	Role         string  `json:"role"`
	TotalUSD     float64 `json:"total_usd"`
	SessionCount int     `json:"session_count"`
}

// RoleCost is the cost of one role
type RoleCost struct {
	Role         string  `json:"role"`
	TotalUSD     float64 `json:"total_usd"`
	SessionCount int     `json:"session_count"`
}

// RigCost is the cost of one rig. Rig is nil for events without a rig.
type RigCost struct {
	Rig          *string `json:"rig"`
	TotalUSD     float64 `json:"total_usd"`
	SessionCount int     `json:"session_count"`
}

// Totals sums cost and counts rows
func Totals(rows []model.CostEvent) WindowTotal {
	var t WindowTotal
	for _, r := range rows {
		t.TotalUSD += r.CostUSD
		t.Sessions++
	}
	return t
}

// DayOf returns the UTC calendar date of the event's end time
func DayOf(e model.CostEvent) string {
	if t, err := e.EndedAtTime(); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	if len(e.EndedAt) >= 10 {
		return e.EndedAt[:10]
	}
	return e.EndedAt
}

// ByDayRole groups by (UTC date, role), newest day first then role
func ByDayRole(rows []model.CostEvent) []DailyCost {
	type key struct{ date, role string }
	grouped := make(map[key]*DailyCost)

	for _, r := range rows {
		k := key{DayOf(r), r.Role}
		agg, ok := grouped[k]
		if !ok {
			agg = &DailyCost{Date: k.date, Role: k.role}
			grouped[k] = agg
		}
		agg.TotalUSD += r.CostUSD
		agg.SessionCount++
	}

	results := make([]DailyCost, 0, len(grouped))
	for _, agg := range grouped {
		results = append(results, *agg)
	}
	slices.SortFunc(results, func(a, b DailyCost) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Role, b.Role)
	})
	return results
}

// ByRole groups by role
func ByRole(rows []model.CostEvent) []RoleCost {
	grouped := make(map[string]*RoleCost)
	for _, r := range rows {
		agg, ok := grouped[r.Role]
		if !ok {
			agg = &RoleCost{Role: r.Role}
			grouped[r.Role] = agg
		}
		agg.TotalUSD += r.CostUSD
		agg.SessionCount++
	}

	results := make([]RoleCost, 0, len(grouped))
	for _, agg := range grouped {
		results = append(results, *agg)
	}
	slices.SortFunc(results, func(a, b RoleCost) int { return cmp.Compare(a.Role, b.Role) })
	return results
}

// ByRig groups by rig. Events with no rig form their own group, which sorts
// last and is never merged with a named rig.
func ByRig(rows []model.CostEvent) []RigCost {
	grouped := make(map[string]*RigCost)
	var none *RigCost

	for _, r := range rows {
		var agg *RigCost
		if r.Rig == nil {
			if none == nil {
				none = &RigCost{}
			}
			agg = none
		} else {
			var ok bool
			if agg, ok = grouped[*r.Rig]; !ok {
				name := *r.Rig
				agg = &RigCost{Rig: &name}
				grouped[name] = agg
			}
		}
		agg.TotalUSD += r.CostUSD
		agg.SessionCount++
	}

	results := make([]RigCost, 0, len(grouped)+1)
	for _, agg := range grouped {
		results = append(results, *agg)
	}
	slices.SortFunc(results, func(a, b RigCost) int { return cmp.Compare(*a.Rig, *b.Rig) })
	if none != nil {
		results = append(results, *none)
	}
	return results
}
