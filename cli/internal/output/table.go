package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zhaobenny/gasometer/internal/aggregate"
)

const (
	compactThreshold = 80 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	str := strconv.FormatInt(n, 10)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// FormatCost formats a cost value as currency
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}

// PrintSummary prints the rolling window totals
func PrintSummary(w io.Writer, today, week, month aggregate.WindowTotal) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-12s  %10s  %10s\n", "Window", "Sessions", "Cost")
	fmt.Fprintln(w, strings.Repeat("─", 12+2+10+2+10))
	for _, row := range []struct {
		name string
		t    aggregate.WindowTotal
	}{
		{"Today", today},
		{"Last 7 days", week},
		{"This month", month},
	} {
		fmt.Fprintf(w, "%-12s  %10s  %10s\n", row.name, FormatNumber(int64(row.t.Sessions)), FormatCost(row.t.TotalUSD))
	}
	fmt.Fprintln(w)
}

// PrintRoles prints per-role totals
func PrintRoles(w io.Writer, roles []aggregate.RoleCost) {
	keys := make([]string, len(roles))
	for i, r := range roles {
		keys[i] = displayRole(r.Role)
	}
	printBreakdown(w, "Role", keys, func(i int) (int, float64) {
		return roles[i].SessionCount, roles[i].TotalUSD
	})
}

// PrintRigs prints per-rig totals. Events without a rig show as "(none)".
func PrintRigs(w io.Writer, rigs []aggregate.RigCost) {
	keys := make([]string, len(rigs))
	for i, r := range rigs {
		keys[i] = "(none)"
		if r.Rig != nil {
			keys[i] = *r.Rig
		}
	}
	printBreakdown(w, "Rig", keys, func(i int) (int, float64) {
		return rigs[i].SessionCount, rigs[i].TotalUSD
	})
}

func displayRole(role string) string {
	if role == "" {
		return "(empty)"
	}
	return role
}

func printBreakdown(w io.Writer, title string, keys []string, row func(i int) (int, float64)) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "No cost data found.")
		return
	}

	keyWidth := max(len(title), 10)
	for _, k := range keys {
		keyWidth = max(keyWidth, len(k))
	}
	rule := strings.Repeat("─", keyWidth+2+10+2+10)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-*s  %10s  %10s\n", keyWidth, title, "Sessions", "Cost")
	fmt.Fprintln(w, rule)

	var sessions int
	var cost float64
	for i, k := range keys {
		n, c := row(i)
		sessions += n
		cost += c
		fmt.Fprintf(w, "%-*s  %10s  %10s\n", keyWidth, k, FormatNumber(int64(n)), FormatCost(c))
	}

	if len(keys) > 1 {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%-*s  %10s  %10s\n", keyWidth, "Total", FormatNumber(int64(sessions)), FormatCost(cost))
	}
	fmt.Fprintln(w)
}

// PrintDaily prints per-day per-role totals. Compact mode drops the session
// column and truncates long role names.
func PrintDaily(w io.Writer, days []aggregate.DailyCost, opts TableOptions) {
	if len(days) == 0 {
		fmt.Fprintln(w, "No cost data found.")
		return
	}

	compact := shouldUseCompact(w, opts)
	roleWidth := 10
	for _, d := range days {
		roleWidth = max(roleWidth, len(displayRole(d.Role)))
	}
	if compact && roleWidth > 12 {
		roleWidth = 12
	}

	fmt.Fprintln(w)
	if compact {
		fmt.Fprintf(w, "%-10s  %-*s  %10s\n", "Date", roleWidth, "Role", "Cost")
		fmt.Fprintln(w, strings.Repeat("─", 10+2+roleWidth+2+10))
	} else {
		fmt.Fprintf(w, "%-10s  %-*s  %10s  %10s\n", "Date", roleWidth, "Role", "Sessions", "Cost")
		fmt.Fprintln(w, strings.Repeat("─", 10+2+roleWidth+2+10+2+10))
	}

	var total float64
	for _, d := range days {
		role := displayRole(d.Role)
		total += d.TotalUSD
		if compact {
			if len(role) > roleWidth {
				role = role[:roleWidth]
			}
			fmt.Fprintf(w, "%-10s  %-*s  %10s\n", d.Date, roleWidth, role, FormatCost(d.TotalUSD))
			continue
		}
		fmt.Fprintf(w, "%-10s  %-*s  %10s  %10s\n", d.Date, roleWidth, role, FormatNumber(int64(d.SessionCount)), FormatCost(d.TotalUSD))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %s\n", FormatCost(total))
	if compact {
		fmt.Fprintln(w, "(Compact mode - expand terminal for full view)")
	}
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
