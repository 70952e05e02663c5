package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhaobenny/gasometer/internal/model"
)

func ev(role string, rig *string, cost float64, endedAt string) model.CostEvent {
	return model.CostEvent{SessionID: role + endedAt, Role: role, Rig: rig, CostUSD: cost, EndedAt: endedAt}
}

func TestTotals(t *testing.T) {
	assert.Equal(t, WindowTotal{}, Totals(nil))

	got := Totals([]model.CostEvent{
		ev("mayor", nil, 0.5, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 0.3, "2026-02-26T11:00:00Z"),
	})
	assert.InDelta(t, 0.8, got.TotalUSD, 1e-9)
	assert.Equal(t, 2, got.Sessions)
}

func TestByDayRole(t *testing.T) {
	rows := []model.CostEvent{
		ev("mayor", nil, 0.5, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 0.3, "2026-02-26T20:00:00-02:00"), // 22:00Z, same UTC day
		ev("polecat", nil, 1.0, "2026-02-26T12:00:00Z"),
		ev("mayor", nil, 2.0, "2026-02-25T23:30:00-05:00"), // 2026-02-26T04:30Z
		ev("mayor", nil, 0.7, "2026-02-25T10:00:00Z"),
	}

	got := ByDayRole(rows)
	require.Len(t, got, 3)

	assert.Equal(t, "2026-02-26", got[0].Date)
	assert.Equal(t, "mayor", got[0].Role)
	assert.InDelta(t, 2.8, got[0].TotalUSD, 1e-9)
	assert.Equal(t, 3, got[0].SessionCount)

	assert.Equal(t, "polecat", got[1].Role)
	assert.Equal(t, "2026-02-25", got[2].Date)
}

func TestByDayRole_ThreeGroups(t *testing.T) {
	rows := []model.CostEvent{
		ev("mayor", nil, 0.5, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 0.3, "2026-02-26T11:00:00Z"),
		ev("polecat", nil, 1.0, "2026-02-26T12:00:00Z"),
		ev("mayor", nil, 2.0, "2026-02-25T10:00:00Z"),
	}

	got := ByDayRole(rows)
	require.Len(t, got, 3)
	var found bool
	for _, d := range got {
		if d.Date == "2026-02-26" && d.Role == "mayor" {
			found = true
			assert.InDelta(t, 0.8, d.TotalUSD, 1e-9)
			assert.Equal(t, 2, d.SessionCount)
		}
	}
	assert.True(t, found)
}

func TestByRole(t *testing.T) {
	got := ByRole([]model.CostEvent{
		ev("polecat", nil, 1, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 2, "2026-02-26T10:00:00Z"),
		ev("polecat", nil, 3, "2026-02-26T11:00:00Z"),
	})
	assert.Equal(t, []RoleCost{
		{Role: "mayor", TotalUSD: 2, SessionCount: 1},
		{Role: "polecat", TotalUSD: 4, SessionCount: 2},
	}, got)
}

func TestByRig_KeepsNullGroup(t *testing.T) {
	got := ByRig([]model.CostEvent{
		ev("mayor", model.String("gasometer"), 1, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 2, "2026-02-26T10:00:00Z"),
		ev("mayor", model.String("(none)"), 4, "2026-02-26T10:00:00Z"),
		ev("mayor", nil, 8, "2026-02-26T11:00:00Z"),
	})
	require.Len(t, got, 3)

	assert.Equal(t, "(none)", *got[0].Rig)
	assert.Equal(t, 4.0, got[0].TotalUSD)
	assert.Equal(t, "gasometer", *got[1].Rig)
	assert.Nil(t, got[2].Rig)
	assert.Equal(t, 10.0, got[2].TotalUSD)
	assert.Equal(t, 2, got[2].SessionCount)

	data, err := json.Marshal(got[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"rig":null,"total_usd":10,"session_count":2}`, string(data))
}

func TestEmptyGroupsAreEmptySlices(t *testing.T) {
	assert.NotNil(t, ByDayRole(nil))
	assert.NotNil(t, ByRole(nil))
	assert.NotNil(t, ByRig(nil))
}
