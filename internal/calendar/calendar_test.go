package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/domain"
)

func TestStandardTitle(t *testing.T) {
	assert.Equal(t, "BAG_A_BASE", StandardTitle(" bag  a ", "Base"))
	assert.Equal(t, "BAG_A", StandardTitle("Bag A", "  "))
}

func TestProjectTask(t *testing.T) {
	item := &domain.ProductionItem{ID: "100-1", OrderID: "100", Position: 1, Project: "Bag A", Component: "Tapa", Material: "PP", Quantity: 500}
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	tasks := []domain.ProcessTask{
		{ID: "p", ItemID: item.ID, Item: item, Kind: domain.ProcessPrint, Plant: domain.PlantProduction, Resource: "IMPRESION_01", Hours: 2, Priority: domain.PriorityHigh, Status: domain.StatusPending, Automatic: true, Start: start, End: start.Add(time.Hour)},
		{ID: "a", ItemID: item.ID, Item: item, Kind: domain.ProcessAssembly, Plant: domain.PlantAssembly, Resource: "MOEX", DependsOn: []string{"p"}, Hours: 1},
	}
	events := Project(tasks)
	require.Len(t, events, 2)

	p := events[0]
	assert.Equal(t, "p", p.ID)
	assert.Equal(t, "BAG_A_TAPA", p.Title)
	assert.Equal(t, "IMPRESION_01", p.Machine)
	assert.Empty(t, p.Line)
	assert.Equal(t, "IMPRESION_01", p.Resource())
	assert.Equal(t, domain.PlantProduction, p.Plant)
	assert.Equal(t, start, p.Start)
	assert.Contains(t, p.Description, "Pedido: 100\n")
	assert.Contains(t, p.Description, automaticMarker)

	a := events[1]
	assert.Equal(t, "MOEX", a.Line)
	assert.Equal(t, 1, a.DependencyCount)
	assert.Equal(t, []string{"p"}, a.Dependencies)
	assert.Equal(t, "100-1", a.ProductID)
	assert.NotContains(t, a.Description, automaticMarker)
}

func fixedSuffix() string { return "abc1234" }

func TestRepairIdentitiesKeepsCountAndUniqueness(t *testing.T) {
	now := time.UnixMilli(1736150400000)
	in := []domain.CalendarEvent{
		{ID: "x", OrderID: "100", ProcessType: domain.ProcessPrint, Position: 1},
		{ID: "x", OrderID: "100", ProcessType: domain.ProcessPrint, Position: 1},
		{ID: "y"},
		{ID: "x", OrderID: "100", ProcessType: domain.ProcessPrint, Position: 1},
		{ID: "y"},
	}
	out, fixes := RepairIdentities(in, now, fixedSuffix)
	require.Len(t, out, len(in))

	seen := map[string]bool{}
	for _, ev := range out {
		assert.False(t, seen[ev.ID], "duplicate id %s", ev.ID)
		seen[ev.ID] = true
	}
	assert.Equal(t, "x", out[0].ID)
	assert.Equal(t, "100-print-1-1736150400000-abc1234", out[1].ID)
	assert.Equal(t, "y", out[2].ID)
	assert.Equal(t, "evt-event-0-1736150400000-abc1234", out[4].ID)
	assert.Len(t, fixes, 3)
	assert.Equal(t, Correction{Index: 1, OldID: "x", NewID: out[1].ID}, fixes[0])
	assert.Equal(t, "x", in[1].ID, "input must not be modified")
}

func TestRepairIdentitiesNoDuplicates(t *testing.T) {
	in := []domain.CalendarEvent{{ID: "a"}, {ID: "b"}}
	out, fixes := RepairIdentities(in, time.Now(), nil)
	assert.Equal(t, in, out)
	assert.Empty(t, fixes)
}

func ids(events []domain.CalendarEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	local := []domain.CalendarEvent{{ID: "a", Title: "local a"}, {ID: "b"}, {ID: "local-only"}}
	remote := []domain.CalendarEvent{{ID: "c"}, {ID: "a", Title: "remote a"}}

	merged, err := Merge(ModeMerge, local, remote)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "local-only"}, ids(merged))
	assert.Equal(t, "remote a", merged[1].Title)

	replaced, err := Merge(ModeReplace, local, remote)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(replaced))

	empty, err := Merge(ModeReplace, local, nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = Merge("bogus", local, remote)
	assert.ErrorIs(t, err, ErrUnknownMergeMode)
}

func TestParseMergeMode(t *testing.T) {
	m, err := ParseMergeMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)
	m, err = ParseMergeMode(" Replace ")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)
	_, err = ParseMergeMode("wholesale")
	assert.ErrorIs(t, err, ErrUnknownMergeMode)
}
