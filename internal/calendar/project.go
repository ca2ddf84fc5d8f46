package calendar

import (
	"fmt"
	"regexp"
	"strings"

	"masterplan/internal/domain"
)

const automaticMarker = "[PROCESO AUTOMÁTICO]"

var spaces = regexp.MustCompile(`\s+`)

// StandardTitle is PROJECT_COMPONENT, upper-cased with whitespace runs
// replaced by underscores. A blank component yields the project alone.
func StandardTitle(project, component string) string {
	p := strings.ToUpper(spaces.ReplaceAllString(strings.TrimSpace(project), "_"))
	c := strings.ToUpper(spaces.ReplaceAllString(strings.TrimSpace(component), "_"))
	if c == "" {
		return p
	}
	return p + "_" + c
}

// Describe renders the multi-line event description for an item.
func Describe(item domain.ProductionItem, automatic bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pedido: %s\nProyecto: %s\nComponente: %s\nMaterial: %s\nCantidad: %d",
		item.OrderID, item.Project, item.Component, item.Material, item.Quantity)
	if automatic {
		b.WriteString("\n" + automaticMarker)
	}
	return b.String()
}

// Project converts scheduled tasks to calendar events, preserving order.
func Project(tasks []domain.ProcessTask) []domain.CalendarEvent {
	out := make([]domain.CalendarEvent, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, ProjectTask(t))
	}
	return out
}

// ProjectTask converts one task.
func ProjectTask(t domain.ProcessTask) domain.CalendarEvent {
	var item domain.ProductionItem
	if t.Item != nil {
		item = *t.Item
	}
	ev := domain.CalendarEvent{
		ID:              t.ID,
		Title:           StandardTitle(item.Project, item.Component),
		Description:     Describe(item, t.Automatic),
		Start:           t.Start,
		End:             t.End,
		Priority:        t.Priority,
		Status:          t.Status,
		Category:        string(t.Kind),
		Assignee:        t.Resource,
		Plant:           t.Plant,
		ProcessType:     t.Kind,
		DependencyCount: len(t.DependsOn),
		Dependencies:    append([]string(nil), t.DependsOn...),
		Duration:        t.Hours,
		ProductID:       t.ItemID,
		OrderID:         item.OrderID,
		Position:        item.Position,
		Project:         item.Project,
		Component:       item.Component,
		Material:        item.Material,
		Quantity:        item.Quantity,
		Sheets:          item.Sheets,
		UnitPrice:       item.UnitPrice,
		UpdateStatus:    t.UpdateStatus,
	}
	if ev.Title == "" {
		ev.Title = strings.ToUpper(string(t.Kind))
	}
	if t.Plant == domain.PlantAssembly {
		ev.Line = t.Resource
	} else {
		ev.Machine = t.Resource
	}
	return ev
}
