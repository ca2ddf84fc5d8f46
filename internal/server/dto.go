package server

import (
	"time"

	"masterplan/internal/calendar"
	"masterplan/internal/domain"
	"masterplan/internal/ingest"
	"masterplan/internal/scheduler"
)

// Request payloads

// EventRequest is a calendar event as accepted on writes.
type EventRequest struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title,omitempty"`
	Description     string    `json:"description,omitempty"`
	Start           time.Time `json:"start,omitempty"`
	End             time.Time `json:"end,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	Status          string    `json:"status,omitempty"`
	Category        string    `json:"category,omitempty"`
	Assignee        string    `json:"assignee,omitempty"`
	Plant           string    `json:"plant,omitempty"`
	ProcessType     string    `json:"processType,omitempty"`
	Machine         string    `json:"machine,omitempty"`
	Line            string    `json:"line,omitempty"`
	DependencyCount int       `json:"dependencyCount,omitempty"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	Duration        int       `json:"duration,omitempty"`
	ProductID       string    `json:"productId,omitempty"`
	OrderID         string    `json:"orderId,omitempty"`
	Position        int       `json:"pos,omitempty"`
	Project         string    `json:"project,omitempty"`
	Component       string    `json:"component,omitempty"`
	Material        string    `json:"material,omitempty"`
	Quantity        int       `json:"quantity,omitempty"`
	Sheets          int       `json:"sheets,omitempty"`
	UnitPrice       float64   `json:"unitPrice,omitempty"`
	UpdateStatus    string    `json:"updateStatus,omitempty"`
}

func (r EventRequest) toDomain() domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		Start:           r.Start,
		End:             r.End,
		Priority:        domain.Priority(r.Priority),
		Status:          domain.Status(r.Status),
		Category:        r.Category,
		Assignee:        r.Assignee,
		Plant:           domain.Plant(r.Plant),
		ProcessType:     domain.ProcessKind(r.ProcessType),
		Machine:         r.Machine,
		Line:            r.Line,
		DependencyCount: r.DependencyCount,
		Dependencies:    r.Dependencies,
		Duration:        r.Duration,
		ProductID:       r.ProductID,
		OrderID:         r.OrderID,
		Position:        r.Position,
		Project:         r.Project,
		Component:       r.Component,
		Material:        r.Material,
		Quantity:        r.Quantity,
		Sheets:          r.Sheets,
		UnitPrice:       r.UnitPrice,
		UpdateStatus:    r.UpdateStatus,
	}
}

type ReplaceEventsRequest struct {
	Events []EventRequest `json:"events"`
}

type PlanRequest struct {
	Rows  []map[string]any `json:"rows"`
	Epoch *time.Time       `json:"epoch,omitempty"`
	Save  bool             `json:"save,omitempty"`
	Keep  bool             `json:"keep,omitempty"`
}

func (r PlanRequest) rows() []ingest.Row {
	out := make([]ingest.Row, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = ingest.Row(row)
	}
	return out
}

// Responses

type EventsResponse struct {
	Events []domain.CalendarEvent `json:"events"`
}

type ReplaceEventsResponse struct {
	Events      []domain.CalendarEvent `json:"events"`
	Corrections []calendar.Correction  `json:"corrections,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status" example:"ok"`
	Database string `json:"database" example:"connected"`
}

type PlanResponse struct {
	Report      ingest.Report          `json:"report"`
	Events      []domain.CalendarEvent `json:"events"`
	Unresolved  []scheduler.Unresolved `json:"unresolved,omitempty"`
	Corrections []calendar.Correction  `json:"corrections,omitempty"`
	LineCursor  int                    `json:"line_cursor"`
	Saved       bool                   `json:"saved"`
}

type ChangesResponse struct {
	Items []domain.Change `json:"items"`
}

type TokenRequest struct {
	ActorID string `json:"actor_id"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type (
	domainEvent  = domain.CalendarEvent
	domainChange = domain.Change
	syncResult   = domain.SyncResult
)
