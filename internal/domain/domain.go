package domain

import "time"

// ProcessKind is one canonical production step or assembly.
type ProcessKind string

const (
	ProcessSheetPrep ProcessKind = "sheet-prep"
	ProcessPrint     ProcessKind = "print"
	ProcessVarnish   ProcessKind = "varnish"
	ProcessLaminate  ProcessKind = "laminate"
	ProcessFoilStamp ProcessKind = "foil-stamp"
	ProcessEmboss    ProcessKind = "emboss"
	ProcessDieCut    ProcessKind = "die-cut"
	ProcessAssembly  ProcessKind = "assembly"
)

// ProductionOrder is the fixed canonical order of production-plant steps.
var ProductionOrder = []ProcessKind{
	ProcessSheetPrep,
	ProcessPrint,
	ProcessVarnish,
	ProcessLaminate,
	ProcessFoilStamp,
	ProcessEmboss,
	ProcessDieCut,
}

// Valid reports whether k is a known process kind.
func (k ProcessKind) Valid() bool {
	if k == ProcessAssembly {
		return true
	}
	for _, p := range ProductionOrder {
		if p == k {
			return true
		}
	}
	return false
}

type Plant string

const (
	PlantProduction Plant = "production"
	PlantAssembly   Plant = "assembly"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities so that high sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ProductionItem is one normalized order line, unique by (OrderID, Position).
type ProductionItem struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	Position      int       `json:"pos"`
	Project       string    `json:"project"`
	Component     string    `json:"component"`
	Material      string    `json:"material"`
	Quantity      int       `json:"quantity"`
	Sheets        int       `json:"sheets"`
	DueDate       time.Time `json:"dueDate,omitempty"`
	DueRaw        string    `json:"dueRaw,omitempty"`
	MaterialDates string    `json:"materialDates,omitempty"`
	UnitPrice     float64   `json:"unitPrice"`
}

// ProcessTask is one unit of work at one plant.
type ProcessTask struct {
	ID           string          `json:"id"`
	ItemID       string          `json:"itemId"`
	Item         *ProductionItem `json:"-"`
	Kind         ProcessKind     `json:"processType"`
	Plant        Plant           `json:"plant"`
	Resource     string          `json:"resource"`
	Hours        int             `json:"duration"`
	Sequence     int             `json:"sequence"`
	DependsOn    []string        `json:"dependencies"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	UpdateStatus string          `json:"updateStatus,omitempty"`
	Automatic    bool            `json:"automatic,omitempty"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
}

// DueDate returns the owning item's due date, zero when unknown.
func (t ProcessTask) DueDate() time.Time {
	if t.Item == nil {
		return time.Time{}
	}
	return t.Item.DueDate
}

// CalendarEvent is the externally visible projection of a task or of a
// user-created entry. ID must be unique within a collection.
type CalendarEvent struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Start           time.Time   `json:"start"`
	End             time.Time   `json:"end"`
	Priority        Priority    `json:"priority"`
	Status          Status      `json:"status"`
	Category        string      `json:"category,omitempty"`
	Assignee        string      `json:"assignee,omitempty"`
	Plant           Plant       `json:"plant,omitempty"`
	ProcessType     ProcessKind `json:"processType,omitempty"`
	Machine         string      `json:"machine,omitempty"`
	Line            string      `json:"line,omitempty"`
	DependencyCount int         `json:"dependencyCount"`
	Dependencies    []string    `json:"dependencies,omitempty"`
	Duration        int         `json:"duration,omitempty"`
	ProductID       string      `json:"productId,omitempty"`
	OrderID         string      `json:"orderId,omitempty"`
	Position        int         `json:"pos,omitempty"`
	Project         string      `json:"project,omitempty"`
	Component       string      `json:"component,omitempty"`
	Material        string      `json:"material,omitempty"`
	Quantity        int         `json:"quantity,omitempty"`
	Sheets          int         `json:"sheets,omitempty"`
	UnitPrice       float64     `json:"unitPrice,omitempty"`
	UpdateStatus    string      `json:"updateStatus,omitempty"`
}

// Resource returns the machine or line the event is assigned to.
func (e CalendarEvent) Resource() string {
	if e.Line != "" {
		return e.Line
	}
	if e.Machine != "" {
		return e.Machine
	}
	return e.Assignee
}

// SyncResult is the delta fetch response.
type SyncResult struct {
	Events     []CalendarEvent `json:"events"`
	ServerTime time.Time       `json:"serverTime"`
	HasChanges bool            `json:"hasChanges"`
}

// Change is one entry of the server change journal.
type Change struct {
	ID      int64  `json:"id"`
	TS      int64  `json:"ts"`
	Kind    string `json:"kind"`
	EventID string `json:"event_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Payload string `json:"payload,omitempty"`
}
