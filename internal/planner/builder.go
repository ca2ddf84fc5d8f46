package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"masterplan/internal/domain"
	"masterplan/internal/ingest"
	"masterplan/internal/logger"
)

// Graph is the task structure of one item: the production chain in canonical
// order followed by the assembly task. Deps holds, per task, the indices of
// the tasks it depends on.
type Graph struct {
	Item      *domain.ProductionItem
	Tasks     []domain.ProcessTask
	Deps      [][]int
	Automatic bool
}

// Production returns the production-plant tasks.
func (g Graph) Production() []domain.ProcessTask {
	var out []domain.ProcessTask
	for _, t := range g.Tasks {
		if t.Plant == domain.PlantProduction {
			out = append(out, t)
		}
	}
	return out
}

// Assembly returns the assembly task if present.
func (g Graph) Assembly() (domain.ProcessTask, bool) {
	for _, t := range g.Tasks {
		if t.Plant == domain.PlantAssembly {
			return t, true
		}
	}
	return domain.ProcessTask{}, false
}

// IDFunc generates a task id for the seq-th task of an item.
type IDFunc func(item domain.ProductionItem, kind domain.ProcessKind, seq int) string

// Builder expands records into task graphs.
type Builder struct {
	Now   func() time.Time
	NewID IDFunc
	Log   logger.Logger
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b Builder) newID(item domain.ProductionItem, kind domain.ProcessKind, seq int) string {
	if b.NewID != nil {
		return b.NewID(item, kind, seq)
	}
	return TaskID(item, kind, seq, b.now())
}

// TaskID builds order-KIND-pos-millis-seq-random.
func TaskID(item domain.ProductionItem, kind domain.ProcessKind, seq int, at time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	return fmt.Sprintf("%s-%s-%d-%d-%d-%s", item.OrderID, strings.ToUpper(string(kind)), item.Position, at.UnixMilli(), seq, random)
}

// BuildAll builds graphs for records in order, threading the pool through.
func (b Builder) BuildAll(records []ingest.Record, pool ResourcePool) ([]Graph, ResourcePool) {
	graphs := make([]Graph, 0, len(records))
	for _, rec := range records {
		var g Graph
		g, pool = b.Build(rec, pool)
		graphs = append(graphs, g)
	}
	return graphs, pool
}

// Build creates the production chain and assembly task for one record. The
// returned pool has its line rotation advanced by one.
func (b Builder) Build(rec ingest.Record, pool ResourcePool) (Graph, ResourcePool) {
	item := rec.Item
	g := Graph{Item: &item}

	kinds := flaggedKinds(rec.Flags)
	if len(kinds) == 0 {
		kinds = FallbackProcesses(item.Material)
		g.Automatic = true
		logger.OrNop(b.Log).Debugf("item %s has no process flags, using %v for material %q", item.ID, kinds, item.Material)
	}

	priority := PriorityFor(item.DueDate, b.now())
	status := rec.Status()

	for i, kind := range kinds {
		t := domain.ProcessTask{
			ID:           b.newID(item, kind, i),
			ItemID:       item.ID,
			Item:         g.Item,
			Kind:         kind,
			Plant:        domain.PlantProduction,
			Resource:     pool.DefaultMachine(kind),
			Hours:        EstimateHours(kind, item.Sheets, item.Quantity),
			Sequence:     i + 1,
			Priority:     priority,
			Status:       status,
			UpdateStatus: rec.UpdateStatus,
			Automatic:    g.Automatic,
		}
		var deps []int
		if i > 0 {
			prev := g.Tasks[i-1]
			t.DependsOn = []string{prev.ID}
			deps = []int{i - 1}
		}
		g.Tasks = append(g.Tasks, t)
		g.Deps = append(g.Deps, deps)
	}

	var line string
	line, pool = pool.NextLine()
	asm := domain.ProcessTask{
		ID:           b.newID(item, domain.ProcessAssembly, len(g.Tasks)),
		ItemID:       item.ID,
		Item:         g.Item,
		Kind:         domain.ProcessAssembly,
		Plant:        domain.PlantAssembly,
		Resource:     line,
		Hours:        AssemblyHours(item.Quantity),
		Sequence:     len(g.Tasks) + 1,
		Priority:     priority,
		Status:       status,
		UpdateStatus: rec.UpdateStatus,
		Automatic:    g.Automatic,
	}
	deps := make([]int, 0, len(g.Tasks))
	for i, t := range g.Tasks {
		asm.DependsOn = append(asm.DependsOn, t.ID)
		deps = append(deps, i)
	}
	g.Tasks = append(g.Tasks, asm)
	g.Deps = append(g.Deps, deps)
	return g, pool
}

// Flatten concatenates the tasks of all graphs in build order.
func Flatten(graphs []Graph) []domain.ProcessTask {
	var out []domain.ProcessTask
	for _, g := range graphs {
		out = append(out, g.Tasks...)
	}
	return out
}

func flaggedKinds(flags map[domain.ProcessKind]bool) []domain.ProcessKind {
	var kinds []domain.ProcessKind
	for _, k := range domain.ProductionOrder {
		if flags[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
