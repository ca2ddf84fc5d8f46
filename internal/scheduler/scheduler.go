package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"masterplan/internal/domain"
	"masterplan/internal/logger"
)

var ErrUnresolvedDependency = errors.New("unresolved dependency")

// noDueDate sorts undated tasks after every dated one.
var noDueDate = time.Date(2999, 12, 31, 0, 0, 0, 0, time.UTC)

// Reasons a dependency could not be honoured.
const (
	ReasonMissing    = "missing"
	ReasonOutOfOrder = "out_of_order"
)

// Unresolved records a dependency whose end time was not available when its
// dependent was placed: the id named no task in the batch, or the task sorted
// after its dependent.
type Unresolved struct {
	TaskID       string `json:"task_id"`
	DependencyID string `json:"dependency_id"`
	Reason       string `json:"reason"`
}

// Result is a scheduled batch.
type Result struct {
	Tasks      []domain.ProcessTask `json:"tasks"`
	Timelines  map[string]time.Time `json:"timelines"`
	Unresolved []Unresolved         `json:"unresolved,omitempty"`
}

// Scheduler assigns start and end times to tasks.
type Scheduler struct {
	Calendar WorkCalendar
	// Strict fails the batch when a dependency cannot be resolved instead of
	// scheduling the task as if the dependency were absent.
	Strict bool
	Log    logger.Logger
}

// Schedule orders tasks by priority then due date and places each one at the
// earliest working instant after epoch, its dependencies and the availability
// of its resource. The input slice is not modified.
func (s Scheduler) Schedule(tasks []domain.ProcessTask, epoch time.Time) (Result, error) {
	log := logger.OrNop(s.Log)
	queue := append([]domain.ProcessTask(nil), tasks...)
	sort.SliceStable(queue, func(i, j int) bool {
		ri, rj := queue[i].Priority.Rank(), queue[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return dueKey(queue[i]).Before(dueKey(queue[j]))
	})

	index := make(map[string]int, len(queue))
	for i, t := range queue {
		index[t.ID] = i
	}

	res := Result{Timelines: map[string]time.Time{}}
	scheduled := make([]bool, len(queue))
	for i := range queue {
		t := &queue[i]
		earliest := epoch
		for _, dep := range t.DependsOn {
			j, ok := index[dep]
			if !ok {
				if s.Strict {
					return Result{}, fmt.Errorf("%w: task %s depends on %s", ErrUnresolvedDependency, t.ID, dep)
				}
				log.Warnf("task %s: dependency %s not found, ignoring", t.ID, dep)
				res.Unresolved = append(res.Unresolved, Unresolved{TaskID: t.ID, DependencyID: dep, Reason: ReasonMissing})
				continue
			}
			if !scheduled[j] {
				if s.Strict {
					return Result{}, fmt.Errorf("%w: task %s sorts before its dependency %s", ErrUnresolvedDependency, t.ID, dep)
				}
				log.Warnf("task %s: dependency %s sorts later and has no end time yet, ignoring", t.ID, dep)
				res.Unresolved = append(res.Unresolved, Unresolved{TaskID: t.ID, DependencyID: dep, Reason: ReasonOutOfOrder})
				continue
			}
			if end := queue[j].End; end.After(earliest) {
				earliest = end
			}
		}
		if avail, ok := res.Timelines[t.Resource]; ok && avail.After(earliest) {
			earliest = avail
		}
		t.Start = s.Calendar.Snap(earliest)
		t.End = s.Calendar.EndOfDay(t.Start)
		res.Timelines[t.Resource] = t.End
		scheduled[i] = true
	}
	res.Tasks = queue
	return res, nil
}

func dueKey(t domain.ProcessTask) time.Time {
	if d := t.DueDate(); !d.IsZero() {
		return d
	}
	return noDueDate
}
