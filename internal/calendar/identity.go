package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"masterplan/internal/domain"
	"masterplan/internal/logger"
)

// Correction records one regenerated identity.
type Correction struct {
	Index int    `json:"index"`
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// SuffixFunc supplies the random tail of a regenerated id.
type SuffixFunc func() string

// RandomSuffix returns seven hex characters from a fresh uuid.
func RandomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
}

// Repairer regenerates duplicate event ids.
type Repairer struct {
	Now    func() time.Time
	Suffix SuffixFunc
	Log    logger.Logger
}

// RepairIdentities returns events with every id unique. The first
// occurrence of an id keeps it; later ones get a new one. No event is
// dropped and order is preserved. The input slice is not modified.
func RepairIdentities(events []domain.CalendarEvent, now time.Time, suffix SuffixFunc) ([]domain.CalendarEvent, []Correction) {
	return Repairer{Now: func() time.Time { return now }, Suffix: suffix}.Repair(events)
}

// Repair applies RepairIdentities and logs each correction.
func (r Repairer) Repair(events []domain.CalendarEvent) ([]domain.CalendarEvent, []Correction) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	suffix := r.Suffix
	if suffix == nil {
		suffix = RandomSuffix
	}
	log := logger.OrNop(r.Log)

	out := append([]domain.CalendarEvent(nil), events...)
	seen := make(map[string]struct{}, len(out))
	for _, ev := range out {
		seen[ev.ID] = struct{}{}
	}
	first := make(map[string]struct{}, len(out))
	var fixes []Correction
	for i := range out {
		id := out[i].ID
		if _, dup := first[id]; !dup {
			first[id] = struct{}{}
			continue
		}
		newID := regenerate(out[i], now, suffix)
		for n := 2; ; n++ {
			if _, taken := seen[newID]; !taken {
				break
			}
			newID = fmt.Sprintf("%s-%d", regenerate(out[i], now, suffix), n)
		}
		seen[newID] = struct{}{}
		first[newID] = struct{}{}
		out[i].ID = newID
		fixes = append(fixes, Correction{Index: i, OldID: id, NewID: newID})
		log.Warnf("duplicate event id %q at index %d replaced with %q", id, i, newID)
	}
	return out, fixes
}

func regenerate(ev domain.CalendarEvent, now time.Time, suffix SuffixFunc) string {
	order := ev.OrderID
	if order == "" {
		order = "evt"
	}
	kind := string(ev.ProcessType)
	if kind == "" {
		kind = "event"
	}
	return fmt.Sprintf("%s-%s-%d-%d-%s", order, kind, ev.Position, now.UnixMilli(), suffix())
}
