package planner

import (
	"math"
	"strings"
	"time"

	"masterplan/internal/domain"
)

// Hours of work per 100 sheets for each production step.
var baseRates = map[domain.ProcessKind]float64{
	domain.ProcessPrint:     0.5,
	domain.ProcessVarnish:   0.3,
	domain.ProcessLaminate:  0.4,
	domain.ProcessFoilStamp: 0.6,
	domain.ProcessEmboss:    0.5,
	domain.ProcessDieCut:    0.7,
}

const defaultRate = 0.5

// EstimateHours is the production duration: the kind's rate applied to the
// sheet count plus one hour per 5000 units, rounded up, at least one hour.
func EstimateHours(kind domain.ProcessKind, sheets, quantity int) int {
	rate, ok := baseRates[kind]
	if !ok {
		rate = defaultRate
	}
	h := math.Ceil(float64(sheets)/100*rate + float64(quantity)/5000)
	return max(1, int(h))
}

// AssemblyHours is one hour per 1000 units, at least one hour.
func AssemblyHours(quantity int) int {
	return max(1, int(math.Ceil(float64(quantity)/1000)))
}

// FallbackProcesses derives the production steps from the material code when
// a row carries no process flags.
func FallbackProcesses(material string) []domain.ProcessKind {
	m := strings.ToUpper(material)
	switch {
	case strings.Contains(m, "PP"):
		return []domain.ProcessKind{domain.ProcessPrint, domain.ProcessDieCut}
	case strings.Contains(m, "COUCHE"):
		return []domain.ProcessKind{domain.ProcessPrint, domain.ProcessVarnish, domain.ProcessDieCut}
	case strings.Contains(m, "CMPC"):
		return []domain.ProcessKind{domain.ProcessPrint, domain.ProcessLaminate, domain.ProcessDieCut}
	default:
		return []domain.ProcessKind{domain.ProcessPrint, domain.ProcessDieCut}
	}
}

// PriorityFor classifies an item by days until its due date. Unknown dates
// are medium.
func PriorityFor(due, now time.Time) domain.Priority {
	if due.IsZero() {
		return domain.PriorityMedium
	}
	days := math.Ceil(due.Sub(now).Hours() / 24)
	switch {
	case days <= 3:
		return domain.PriorityHigh
	case days <= 7:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}
