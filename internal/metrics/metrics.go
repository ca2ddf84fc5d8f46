package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the planner and sync collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	syncRequests *prometheus.CounterVec
	syncPolls    *prometheus.CounterVec
	planRows     *prometheus.CounterVec
	identityFix  prometheus.Counter
	eventsStored prometheus.Gauge
}

// New registers the collectors on reg, or on the default registerer when reg
// is nil. Collectors already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		syncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterplan_sync_requests_total",
			Help: "Delta fetch requests served, by whether changes were returned",
		}, []string{"has_changes"}),
		syncPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterplan_sync_polls_total",
			Help: "Sync coordinator polls by outcome",
		}, []string{"outcome"}),
		planRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterplan_plan_rows_total",
			Help: "Spreadsheet rows seen by the planner",
		}, []string{"result"}),
		identityFix: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masterplan_identity_repairs_total",
			Help: "Duplicate event ids regenerated",
		}),
		eventsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masterplan_events_stored",
			Help: "Events in the stored collection",
		}),
	}
	var err error
	if m.syncRequests, err = register(reg, m.syncRequests); err != nil {
		return nil, err
	}
	if m.syncPolls, err = register(reg, m.syncPolls); err != nil {
		return nil, err
	}
	if m.planRows, err = register(reg, m.planRows); err != nil {
		return nil, err
	}
	if m.identityFix, err = register(reg, m.identityFix); err != nil {
		return nil, err
	}
	if m.eventsStored, err = register(reg, m.eventsStored); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) SyncRequest(hasChanges bool) {
	if m == nil {
		return
	}
	m.syncRequests.WithLabelValues(strconv.FormatBool(hasChanges)).Inc()
}

func (m *Metrics) SyncPoll(outcome string) {
	if m == nil {
		return
	}
	m.syncPolls.WithLabelValues(outcome).Inc()
}

// PlanRows records accepted and skipped row counts of one planning run.
func (m *Metrics) PlanRows(accepted, skipped int) {
	if m == nil {
		return
	}
	m.planRows.WithLabelValues("accepted").Add(float64(accepted))
	m.planRows.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) IdentityRepairs(n int) {
	if m == nil || n == 0 {
		return
	}
	m.identityFix.Add(float64(n))
}

func (m *Metrics) EventsStored(n int) {
	if m == nil {
		return
	}
	m.eventsStored.Set(float64(n))
}
