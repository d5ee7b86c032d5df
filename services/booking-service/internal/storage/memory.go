package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// Memory keeps everything in process. One mutex guards every map, which is
// what makes InsertIfAbsent atomic. It backs tests and STORAGE_DRIVER=memory.
type Memory struct {
	mu            sync.Mutex
	tenants       map[string]model.Tenant
	services      map[string]model.Service
	relationships map[string]model.CustomerRelationship
	appointments  map[string]model.Appointment
	events        []outbox.Event
}

func NewMemory() *Memory {
	return &Memory{
		tenants:       map[string]model.Tenant{},
		services:      map[string]model.Service{},
		relationships: map[string]model.CustomerRelationship{},
		appointments:  map[string]model.Appointment{},
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func (m *Memory) InsertIfAbsent(_ context.Context, appt model.Appointment, events ...outbox.Event) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if appt.Status == model.StatusBooked {
		var blocking []model.Appointment
		for _, other := range m.appointments {
			if other.Status == model.StatusBooked && other.Overlaps(appt) {
				blocking = append(blocking, other)
			}
		}
		if len(blocking) > 0 {
			sortAppointments(blocking)
			return blocking, ErrSlotTaken
		}
	}
	m.appointments[appt.ID] = appt
	m.events = append(m.events, events...)
	return nil, nil
}

func (m *Memory) Get(_ context.Context, tenantID, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) List(_ context.Context, tenantID string, f ListFilter) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Appointment
	for _, a := range m.appointments {
		if a.TenantID == tenantID && f.matches(a) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *Memory) Transition(_ context.Context, t Transition) (model.Appointment, error) {
	if err := t.validate(); err != nil {
		return model.Appointment{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[t.AppointmentID]
	if !ok || a.TenantID != t.TenantID {
		return model.Appointment{}, ErrNotFound
	}
	if a.Status != t.From {
		return a, ErrStatusMismatch
	}
	t.apply(&a)
	if t.Event != nil {
		evt, err := t.Event(a)
		if err != nil {
			return model.Appointment{}, err
		}
		m.events = append(m.events, evt)
	}
	m.appointments[a.ID] = a
	return a, nil
}

func (m *Memory) CompleteElapsed(_ context.Context, tenantID string, now timegrid.LocalNow, at time.Time, evt outbox.EventFunc) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		done   []model.Appointment
		events []outbox.Event
	)
	for id, a := range m.appointments {
		if a.TenantID != tenantID || a.Status != model.StatusBooked || !now.Elapsed(a.Date, a.EndMinute()) {
			continue
		}
		Transition{To: model.StatusCompleted, At: at}.apply(&a)
		if evt != nil {
			e, err := evt(a)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		m.appointments[id] = a
		done = append(done, a)
	}
	m.events = append(m.events, events...)
	sortAppointments(done)
	return done, nil
}

func (m *Memory) GetTenant(_ context.Context, tenantID string) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetService(_ context.Context, tenantID, serviceID string) (model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[pairKey(tenantID, serviceID)]
	if !ok {
		return model.Service{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetRelationship(_ context.Context, tenantID, customerID string) (model.CustomerRelationship, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.relationships[pairKey(tenantID, customerID)]
	return r, ok, nil
}

func (m *Memory) TouchRelationship(_ context.Context, tenantID, customerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(tenantID, customerID)
	r, ok := m.relationships[key]
	if !ok {
		r = model.CustomerRelationship{TenantID: tenantID, CustomerID: customerID, Status: model.RelationshipActive}
	}
	at = at.UTC()
	r.LastAppointmentAt = &at
	m.relationships[key] = r
	return nil
}

func (m *Memory) PutTenant(_ context.Context, t model.Tenant, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tenants[t.ID] = t
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) PutService(_ context.Context, s model.Service, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[pairKey(s.TenantID, s.ID)] = s
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) PutRelationship(_ context.Context, r model.CustomerRelationship, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.relationships[pairKey(r.TenantID, r.CustomerID)] = r
	m.events = append(m.events, evt)
	return nil
}

// Events returns a copy of every event recorded so far, in write order.
func (m *Memory) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.events...)
}

func sortAppointments(out []model.Appointment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
}
