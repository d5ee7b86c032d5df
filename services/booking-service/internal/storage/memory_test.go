package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

func booked(id, date string, start, end int) model.Appointment {
	return model.Appointment{
		ID:        id,
		TenantID:  "t-1",
		Customer:  model.Customer{ID: "c-" + id},
		ServiceID: "svc",
		Date:      date,
		StartTime: timegrid.MinutesToTime(start),
		EndTime:   timegrid.MinutesToTime(end),
		Status:    model.StatusBooked,
		CreatedBy: model.ActorCustomer,
	}
}

func TestMemoryInsertIfAbsentRefusesOverlap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.InsertIfAbsent(ctx, booked("a", "2026-03-02", 600, 630))
	require.NoError(t, err)

	blocking, err := m.InsertIfAbsent(ctx, booked("b", "2026-03-02", 615, 645))
	require.ErrorIs(t, err, ErrSlotTaken)
	require.Len(t, blocking, 1)
	assert.Equal(t, "a", blocking[0].ID)

	_, err = m.InsertIfAbsent(ctx, booked("c", "2026-03-02", 630, 660))
	assert.NoError(t, err, "touching intervals do not overlap")

	_, err = m.InsertIfAbsent(ctx, booked("d", "2026-03-03", 600, 630))
	assert.NoError(t, err, "other date")

	blocking, err = m.InsertIfAbsent(ctx, booked("e", "2026-03-02", 600, 660))
	require.ErrorIs(t, err, ErrSlotTaken)
	require.Len(t, blocking, 2)
	assert.Equal(t, "a", blocking[0].ID)
	assert.Equal(t, "c", blocking[1].ID)
}

func TestMemoryCanceledRowFreesSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.InsertIfAbsent(ctx, booked("a", "2026-03-02", 600, 630))

	_, err := m.Transition(ctx, Transition{TenantID: "t-1", AppointmentID: "a", From: model.StatusBooked, To: model.StatusCanceled, CanceledBy: model.ActorBusiness, At: time.Now()})
	require.NoError(t, err)

	_, err = m.InsertIfAbsent(ctx, booked("b", "2026-03-02", 600, 630))
	require.NoError(t, err)
}

func TestMemoryTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.InsertIfAbsent(ctx, booked("a", "2026-03-02", 600, 630))

	tr := Transition{TenantID: "t-1", AppointmentID: "a", From: model.StatusBooked, To: model.StatusCanceled, CanceledBy: model.ActorCustomer, Reason: "sick", At: time.Now(),
		Event: outbox.AppointmentEventFunc(ctx, outbox.AppointmentCanceled, time.Now())}
	got, err := m.Transition(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.Equal(t, model.ActorCustomer, got.CanceledBy)
	assert.Equal(t, "sick", got.CancelReason)
	require.NotNil(t, got.CanceledAt)

	current, err := m.Transition(ctx, tr)
	assert.ErrorIs(t, err, ErrStatusMismatch)
	assert.Equal(t, model.StatusCanceled, current.Status)

	_, err = m.Transition(ctx, Transition{TenantID: "t-2", AppointmentID: "a", From: model.StatusBooked, To: model.StatusCanceled})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, m.Events(), 1)
}

func TestMemoryCompleteElapsedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.InsertIfAbsent(ctx, booked("past", "2026-03-01", 600, 630))
	_, _ = m.InsertIfAbsent(ctx, booked("ended", "2026-03-02", 540, 570))
	_, _ = m.InsertIfAbsent(ctx, booked("running", "2026-03-02", 600, 660))
	_, _ = m.InsertIfAbsent(ctx, booked("future", "2026-03-03", 600, 630))

	now := timegrid.LocalNow{Date: "2026-03-02", Minute: 630}
	done, err := m.CompleteElapsed(ctx, "t-1", now, time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "past", done[0].ID)
	assert.Equal(t, "ended", done[1].ID)

	again, err := m.CompleteElapsed(ctx, "t-1", now, time.Now(), nil)
	require.NoError(t, err)
	assert.Empty(t, again)

	running, _ := m.Get(ctx, "t-1", "running")
	assert.Equal(t, model.StatusBooked, running.Status)
}

func TestMemoryListFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.InsertIfAbsent(ctx, booked("b", "2026-03-02", 700, 730))
	_, _ = m.InsertIfAbsent(ctx, booked("a", "2026-03-02", 600, 630))
	_, _ = m.InsertIfAbsent(ctx, booked("c", "2026-03-03", 600, 630))

	got, err := m.List(ctx, "t-1", ListFilter{Date: "2026-03-02", Statuses: []model.Status{model.StatusBooked}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	got, _ = m.List(ctx, "t-1", ListFilter{CustomerID: "c-c"})
	require.Len(t, got, 1)

	got, _ = m.List(ctx, "other", ListFilter{})
	assert.Empty(t, got)
}

// Random concurrent inserts must never leave two overlapping BOOKED rows.
func TestMemoryConcurrentInsertsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	f := gofakeit.New(7)

	type attempt struct{ start, dur int }
	attempts := make([]attempt, 400)
	for i := range attempts {
		attempts[i] = attempt{start: f.IntRange(480, 1020) / 5 * 5, dur: f.RandomInt([]int{15, 30, 45, 60})}
	}

	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			_, err := m.InsertIfAbsent(ctx, booked(fmt.Sprintf("x%03d", i), "2026-03-02", a.start, a.start+a.dur))
			if err != nil {
				assert.ErrorIs(t, err, ErrSlotTaken)
			}
		}(i, a)
	}
	wg.Wait()

	rows, err := m.List(ctx, "t-1", ListFilter{Statuses: []model.Status{model.StatusBooked}})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			require.False(t, rows[i].Overlaps(rows[j]), "%s overlaps %s", rows[i].ID, rows[j].ID)
		}
	}
}
