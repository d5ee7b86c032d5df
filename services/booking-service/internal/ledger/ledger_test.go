package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

type countingObserver struct {
	committed, taken, canceled, completed atomic.Int64
}

func (o *countingObserver) Committed(string)             { o.committed.Add(1) }
func (o *countingObserver) SlotTaken(string)             { o.taken.Add(1) }
func (o *countingObserver) Canceled(string, model.Actor) { o.canceled.Add(1) }
func (o *countingObserver) Completed(_ string, n int)    { o.completed.Add(int64(n)) }

func draft(date, start, end string) model.Appointment {
	return model.Appointment{
		TenantID:  "t-1",
		Customer:  model.Customer{ID: "c-1", Name: "Ada"},
		ServiceID: "cut",
		Date:      date,
		StartTime: start,
		EndTime:   end,
		CreatedBy: model.ActorCustomer,
	}
}

func newLedger(t *testing.T, at time.Time) (*Ledger, *storage.Memory, *timegrid.FixedClock, *countingObserver) {
	t.Helper()
	mem := storage.NewMemory()
	clock := timegrid.NewFixedClock(at)
	obs := &countingObserver{}
	var n atomic.Int64
	l := New(mem, clock, WithObserver(obs), WithIDGenerator(func() string {
		return fmt.Sprintf("appt-%d", n.Add(1))
	}))
	return l, mem, clock, obs
}

func TestCommitAssignsIdentityAndEmitsEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	l, mem, _, obs := newLedger(t, at)

	a, err := l.Commit(context.Background(), draft("2026-03-02", "10:00", "10:30"))
	require.NoError(t, err)
	assert.Equal(t, "appt-1", a.ID)
	assert.Equal(t, model.StatusBooked, a.Status)
	assert.Equal(t, at, a.CreatedAt)
	assert.EqualValues(t, 1, obs.committed.Load())

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.AppointmentBooked, events[0].EventType)
	assert.Equal(t, "appt-1", events[0].AggregateID)
}

func TestCommitReportsSlotTaken(t *testing.T) {
	l, _, _, obs := newLedger(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := l.Commit(ctx, draft("2026-03-02", "10:00", "10:30"))
	require.NoError(t, err)

	_, err = l.Commit(ctx, draft("2026-03-02", "10:15", "10:45"))
	require.True(t, apperr.IsConflict(err, apperr.ReasonSlotTaken))
	assert.EqualValues(t, 1, obs.taken.Load())

	var cerr *apperr.ConflictError
	require.True(t, errors.As(err, &cerr))
	require.Len(t, cerr.Collisions, 1)
	assert.Equal(t, apperr.Collision{
		AppointmentID: "appt-1",
		ServiceID:     "cut",
		Date:          "2026-03-02",
		StartTime:     "10:00",
		EndTime:       "10:30",
	}, cerr.Collisions[0])
}

type brokenStore struct{ storage.AppointmentStore }

func (brokenStore) InsertIfAbsent(context.Context, model.Appointment, ...outbox.Event) ([]model.Appointment, error) {
	return nil, errors.New("connection reset")
}

func TestCommitWrapsStoreFailure(t *testing.T) {
	l := New(brokenStore{}, timegrid.NewFixedClock(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))

	_, err := l.Commit(context.Background(), draft("2026-03-02", "10:00", "10:30"))
	require.Error(t, err)
	assert.False(t, apperr.IsConflict(err, apperr.ReasonSlotTaken))
	assert.Contains(t, err.Error(), "insert appointment")
}

func TestConcurrentCommitsForOneSlot(t *testing.T) {
	l, mem, _, _ := newLedger(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
		conflicts atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Commit(ctx, draft("2026-03-02", "10:00", "10:30"))
			switch {
			case err == nil:
				successes.Add(1)
			case apperr.IsConflict(err, apperr.ReasonSlotTaken):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, workers-1, conflicts.Load())

	rows, err := mem.List(ctx, "t-1", storage.ListFilter{Date: "2026-03-02", Statuses: []model.Status{model.StatusBooked}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCancelRecordsActorAndRejectsTerminal(t *testing.T) {
	l, mem, clock, obs := newLedger(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a, err := l.Commit(ctx, draft("2026-03-02", "10:00", "10:30"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	canceled, err := l.Cancel(ctx, "t-1", a.ID, model.ActorBusiness, "staff ill")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, canceled.Status)
	assert.Equal(t, model.ActorBusiness, canceled.CanceledBy)
	assert.Equal(t, "staff ill", canceled.CancelReason)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, clock.Now(), *canceled.CanceledAt)
	assert.EqualValues(t, 1, obs.canceled.Load())

	_, err = l.Cancel(ctx, "t-1", a.ID, model.ActorCustomer, "")
	assert.True(t, apperr.IsConflict(err, apperr.ReasonInvalidTransition))

	_, err = l.Cancel(ctx, "t-1", "nope", model.ActorCustomer, "")
	assert.True(t, apperr.IsNotFound(err))

	_, err = l.Cancel(ctx, "t-1", a.ID, model.Actor("ROBOT"), "")
	assert.True(t, apperr.IsValidation(err))

	events := mem.Events()
	require.Len(t, events, 2)
	assert.Equal(t, outbox.AppointmentCanceled, events[1].EventType)
}

func TestCompleteElapsedIsLazyAndIdempotent(t *testing.T) {
	// 09:45 in Berlin.
	l, mem, clock, obs := newLedger(t, time.Date(2026, 3, 2, 8, 45, 0, 0, time.UTC))
	ctx := context.Background()
	tenant := model.Tenant{ID: "t-1", Availability: availability.TenantAvailability{Timezone: "Europe/Berlin"}}

	early, err := l.Commit(ctx, draft("2026-03-02", "09:00", "09:30"))
	require.NoError(t, err)
	late, err := l.Commit(ctx, draft("2026-03-02", "10:00", "10:30"))
	require.NoError(t, err)

	n, err := l.CompleteElapsed(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.CompleteElapsed(ctx, tenant)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := mem.Get(ctx, "t-1", early.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	_, err = l.Cancel(ctx, "t-1", early.ID, model.ActorCustomer, "")
	assert.True(t, apperr.IsConflict(err, apperr.ReasonInvalidTransition))

	clock.Advance(time.Hour)
	n, err = l.CompleteElapsed(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ = mem.Get(ctx, "t-1", late.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.EqualValues(t, 2, obs.completed.Load())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, model.StatusBooked.CanTransitionTo(model.StatusCompleted))
	assert.True(t, model.StatusBooked.CanTransitionTo(model.StatusCanceled))
	assert.False(t, model.StatusCanceled.CanTransitionTo(model.StatusBooked))
	assert.False(t, model.StatusCompleted.CanTransitionTo(model.StatusCanceled))
	assert.False(t, model.StatusBooked.CanTransitionTo(model.StatusBooked))
}
