package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type creator interface {
	CreateAppointment(ctx context.Context, req booking.CreateRequest) (model.Appointment, error)
}

type simConfig struct {
	TenantID  string
	ServiceID string
	Date      string
	StartTime string
	Workers   int
	Actor     model.Actor
	Seed      uint64
}

func (c simConfig) validate() error {
	var missing []string
	for name, v := range map[string]string{"tenant": c.TenantID, "service": c.ServiceID, "date": c.Date, "start": c.StartTime} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing flags: %s", strings.Join(missing, ", "))
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if !c.Actor.Valid() {
		return fmt.Errorf("unknown actor %q", c.Actor)
	}
	return nil
}

type report struct {
	Booked    int
	Conflicts map[apperr.ConflictReason]int
	Failed    int
	Winner    string
}

func (r report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "booked=%d failed=%d", r.Booked, r.Failed)
	reasons := make([]string, 0, len(r.Conflicts))
	for reason := range r.Conflicts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, " %s=%d", reason, r.Conflicts[apperr.ConflictReason(reason)])
	}
	if r.Winner != "" {
		fmt.Fprintf(&b, " winner=%s", r.Winner)
	}
	return b.String()
}

// simulate fires one booking per worker at the same slot, released together.
func simulate(ctx context.Context, c creator, cfg simConfig) report {
	faker := gofakeit.New(cfg.Seed)
	reqs := make([]booking.CreateRequest, cfg.Workers)
	for i := range reqs {
		reqs[i] = booking.CreateRequest{
			TenantID:  cfg.TenantID,
			ServiceID: cfg.ServiceID,
			Date:      cfg.Date,
			StartTime: cfg.StartTime,
			Customer: model.Customer{
				ID:    faker.UUID(),
				Name:  faker.Name(),
				Email: faker.Email(),
				Phone: faker.Phone(),
			},
			CreatedBy: cfg.Actor,
		}
	}

	rep := report{Conflicts: map[apperr.ConflictReason]int{}}
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for _, req := range reqs {
		wg.Add(1)
		go func(req booking.CreateRequest) {
			defer wg.Done()
			<-start
			appt, err := c.CreateAppointment(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			var cerr *apperr.ConflictError
			switch {
			case err == nil:
				rep.Booked++
				rep.Winner = appt.ID
			case errors.As(err, &cerr):
				rep.Conflicts[cerr.Reason]++
			default:
				rep.Failed++
			}
		}(req)
	}
	close(start)
	wg.Wait()
	return rep
}
