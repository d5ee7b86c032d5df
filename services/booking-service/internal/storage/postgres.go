package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// Postgres is the production store. Double booking is refused by the
// appointments_booked_start_uniq index and the appointments_booked_no_overlap
// exclusion constraint, so InsertIfAbsent never reads before it writes.
type Postgres struct {
	conn   db.Conn
	outbox *outbox.Repository
}

// NewPostgres takes a *db.Pool in production; tests hand it a pgxmock pool.
func NewPostgres(conn db.Conn, outboxRepo *outbox.Repository) *Postgres {
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository()
	}
	return &Postgres{conn: conn, outbox: outboxRepo}
}

const appointmentColumns = `
	id::text, tenant_id, customer_id, customer_name, customer_email, customer_phone,
	service_id, service_name, duration_minutes, price::text, currency,
	date, start_min, end_min, status, created_by, COALESCE(canceled_by, ''), cancel_reason,
	canceled_at, completed_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a                model.Appointment
		price            string
		date             time.Time
		startMin, endMin int
		status, created  string
		canceledBy       string
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Customer.ID, &a.Customer.Name, &a.Customer.Email, &a.Customer.Phone,
		&a.ServiceID, &a.ServiceName, &a.DurationMinutes, &price, &a.Currency,
		&date, &startMin, &endMin, &status, &created, &canceledBy, &a.CancelReason,
		&a.CanceledAt, &a.CompletedAt, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Price, err = decimal.NewFromString(price)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %s price: %w", a.ID, err)
	}
	a.Date = date.Format(timegrid.DateLayout)
	a.StartTime = timegrid.MinutesToTime(startMin)
	a.EndTime = timegrid.MinutesToTime(endMin)
	a.Status = model.Status(status)
	a.CreatedBy = model.Actor(created)
	a.CanceledBy = model.Actor(canceledBy)
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func dateArg(date string) (time.Time, error) {
	d, ok := timegrid.ParseDate(date)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date %q", date)
	}
	return d, nil
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, appt model.Appointment, events ...outbox.Event) ([]model.Appointment, error) {
	date, err := dateArg(appt.Date)
	if err != nil {
		return nil, err
	}
	err = db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, tenant_id, customer_id, customer_name, customer_email, customer_phone,
				 service_id, service_name, duration_minutes, price, currency,
				 date, start_min, end_min, status, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17)
		`, appt.ID, appt.TenantID, appt.Customer.ID, appt.Customer.Name, appt.Customer.Email, appt.Customer.Phone,
			appt.ServiceID, appt.ServiceName, appt.DurationMinutes, appt.Price.String(), appt.Currency,
			date, appt.StartMinute(), appt.EndMinute(), string(appt.Status), string(appt.CreatedBy), appt.CreatedAt)
		if err != nil {
			return err
		}
		for _, evt := range events {
			if err := p.outbox.Insert(ctx, tx, evt); err != nil {
				return fmt.Errorf("outbox insert: %w", err)
			}
		}
		return nil
	})
	if db.IsUniqueViolation(err) {
		blocking, err := p.bookedOverlapping(ctx, appt.TenantID, date, appt.StartMinute(), appt.EndMinute())
		if err != nil {
			return nil, errors.Join(ErrSlotTaken, fmt.Errorf("load colliding appointments: %w", err))
		}
		return blocking, ErrSlotTaken
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// bookedOverlapping reads outside the aborted insert transaction, so a row
// canceled in between is no longer reported.
func (p *Postgres) bookedOverlapping(ctx context.Context, tenantID string, date time.Time, startMin, endMin int) ([]model.Appointment, error) {
	rows, err := p.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND date = $2
		  AND status = 'BOOKED'
		  AND int4range(start_min, end_min) && int4range($3, $4)
		ORDER BY start_min, id
	`, tenantID, date, startMin, endMin)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (p *Postgres) Get(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	a, err := scanAppointment(p.conn.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id::text = $2
	`, tenantID, id))
	if db.IsNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) List(ctx context.Context, tenantID string, f ListFilter) ([]model.Appointment, error) {
	var date *time.Time
	if f.Date != "" {
		d, err := dateArg(f.Date)
		if err != nil {
			return nil, err
		}
		date = &d
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	rows, err := p.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND ($2::date IS NULL OR date = $2)
		  AND ($3 = '' OR customer_id = $3)
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY date, start_min, id
	`, tenantID, date, f.CustomerID, statuses)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (p *Postgres) Transition(ctx context.Context, t Transition) (model.Appointment, error) {
	if err := t.validate(); err != nil {
		return model.Appointment{}, err
	}
	var out model.Appointment
	err := db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		var canceledBy *string
		if t.CanceledBy != "" {
			s := string(t.CanceledBy)
			canceledBy = &s
		}
		a, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments SET
				status = $4::text,
				canceled_by = CASE WHEN $4 = 'CANCELED' THEN $5::text ELSE canceled_by END,
				cancel_reason = CASE WHEN $4 = 'CANCELED' THEN $6::text ELSE cancel_reason END,
				canceled_at = CASE WHEN $4 = 'CANCELED' THEN $7::timestamptz ELSE canceled_at END,
				completed_at = CASE WHEN $4 = 'COMPLETED' THEN $7::timestamptz ELSE completed_at END
			WHERE tenant_id = $1 AND id::text = $2 AND status = $3
			RETURNING `+appointmentColumns,
			t.TenantID, t.AppointmentID, string(t.From), string(t.To), canceledBy, t.Reason, t.At.UTC()))
		if db.IsNotFound(err) {
			current, getErr := scanAppointment(tx.QueryRow(ctx, `
				SELECT `+appointmentColumns+`
				FROM appointments
				WHERE tenant_id = $1 AND id::text = $2
			`, t.TenantID, t.AppointmentID))
			if db.IsNotFound(getErr) {
				return ErrNotFound
			}
			if getErr != nil {
				return getErr
			}
			out = current
			return ErrStatusMismatch
		}
		if err != nil {
			return err
		}
		if t.Event != nil {
			evt, err := t.Event(a)
			if err != nil {
				return err
			}
			if err := p.outbox.Insert(ctx, tx, evt); err != nil {
				return fmt.Errorf("outbox insert: %w", err)
			}
		}
		out = a
		return nil
	})
	if errors.Is(err, ErrStatusMismatch) {
		return out, err
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func (p *Postgres) CompleteElapsed(ctx context.Context, tenantID string, now timegrid.LocalNow, at time.Time, evt outbox.EventFunc) ([]model.Appointment, error) {
	today, err := dateArg(now.Date)
	if err != nil {
		return nil, err
	}
	var done []model.Appointment
	err = db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE appointments
			SET status = 'COMPLETED', completed_at = $4
			WHERE tenant_id = $1
			  AND status = 'BOOKED'
			  AND (date < $2 OR (date = $2 AND end_min <= $3))
			RETURNING `+appointmentColumns,
			tenantID, today, now.Minute, at.UTC())
		if err != nil {
			return err
		}
		done, err = collectAppointments(rows)
		if err != nil {
			return err
		}
		if evt == nil {
			return nil
		}
		for _, a := range done {
			e, err := evt(a)
			if err != nil {
				return err
			}
			if err := p.outbox.Insert(ctx, tx, e); err != nil {
				return fmt.Errorf("outbox insert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	var (
		t   model.Tenant
		raw []byte
	)
	err := p.conn.QueryRow(ctx, `
		SELECT id, name, currency, availability, limit_one_upcoming, slot_step_minutes, updated_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Currency, &raw, &t.Policy.LimitCustomerToOneUpcomingAppointment,
		&t.SlotStepMinutes, &t.UpdatedAt)
	if db.IsNotFound(err) {
		return model.Tenant{}, ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, err
	}
	if err := json.Unmarshal(raw, &t.Availability); err != nil {
		return model.Tenant{}, fmt.Errorf("tenant %s availability: %w", tenantID, err)
	}
	return t, nil
}

func (p *Postgres) GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	var (
		s     model.Service
		price string
	)
	err := p.conn.QueryRow(ctx, `
		SELECT tenant_id, id, name, duration_minutes, price::text, is_active
		FROM services
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, serviceID).Scan(&s.TenantID, &s.ID, &s.Name, &s.DurationMinutes, &price, &s.IsActive)
	if db.IsNotFound(err) {
		return model.Service{}, ErrNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	s.Price, err = decimal.NewFromString(price)
	if err != nil {
		return model.Service{}, fmt.Errorf("service %s price: %w", serviceID, err)
	}
	return s, nil
}

func (p *Postgres) GetRelationship(ctx context.Context, tenantID, customerID string) (model.CustomerRelationship, bool, error) {
	var (
		r      model.CustomerRelationship
		status string
	)
	err := p.conn.QueryRow(ctx, `
		SELECT tenant_id, customer_id, status, is_hidden, last_appointment_at
		FROM customer_relationships
		WHERE tenant_id = $1 AND customer_id = $2
	`, tenantID, customerID).Scan(&r.TenantID, &r.CustomerID, &status, &r.IsHidden, &r.LastAppointmentAt)
	if db.IsNotFound(err) {
		return model.CustomerRelationship{}, false, nil
	}
	if err != nil {
		return model.CustomerRelationship{}, false, err
	}
	r.Status = model.RelationshipStatus(status)
	return r, true, nil
}

func (p *Postgres) TouchRelationship(ctx context.Context, tenantID, customerID string, at time.Time) error {
	_, err := p.conn.Exec(ctx, `
		INSERT INTO customer_relationships (tenant_id, customer_id, status, last_appointment_at)
		VALUES ($1, $2, 'ACTIVE', $3)
		ON CONFLICT (tenant_id, customer_id)
		DO UPDATE SET last_appointment_at = GREATEST(customer_relationships.last_appointment_at, EXCLUDED.last_appointment_at)
	`, tenantID, customerID, at.UTC())
	return err
}

func (p *Postgres) PutTenant(ctx context.Context, t model.Tenant, evt outbox.Event) error {
	raw, err := json.Marshal(t.Availability)
	if err != nil {
		return err
	}
	return db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tenants (id, name, currency, availability, limit_one_upcoming, slot_step_minutes, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				currency = EXCLUDED.currency,
				availability = EXCLUDED.availability,
				limit_one_upcoming = EXCLUDED.limit_one_upcoming,
				slot_step_minutes = EXCLUDED.slot_step_minutes,
				updated_at = EXCLUDED.updated_at
		`, t.ID, t.Name, t.Currency, raw, t.Policy.LimitCustomerToOneUpcomingAppointment, t.SlotStepMinutes, t.UpdatedAt.UTC())
		if err != nil {
			return err
		}
		return p.outbox.Insert(ctx, tx, evt)
	})
}

func (p *Postgres) PutService(ctx context.Context, s model.Service, evt outbox.Event) error {
	return db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO services (tenant_id, id, name, duration_minutes, price, is_active)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				name = EXCLUDED.name,
				duration_minutes = EXCLUDED.duration_minutes,
				price = EXCLUDED.price,
				is_active = EXCLUDED.is_active
		`, s.TenantID, s.ID, s.Name, s.DurationMinutes, s.Price.String(), s.IsActive)
		if err != nil {
			return err
		}
		return p.outbox.Insert(ctx, tx, evt)
	})
}

func (p *Postgres) PutRelationship(ctx context.Context, r model.CustomerRelationship, evt outbox.Event) error {
	return db.InTx(ctx, p.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO customer_relationships (tenant_id, customer_id, status, is_hidden)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, customer_id) DO UPDATE SET
				status = EXCLUDED.status,
				is_hidden = EXCLUDED.is_hidden
		`, r.TenantID, r.CustomerID, string(r.Status), r.IsHidden)
		if err != nil {
			return err
		}
		return p.outbox.Insert(ctx, tx, evt)
	})
}
