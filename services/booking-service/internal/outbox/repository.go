package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Record is an outbox row awaiting publication.
type Record struct {
	Seq int64
	Event
}

// Repository reads and writes outbox_events. Every method runs on the
// caller's transaction so events commit with the change they describe.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	createdAt := evt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events
			(event_id, aggregate_type, aggregate_id, tenant_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.TenantID, evt.EventType, evt.Payload,
		nullable(evt.Traceparent), nullable(evt.Tracestate), createdAt)
	return err
}

// FetchUnpublished locks up to limit rows so concurrent publishers skip them.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT seq, event_id, aggregate_type, aggregate_id, tenant_id, event_type, payload,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.TenantID,
			&rec.EventType, &rec.Payload, &rec.Traceparent, &rec.Tracestate, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events SET published_at = now() WHERE seq = ANY($1)
	`, seqs)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
