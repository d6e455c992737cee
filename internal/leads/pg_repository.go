package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db rowQuerier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PgRepository{db: pool}
}

func newPgRepositoryWithQuerier(q rowQuerier) *PgRepository {
	return &PgRepository{db: q}
}

const leadColumns = `id, name, phone, reason, preferred_time_text, contact_preference, source, status, appointment_id, idempotency_key, created_at, updated_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Phone,
		&l.Reason,
		&l.PreferredTime,
		&l.ContactPreference,
		&l.Source,
		&l.Status,
		&l.AppointmentID,
		&l.IdempotencyKey,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *PgRepository) Create(ctx context.Context, lead *Lead) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		INSERT INTO public_booking_leads (id, name, phone, reason, preferred_time_text, contact_preference, source, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, lead.ID, lead.Name, lead.Phone, lead.Reason, lead.PreferredTime, lead.ContactPreference, lead.Source, lead.Status, lead.IdempotencyKey)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *PgRepository) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM public_booking_leads WHERE idempotency_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup lead key: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM public_booking_leads
		WHERE id = $1
	`, id))
	if err != nil && !errors.Is(err, ErrLeadNotFound) {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, err
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Lead, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+leadColumns+`
			FROM public_booking_leads
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, *f.Status, f.limit())
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+leadColumns+`
			FROM public_booking_leads
			ORDER BY created_at DESC
			LIMIT $1
		`, f.limit())
	}
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var result []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		result = append(result, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, `
		UPDATE public_booking_leads
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns,
		id, status))
	if err != nil && !errors.Is(err, ErrLeadNotFound) {
		return nil, fmt.Errorf("update lead status: %w", err)
	}
	return lead, err
}

func (r *PgRepository) LinkToAppointment(ctx context.Context, id, appointmentID uuid.UUID) (*Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx, `
		UPDATE public_booking_leads
		SET appointment_id = $2,
		    status = 'confirmed',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+leadColumns,
		id, appointmentID))
	if err != nil && !errors.Is(err, ErrLeadNotFound) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("link lead to appointment: %w", err)
	}
	return lead, err
}
