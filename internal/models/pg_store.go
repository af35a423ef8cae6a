package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS reservations (
	id          TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	date        TEXT NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL,
	total_price DOUBLE PRECISION NOT NULL,
	status      TEXT NOT NULL,
	paid_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reservations_resource_date_status_idx ON reservations (resource_id, date, status);
CREATE INDEX IF NOT EXISTS reservations_user_idx ON reservations (user_id, date DESC);
CREATE INDEX IF NOT EXISTS reservations_status_paid_at_idx ON reservations (status, paid_at);

CREATE TABLE IF NOT EXISTS resource_status (
	resource_id  TEXT PRIMARY KEY,
	availability TEXT NOT NULL,
	lock_seq     BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS checkin_tokens (
	id             TEXT PRIMARY KEY,
	reservation_id TEXT NOT NULL UNIQUE REFERENCES reservations(id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	resource_id    TEXT NOT NULL,
	payload        TEXT NOT NULL,
	consumed       BOOLEAN NOT NULL DEFAULT FALSE,
	consumed_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL
);`

const reservationColumns = `id, resource_id, user_id, date, start_time, end_time, total_price, status, paid_at, created_at, updated_at`

const checkinColumns = `id, reservation_id, user_id, resource_id, payload, consumed, consumed_at, created_at`

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// q returns the transaction bound to ctx by WithResourceTx, or the pool.
func (p *PostgresRepo) q(ctx context.Context) pgQuerier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}

func (p *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithResourceTx takes a row lock on the resource's status row for the whole
// transaction, so concurrent units of work on one resource run one at a time.
func (p *PostgresRepo) WithResourceTx(ctx context.Context, resourceID string, fn func(ctx context.Context) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO resource_status (resource_id, availability) VALUES ($1, $2)
		 ON CONFLICT (resource_id) DO NOTHING`,
		resourceID, string(AvailabilityAvailable),
	)
	if err != nil {
		return fmt.Errorf("init resource status: %w", err)
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`SELECT lock_seq FROM resource_status WHERE resource_id = $1 FOR UPDATE`,
		resourceID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("lock resource row: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE resource_status SET lock_seq = $2 WHERE resource_id = $1`, resourceID, seq+1)
	if err != nil {
		return fmt.Errorf("bump lock_seq: %w", err)
	}

	if err = fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var status string
	err := row.Scan(&r.ID, &r.ResourceID, &r.UserID, &r.Date, &r.StartTime, &r.EndTime,
		&r.TotalPrice, &status, &r.PaidAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = ReservationStatus(status)
	return &r, nil
}

func (p *PostgresRepo) InsertReservation(ctx context.Context, r *Reservation) error {
	_, err := p.q(ctx).Exec(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ResourceID, r.UserID, r.Date, r.StartTime, r.EndTime,
		r.TotalPrice, string(r.Status), r.PaidAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (p *PostgresRepo) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	r, err := scanReservation(p.q(ctx).QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (p *PostgresRepo) queryReservations(ctx context.Context, sql string, args ...any) ([]*Reservation, error) {
	rows, err := p.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var list []*Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (p *PostgresRepo) ListActiveForDate(ctx context.Context, resourceID, date string) ([]*Reservation, error) {
	return p.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE resource_id = $1 AND date = $2 AND status = ANY($3)
		 ORDER BY start_time`,
		resourceID, date, statusStrings(ActiveStatuses),
	)
}

func (p *PostgresRepo) CountActive(ctx context.Context, resourceID string) (int64, error) {
	var n int64
	err := p.q(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM reservations WHERE resource_id = $1 AND status = ANY($2)`,
		resourceID, statusStrings(ActiveStatuses),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active reservations: %w", err)
	}
	return n, nil
}

func (p *PostgresRepo) TransitionStatus(ctx context.Context, id string, from []ReservationStatus, to ReservationStatus, now time.Time) (*Reservation, error) {
	r, err := scanReservation(p.q(ctx).QueryRow(ctx,
		`UPDATE reservations
		 SET status = $3::text,
		     updated_at = $4,
		     paid_at = CASE WHEN $3::text = 'paid' THEN $4::timestamptz ELSE paid_at END
		 WHERE id = $1 AND status = ANY($2)
		 RETURNING `+reservationColumns,
		id, statusStrings(from), string(to), now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.GetReservation(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("update reservation status: %w", err)
	}
	return r, nil
}

func pgFilter(f ReservationFilter) (string, []any) {
	var conds []string
	var args []any
	if f.ResourceID != "" {
		args = append(args, f.ResourceID)
		conds = append(conds, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p *PostgresRepo) ListReservations(ctx context.Context, f ReservationFilter) ([]*Reservation, int64, error) {
	where, args := pgFilter(f)

	var total int64
	if err := p.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reservations: %w", err)
	}

	sql := `SELECT ` + reservationColumns + ` FROM reservations` + where + ` ORDER BY date DESC, start_time ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	list, err := p.queryReservations(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (p *PostgresRepo) ListPending(ctx context.Context) ([]*Reservation, error) {
	return p.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE status = $1`, string(StatusPending))
}

// DeleteReservations relies on ON DELETE CASCADE to drop check-in tokens.
func (p *PostgresRepo) DeleteReservations(ctx context.Context, f ReservationFilter) (int64, error) {
	if f.ResourceID == "" && f.UserID == "" {
		return 0, fmt.Errorf("%w: delete requires a resource or user", ErrValidation)
	}
	where, args := pgFilter(f)
	tag, err := p.q(ctx).Exec(ctx, `DELETE FROM reservations`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresRepo) RevenueByDay(ctx context.Context, from, to time.Time, loc *time.Location) ([]DailyRevenue, error) {
	rows, err := p.q(ctx).Query(ctx,
		`SELECT to_char(paid_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day,
		        SUM(total_price), COUNT(*)
		 FROM reservations
		 WHERE status = 'paid' AND paid_at >= $1 AND paid_at < $2
		 GROUP BY day
		 ORDER BY day`,
		from, to, loc.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("revenue by day: %w", err)
	}
	defer rows.Close()

	var out []DailyRevenue
	for rows.Next() {
		var d DailyRevenue
		if err := rows.Scan(&d.Date, &d.Revenue, &d.Bookings); err != nil {
			return nil, fmt.Errorf("scan revenue: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) GetAvailability(ctx context.Context, resourceID string) (*ResourceStatus, error) {
	var st ResourceStatus
	var availability string
	var updatedAt *time.Time
	err := p.q(ctx).QueryRow(ctx,
		`SELECT resource_id, availability, lock_seq, updated_at FROM resource_status WHERE resource_id = $1`,
		resourceID,
	).Scan(&st.ResourceID, &availability, &st.LockSeq, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get resource status: %w", err)
	}
	st.Availability = Availability(availability)
	if updatedAt != nil {
		st.UpdatedAt = *updatedAt
	}
	return &st, nil
}

func (p *PostgresRepo) SetAvailability(ctx context.Context, resourceID string, a Availability, now time.Time) error {
	_, err := p.q(ctx).Exec(ctx,
		`INSERT INTO resource_status (resource_id, availability, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (resource_id) DO UPDATE SET availability = EXCLUDED.availability, updated_at = EXCLUDED.updated_at`,
		resourceID, string(a), now,
	)
	if err != nil {
		return fmt.Errorf("set resource status: %w", err)
	}
	return nil
}

func scanCheckin(row pgx.Row) (*CheckinToken, error) {
	var t CheckinToken
	err := row.Scan(&t.ID, &t.ReservationID, &t.UserID, &t.ResourceID, &t.Payload,
		&t.Consumed, &t.ConsumedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresRepo) GetCheckin(ctx context.Context, reservationID string) (*CheckinToken, error) {
	t, err := scanCheckin(p.q(ctx).QueryRow(ctx,
		`SELECT `+checkinColumns+` FROM checkin_tokens WHERE reservation_id = $1`, reservationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get checkin: %w", err)
	}
	return t, nil
}

func (p *PostgresRepo) InsertCheckin(ctx context.Context, t *CheckinToken) error {
	_, err := p.q(ctx).Exec(ctx,
		`INSERT INTO checkin_tokens (`+checkinColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.ReservationID, t.UserID, t.ResourceID, t.Payload, t.Consumed, t.ConsumedAt, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTokenExists
		}
		return fmt.Errorf("insert checkin: %w", err)
	}
	return nil
}

func (p *PostgresRepo) ConsumeCheckin(ctx context.Context, reservationID string, now time.Time) (*CheckinToken, error) {
	t, err := scanCheckin(p.q(ctx).QueryRow(ctx,
		`UPDATE checkin_tokens SET consumed = TRUE, consumed_at = $2
		 WHERE reservation_id = $1 AND consumed = FALSE
		 RETURNING `+checkinColumns,
		reservationID, now,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume checkin: %w", err)
	}
	existing, err := p.GetCheckin(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return nil, consumedError(existing)
}
