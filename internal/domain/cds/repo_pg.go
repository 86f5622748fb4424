package cds

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cdss/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== CDS Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, patient_id, alert_type, severity, title, message, recommendation,
	linked_prescription_id, linked_order_id, related_order_id, dismissed, actioned, created_at`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var severity string
	err := row.Scan(&a.ID, &a.PatientID, &a.Type, &severity, &a.Title, &a.Message, &a.Recommendation,
		&a.LinkedPrescriptionID, &a.LinkedOrderID, &a.RelatedOrderID, &a.Dismissed, &a.Actioned, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if a.Severity, err = ParseSeverity(severity); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *alertRepoPG) Add(ctx context.Context, a *Alert) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cds_alert (id, patient_id, alert_type, severity, title, message, recommendation,
			linked_prescription_id, linked_order_id, related_order_id, dismissed, actioned, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.PatientID, string(a.Type), a.Severity.String(), a.Title, a.Message, a.Recommendation,
		a.LinkedPrescriptionID, a.LinkedOrderID, a.RelatedOrderID, a.Dismissed, a.Actioned, a.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) Dismiss(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE cds_alert SET dismissed = TRUE WHERE id = $1`, id)
	return err
}

func (r *alertRepoPG) Act(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE cds_alert SET actioned = TRUE WHERE id = $1`, id)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, bool, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM cds_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

func (r *alertRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return r.list(ctx, `SELECT `+alertCols+` FROM cds_alert WHERE patient_id = $1 ORDER BY created_at, seq`, patientID)
}

func (r *alertRepoPG) ActiveFor(ctx context.Context, patientID uuid.UUID) ([]*Alert, error) {
	return r.list(ctx, `SELECT `+alertCols+` FROM cds_alert WHERE patient_id = $1 AND NOT dismissed ORDER BY created_at, seq`, patientID)
}

func (r *alertRepoPG) ActiveForPrescription(ctx context.Context, prescriptionID uuid.UUID) ([]*Alert, error) {
	return r.list(ctx, `SELECT `+alertCols+` FROM cds_alert WHERE linked_prescription_id = $1 AND NOT dismissed ORDER BY created_at, seq`, prescriptionID)
}

func (r *alertRepoPG) ActiveForOrder(ctx context.Context, orderID uuid.UUID) ([]*Alert, error) {
	return r.list(ctx, `SELECT `+alertCols+` FROM cds_alert WHERE linked_order_id = $1 AND NOT dismissed ORDER BY created_at, seq`, orderID)
}

func (r *alertRepoPG) list(ctx context.Context, query string, arg uuid.UUID) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
